package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

func TestDepositAndDistribute_SixtyForty(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()

	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 60, 40)
	assert.Equal(t, int64(0), split.ID)

	dep, err := env.distribution.Deposit(ctx, usecase.DepositInput{
		LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(99), Amount: units("1"),
	})
	require.NoError(t, err)
	assert.True(t, dep.Fee.Equal(units("0.01")))
	assert.True(t, dep.Net.Equal(units("0.99")))
	assert.True(t, dep.Split.PendingBalance.Equal(units("0.99")))

	state, err := env.fees.GetFeeState(ctx, ledger.ID)
	require.NoError(t, err)
	assert.True(t, state.TotalFeesCollected.Equal(units("0.01")))
	assert.True(t, state.FeesWithdrawable.Equal(units("0.01")))

	claimable, err := env.distribution.GetClaimable(ctx, ledger.ID, split.ID, addr(1))
	require.NoError(t, err)
	assert.True(t, claimable.Equal(units("0.594")))

	result, err := env.distribution.Distribute(ctx, ledger.ID, split.ID, addr(77))
	require.NoError(t, err)
	assert.True(t, result.Total.Equal(units("0.99")))
	assert.True(t, result.Fee.Equal(units("0.01")))
	require.Len(t, result.Payouts, 2)
	assert.True(t, result.Payouts[0].Amount.Equal(units("0.594")))
	assert.True(t, result.Payouts[1].Amount.Equal(units("0.396")))

	assert.True(t, env.bank.Balance(addr(1)).Equal(claimable), "claimable must equal the actual payout")
	assert.True(t, env.bank.Balance(addr(2)).Equal(units("0.396")))

	after, err := env.splits.GetSplit(ctx, ledger.ID, split.ID)
	require.NoError(t, err)
	assert.True(t, after.PendingBalance.IsZero())
	assert.True(t, after.TotalDistributed.Equal(units("0.99")))
	assert.True(t, after.Holders[0].Claimed.Equal(units("0.594")))

	stored, err := env.factory.GetProtocol(ctx, ledger.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalDistributed.Equal(units("0.99")))

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Distributions))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Deposits))
}

func TestDistribute_NothingToDistributeLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()

	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 50, 50)

	_, err := env.distribution.Distribute(ctx, ledger.ID, split.ID, addr(1))
	assert.ErrorIs(t, err, domain.ErrNothingToDistribute)

	after, err := env.splits.GetSplit(ctx, ledger.ID, split.ID)
	require.NoError(t, err)
	assert.True(t, after.TotalDistributed.IsZero())

	events, err := env.consistency.ListEvents(ctx, ledger.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2, "only protocol and split creation are recorded")

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.DistributionErrors.WithLabelValues("distribute_nothing_to_distribute")))
}

func TestDistribute_TransferFailureRollsBackThenRetrySucceeds(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()

	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 1, 99)

	_, err := env.distribution.Deposit(ctx, usecase.DepositInput{
		LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(50), Amount: decimal.NewFromInt(10100),
	})
	require.NoError(t, err)

	env.bank.Reject(addr(2))
	_, err = env.distribution.Distribute(ctx, ledger.ID, split.ID, addr(50))
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	unchanged, err := env.splits.GetSplit(ctx, ledger.ID, split.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.PendingBalance.Equal(decimal.NewFromInt(9999)))
	assert.True(t, unchanged.Holders[0].Claimed.IsZero())
	assert.True(t, env.bank.Balance(addr(1)).IsZero())

	env.bank.Accept(addr(2))
	result, err := env.distribution.Distribute(ctx, ledger.ID, split.ID, addr(50))
	require.NoError(t, err)

	// floor(9999 * 1 / 100) = 99, remainder to the last holder
	assert.True(t, result.Payouts[0].Amount.Equal(decimal.NewFromInt(99)))
	assert.True(t, result.Payouts[1].Amount.Equal(decimal.NewFromInt(9900)))
}

func TestDeposit_Errors(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()

	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 100)

	_, err := env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: 42, Sender: addr(5), Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrSplitNotFound)

	_, err = env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(5), Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.splits.DeactivateSplit(ctx, ledger.ID, split.ID, addr(123))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.splits.DeactivateSplit(ctx, ledger.ID, split.ID, owner)
	require.NoError(t, err)

	_, err = env.splits.DeactivateSplit(ctx, ledger.ID, split.ID, owner)
	assert.ErrorIs(t, err, domain.ErrSplitInactive)

	_, err = env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(5), Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrSplitInactive)
}

func TestDeposit_RejectsOversizedAmountPromptly(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()

	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 100)

	huge := decimal.RequireFromString("1e200000000")
	done := make(chan error, 2)
	go func() {
		_, err := env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(5), Amount: huge})
		done <- err
	}()
	go func() {
		_, err := env.factory.CreateProtocol(ctx, usecase.CreateProtocolInput{Caller: owner, Name: "huge", Payment: huge})
		done <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		case <-time.After(5 * time.Second):
			t.Fatal("oversized amount was not rejected within 5s")
		}
	}

	// The split stays usable.
	res, err := env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(5), Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.True(t, res.Split.PendingBalance.Equal(decimal.NewFromInt(99)))
}

func TestInactiveSplitCanStillDistribute(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()

	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 100)

	_, err := env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(5), Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	_, err = env.splits.DeactivateSplit(ctx, ledger.ID, split.ID, owner)
	require.NoError(t, err)

	result, err := env.distribution.Distribute(ctx, ledger.ID, split.ID, addr(5))
	require.NoError(t, err)
	assert.True(t, result.Total.Equal(decimal.NewFromInt(990)))
}

func TestCreateSplit_SequentialIDsAndValidation(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()
	ledger := env.createProtocol(t)

	first := env.createSplit(t, ledger.ID, 50, 50)
	second := env.createSplit(t, ledger.ID, 100)
	assert.Equal(t, int64(0), first.ID)
	assert.Equal(t, int64(1), second.ID)

	tests := []struct {
		name    string
		holders []string
		shares  []int64
		want    error
	}{
		{"empty", nil, nil, domain.ErrNoHolders},
		{"length mismatch", []string{addr(1).String()}, []int64{50, 50}, domain.ErrInvalidHolderSet},
		{"sum mismatch", []string{addr(1).String(), addr(2).String()}, []int64{50, 49}, domain.ErrShareSumMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.splits.CreateSplit(ctx, usecase.CreateSplitInput{
				LedgerID: ledger.ID, Caller: owner, Name: "bad", Holders: tt.holders, Shares: tt.shares,
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := env.splits.CreateSplit(ctx, usecase.CreateSplitInput{
		LedgerID: "missing", Caller: owner, Name: "x", Holders: []string{addr(1).String()}, Shares: []int64{100},
	})
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)

	list, err := env.splits.ListSplits(ctx, ledger.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2, "failed creations must not allocate IDs")

	holders, err := env.splits.GetHolders(ctx, ledger.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, addr(1), holders[0].Address)

	_, err = env.distribution.GetClaimable(ctx, ledger.ID, first.ID, addr(9))
	assert.ErrorIs(t, err, domain.ErrHolderNotFound)
}

func TestFees_SetAndWithdraw(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()
	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 100)

	_, err := env.fees.SetProtocolFee(ctx, ledger.ID, addr(1), 200)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.fees.SetProtocolFee(ctx, ledger.ID, owner, 600)
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)

	_, err = env.fees.WithdrawFees(ctx, ledger.ID, owner)
	assert.ErrorIs(t, err, domain.ErrNoFeesAvailable)

	state, err := env.fees.SetProtocolFee(ctx, ledger.ID, owner, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), state.FeeRateBps)

	dep, err := env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(5), Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	assert.True(t, dep.Fee.Equal(decimal.NewFromInt(50)))

	_, err = env.fees.WithdrawFees(ctx, ledger.ID, addr(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	env.bank.Reject(owner)
	_, err = env.fees.WithdrawFees(ctx, ledger.ID, owner)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	env.bank.Accept(owner)

	amount, err := env.fees.WithdrawFees(ctx, ledger.ID, owner)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, env.bank.Balance(owner).Equal(decimal.NewFromInt(50)))

	state, err = env.fees.GetFeeState(ctx, ledger.ID)
	require.NoError(t, err)
	assert.True(t, state.FeesWithdrawable.IsZero())
	assert.True(t, state.TotalFeesCollected.Equal(decimal.NewFromInt(50)))
}

func TestConcurrentDepositsLoseNoUpdates(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()
	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 60, 40)

	const workers = 20
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := env.distribution.Deposit(ctx, usecase.DepositInput{
					LedgerID: ledger.ID, SplitID: split.ID, Sender: addr(100 + w), Amount: decimal.NewFromInt(10000),
				})
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	after, err := env.splits.GetSplit(ctx, ledger.ID, split.ID)
	require.NoError(t, err)
	// 200 deposits of 10000 with a 100 bps fee
	assert.True(t, after.PendingBalance.Equal(decimal.NewFromInt(200*9900)), "pending %s", after.PendingBalance)
	assert.True(t, after.PendingFees.Equal(decimal.NewFromInt(200*100)))

	state, err := env.fees.GetFeeState(ctx, ledger.ID)
	require.NoError(t, err)
	assert.True(t, state.TotalFeesCollected.Equal(decimal.NewFromInt(200*100)))

	report, err := env.consistency.CheckLedger(ctx, ledger.ID)
	require.NoError(t, err)
	assert.True(t, report.IsConsistent, "mismatches: %v", report.Mismatches)
	assert.Equal(t, 2+workers*perWorker, report.EventCount)
}

func TestConsistency_ReplayReproducesState(t *testing.T) {
	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()
	ledger := env.createProtocol(t)
	a := env.createSplit(t, ledger.ID, 33, 33, 34)
	b := env.createSplit(t, ledger.ID, 100)

	for _, amount := range []int64{1001, 77, 123456789} {
		_, err := env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: a.ID, Sender: addr(9), Amount: decimal.NewFromInt(amount)})
		require.NoError(t, err)
	}
	_, err := env.distribution.Distribute(ctx, ledger.ID, a.ID, addr(9))
	require.NoError(t, err)
	_, err = env.distribution.Deposit(ctx, usecase.DepositInput{LedgerID: ledger.ID, SplitID: b.ID, Sender: addr(9), Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)
	_, err = env.fees.SetProtocolFee(ctx, ledger.ID, owner, 0)
	require.NoError(t, err)
	_, err = env.fees.WithdrawFees(ctx, ledger.ID, owner)
	require.NoError(t, err)
	_, err = env.splits.DeactivateSplit(ctx, ledger.ID, b.ID, owner)
	require.NoError(t, err)

	report, err := env.consistency.CheckLedger(ctx, ledger.ID)
	require.NoError(t, err)
	assert.True(t, report.IsConsistent, "mismatches: %v", report.Mismatches)
	assert.Equal(t, int64(2), report.SplitCount)

	events, err := env.consistency.ListEvents(ctx, ledger.ID, 0, 1000)
	require.NoError(t, err)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}
	assert.Equal(t, domain.EventTypeProtocolCreated, events[0].EventType)

	_, err = env.consistency.CheckLedger(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
}

func TestFactory(t *testing.T) {
	fee := units("0.01")
	env := newTestEnv(t, fee)
	ctx := context.Background()

	_, err := env.factory.CreateProtocol(ctx, usecase.CreateProtocolInput{Caller: owner, Name: "cheap", Payment: units("0.009")})
	assert.ErrorIs(t, err, domain.ErrInsufficientFee)

	first, err := env.factory.CreateProtocol(ctx, usecase.CreateProtocolInput{Caller: owner, Name: "one", Payment: fee})
	require.NoError(t, err)
	assert.Equal(t, owner, first.Owner)
	assert.Equal(t, int64(domain.DefaultProtocolFeeBps), first.FeeRateBps)

	_, err = env.factory.CreateProtocol(ctx, usecase.CreateProtocolInput{Caller: addr(5), Name: "two", Payment: units("0.02")})
	require.NoError(t, err)

	byOwner, err := env.factory.ListProtocolsByCreator(ctx, owner)
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, first.ID, byOwner[0].ID)

	all, err := env.factory.ListProtocols(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stats, err := env.factory.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ProtocolCount)
	assert.True(t, stats.TotalCreationFees.Equal(units("0.03")))
	assert.True(t, stats.CreationFee.Equal(fee))

	_, err = env.factory.GetProtocol(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)

	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.ProtocolsCreated))
}
