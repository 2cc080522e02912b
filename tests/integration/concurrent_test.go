package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
	"github.com/iho/splitledger/tests/testutil"
)

func TestConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	s := db.NewStack()

	owner, a, b := testutil.Address(1), testutil.Address(2), testutil.Address(3)
	ledger := s.CreateProtocol(t, ctx, owner)
	split := s.CreateSplit(t, ctx, ledger.ID, owner, []domain.Address{a, b}, []int64{50, 50})

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Distribution.Deposit(ctx, usecase.DepositInput{
				LedgerID: ledger.ID,
				SplitID:  split.ID,
				Sender:   testutil.Address(100 + i),
				Amount:   decimal.NewFromInt(10000),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
	}

	stored, err := s.Splits.GetSplit(ctx, ledger.ID, split.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.PendingBalance.Equal(decimal.NewFromInt(workers * 9900)) {
		t.Fatalf("lost update: expected pending %d, got %s", workers*9900, stored.PendingBalance)
	}
	if !stored.PendingFees.Equal(decimal.NewFromInt(workers * 100)) {
		t.Fatalf("lost update: expected fees %d, got %s", workers*100, stored.PendingFees)
	}

	state, err := s.Fees.GetFeeState(ctx, ledger.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !state.FeesWithdrawable.Equal(decimal.NewFromInt(workers * 100)) {
		t.Fatalf("expected withdrawable %d, got %s", workers*100, state.FeesWithdrawable)
	}
}

func TestConcurrentSplitCreationAssignsDenseIDs(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	s := db.NewStack()

	owner := testutil.Address(1)
	ledger := s.CreateProtocol(t, ctx, owner)

	const workers = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			split, err := s.Splits.CreateSplit(ctx, usecase.CreateSplitInput{
				LedgerID: ledger.ID,
				Caller:   owner,
				Name:     "split",
				Holders:  []string{testutil.Address(200 + i).String()},
				Shares:   []int64{100},
			})
			if err != nil {
				t.Errorf("create split failed: %v", err)
				return
			}
			mu.Lock()
			ids[split.ID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for id := int64(0); id < workers; id++ {
		if !ids[id] {
			t.Fatalf("split id %d missing from %v", id, ids)
		}
	}
}
