package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
	"github.com/iho/splitledger/internal/usecase/mocks"
)

func newMockSplit(t *testing.T, pending int64) *domain.Split {
	t.Helper()
	holders, err := domain.NewHolderSet([]string{addr(1).String(), addr(2).String()}, []int64{60, 40})
	if err != nil {
		t.Fatalf("NewHolderSet: %v", err)
	}
	return &domain.Split{
		LedgerID:         "L1",
		ID:               0,
		Creator:          owner,
		TotalShares:      domain.TotalShares,
		TotalDistributed: decimal.Zero,
		PendingBalance:   decimal.NewFromInt(pending),
		PendingFees:      decimal.NewFromInt(1),
		Active:           true,
		Holders:          holders,
	}
}

func TestDistributionUseCase_DistributePayerFailureSkipsWrites(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	txMgr := mocks.NewMockTransactionManager(ctrl)
	reserveTx := mocks.NewMockTransaction(ctrl)
	releaseTx := mocks.NewMockTransaction(ctrl)
	splitRepo := mocks.NewMockSplitRepository(ctrl)
	payoutRepo := mocks.NewMockPayoutRepository(ctrl)
	idGen := mocks.NewMockIDGenerator(ctrl)
	payer := mocks.NewMockPayer(ctrl)

	var reserved *domain.PayoutIntent
	txMgr.EXPECT().Begin(gomock.Any()).Return(reserveTx, nil)
	txMgr.EXPECT().Begin(gomock.Any()).Return(releaseTx, nil)
	gomock.InOrder(
		splitRepo.EXPECT().GetByIDForUpdate(gomock.Any(), reserveTx, "L1", int64(0)).Return(newMockSplit(t, 100), nil),
		payoutRepo.EXPECT().GetOpen(gomock.Any(), reserveTx, "L1", int64(0)).Return(nil, domain.ErrPayoutNotFound),
		idGen.EXPECT().Generate().Return("ref-1"),
		payoutRepo.EXPECT().Create(gomock.Any(), reserveTx, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ usecase.Transaction, p *domain.PayoutIntent) error {
				if p.Reference != "ref-1" || !p.Total.Equal(decimal.NewFromInt(100)) || !p.Fee.Equal(decimal.NewFromInt(1)) {
					t.Errorf("unexpected intent %+v", p)
				}
				c := *p
				reserved = &c
				return nil
			}),
		reserveTx.EXPECT().Commit(gomock.Any()).Return(nil),
		payer.EXPECT().Pay(gomock.Any(), "ref-1", gomock.Len(2)).Return(errors.New("bank offline")),
		splitRepo.EXPECT().GetByIDForUpdate(gomock.Any(), releaseTx, "L1", int64(0)).Return(newMockSplit(t, 100), nil),
		payoutRepo.EXPECT().GetOpen(gomock.Any(), releaseTx, "L1", int64(0)).DoAndReturn(
			func(context.Context, usecase.Transaction, string, int64) (*domain.PayoutIntent, error) {
				return reserved, nil
			}),
		payoutRepo.EXPECT().Delete(gomock.Any(), releaseTx, gomock.Any()).Return(nil),
		releaseTx.EXPECT().Commit(gomock.Any()).Return(nil),
	)
	reserveTx.EXPECT().Rollback(gomock.Any()).Return(nil)
	releaseTx.EXPECT().Rollback(gomock.Any()).Return(nil)

	// No ledger lock, split Update or outbox Create calls are expected.
	uc := usecase.NewDistributionUseCase(txMgr, nil, splitRepo, nil, payoutRepo, idGen, nil, payer, nil, nil)

	_, err := uc.Distribute(context.Background(), "L1", 0, addr(9))
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestDistributionUseCase_DistributeLocksSplitBeforeLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	txMgr := mocks.NewMockTransactionManager(ctrl)
	reserveTx := mocks.NewMockTransaction(ctrl)
	settleTx := mocks.NewMockTransaction(ctrl)
	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)
	splitRepo := mocks.NewMockSplitRepository(ctrl)
	outboxRepo := mocks.NewMockOutboxRepository(ctrl)
	payoutRepo := mocks.NewMockPayoutRepository(ctrl)
	idGen := mocks.NewMockIDGenerator(ctrl)
	payer := mocks.NewMockPayer(ctrl)
	cache := mocks.NewMockCache(ctrl)

	var reserved *domain.PayoutIntent
	txMgr.EXPECT().Begin(gomock.Any()).Return(reserveTx, nil)
	txMgr.EXPECT().Begin(gomock.Any()).Return(settleTx, nil)
	gomock.InOrder(
		splitRepo.EXPECT().GetByIDForUpdate(gomock.Any(), reserveTx, "L1", int64(0)).Return(newMockSplit(t, 100), nil),
		payoutRepo.EXPECT().GetOpen(gomock.Any(), reserveTx, "L1", int64(0)).Return(nil, domain.ErrPayoutNotFound),
		idGen.EXPECT().Generate().Return("ref-1"),
		payoutRepo.EXPECT().Create(gomock.Any(), reserveTx, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ usecase.Transaction, p *domain.PayoutIntent) error {
				c := *p
				reserved = &c
				return nil
			}),
		reserveTx.EXPECT().Commit(gomock.Any()).Return(nil),
		payer.EXPECT().Pay(gomock.Any(), "ref-1", gomock.Any()).Return(nil),
		// A deposit of 50 landed while the batch was in flight.
		splitRepo.EXPECT().GetByIDForUpdate(gomock.Any(), settleTx, "L1", int64(0)).Return(newMockSplit(t, 150), nil),
		payoutRepo.EXPECT().GetOpen(gomock.Any(), settleTx, "L1", int64(0)).DoAndReturn(
			func(context.Context, usecase.Transaction, string, int64) (*domain.PayoutIntent, error) {
				return reserved, nil
			}),
		ledgerRepo.EXPECT().GetByIDForUpdate(gomock.Any(), settleTx, "L1").Return(&domain.Ledger{ID: "L1", Owner: owner, TotalDistributed: decimal.Zero}, nil),
		splitRepo.EXPECT().Update(gomock.Any(), settleTx, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ usecase.Transaction, s *domain.Split) error {
				if !s.PendingBalance.Equal(decimal.NewFromInt(50)) || !s.TotalDistributed.Equal(decimal.NewFromInt(100)) {
					t.Errorf("unexpected split state written: %+v", s)
				}
				return nil
			}),
		ledgerRepo.EXPECT().Update(gomock.Any(), settleTx, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ usecase.Transaction, l *domain.Ledger) error {
				if !l.TotalDistributed.Equal(decimal.NewFromInt(100)) {
					t.Errorf("expected ledger total distributed 100, got %s", l.TotalDistributed)
				}
				return nil
			}),
		payoutRepo.EXPECT().Delete(gomock.Any(), settleTx, gomock.Any()).Return(nil),
		idGen.EXPECT().Generate().Return("evt-1"),
		outboxRepo.EXPECT().Create(gomock.Any(), settleTx, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ usecase.Transaction, e *domain.OutboxEvent) error {
				if e.EventType != domain.EventTypeFundsDistributed || e.AggregateID != "L1/0" {
					t.Errorf("unexpected event %s for %s", e.EventType, e.AggregateID)
				}
				var p domain.FundsDistributedEvent
				if err := e.DecodePayload(&p); err != nil {
					t.Fatalf("decode payload: %v", err)
				}
				if p.Amount != "100" || p.Fee != "1" || len(p.Payouts) != 2 || p.Reference != "ref-1" {
					t.Errorf("unexpected payload %+v", p)
				}
				return nil
			}),
		settleTx.EXPECT().Commit(gomock.Any()).Return(nil),
		cache.EXPECT().Delete(gomock.Any(), "split:L1:0").Return(nil),
	)
	reserveTx.EXPECT().Rollback(gomock.Any()).Return(nil)
	settleTx.EXPECT().Rollback(gomock.Any()).Return(nil)

	uc := usecase.NewDistributionUseCase(txMgr, ledgerRepo, splitRepo, outboxRepo, payoutRepo, idGen, nil, payer, cache, nil)

	result, err := uc.Distribute(context.Background(), "L1", 0, addr(9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Payouts[0].Amount.Equal(decimal.NewFromInt(60)) || !result.Payouts[1].Amount.Equal(decimal.NewFromInt(40)) {
		t.Errorf("unexpected payouts %+v", result.Payouts)
	}
}

func TestDistributionUseCase_DistributeWaitsForOpenPayout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	txMgr := mocks.NewMockTransactionManager(ctrl)
	tx := mocks.NewMockTransaction(ctrl)
	splitRepo := mocks.NewMockSplitRepository(ctrl)
	payoutRepo := mocks.NewMockPayoutRepository(ctrl)

	open := domain.NewPayoutIntent("ref-0", "L1", 0, decimal.NewFromInt(100), decimal.NewFromInt(1), time.Now().UTC())
	txMgr.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	tx.EXPECT().Rollback(gomock.Any()).Return(nil)
	splitRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, "L1", int64(0)).Return(newMockSplit(t, 100), nil)
	payoutRepo.EXPECT().GetOpen(gomock.Any(), tx, "L1", int64(0)).Return(open, nil)

	// The payer must not be called while another attempt owns the batch.
	uc := usecase.NewDistributionUseCase(txMgr, nil, splitRepo, nil, payoutRepo, nil, nil, nil, nil, nil)

	_, err := uc.Distribute(context.Background(), "L1", 0, addr(9))
	if !errors.Is(err, domain.ErrPayoutInProgress) {
		t.Fatalf("expected ErrPayoutInProgress, got %v", err)
	}
}

func TestDistributionUseCase_DepositRetriesThroughRetrier(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	txMgr := mocks.NewMockTransactionManager(ctrl)
	retrier := mocks.NewMockRetrier(ctrl)
	splitRepo := mocks.NewMockSplitRepository(ctrl)
	tx := mocks.NewMockTransaction(ctrl)

	conflict := errors.New("serialization failure")
	retrier.EXPECT().Retry(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, op func() error) error {
			if err := op(); !errors.Is(err, conflict) {
				t.Fatalf("expected first attempt to fail with conflict, got %v", err)
			}
			return op()
		})
	txMgr.EXPECT().Begin(gomock.Any()).Return(tx, nil).Times(2)
	tx.EXPECT().Rollback(gomock.Any()).Return(nil).Times(2)
	splitRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, "L1", int64(3)).Return(nil, conflict)
	splitRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, "L1", int64(3)).Return(nil, domain.ErrSplitNotFound)

	uc := usecase.NewDistributionUseCase(txMgr, nil, splitRepo, nil, nil, nil, retrier, nil, nil, nil)

	_, err := uc.Deposit(context.Background(), usecase.DepositInput{
		LedgerID: "L1", SplitID: 3, Sender: addr(1), Amount: decimal.NewFromInt(10),
	})
	if !errors.Is(err, domain.ErrSplitNotFound) {
		t.Fatalf("expected ErrSplitNotFound after retry, got %v", err)
	}
}

func TestDistributionUseCase_DepositRejectsMissingSender(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No transaction may be opened.
	txMgr := mocks.NewMockTransactionManager(ctrl)
	uc := usecase.NewDistributionUseCase(txMgr, nil, nil, nil, nil, nil, nil, nil, nil, nil)

	_, err := uc.Deposit(context.Background(), usecase.DepositInput{LedgerID: "L1", Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDistributionUseCase_GetClaimableEmptyPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	splitRepo := mocks.NewMockSplitRepository(ctrl)
	splitRepo.EXPECT().GetByID(gomock.Any(), "L1", int64(0)).Return(newMockSplit(t, 0), nil)

	uc := usecase.NewDistributionUseCase(nil, nil, splitRepo, nil, nil, nil, nil, nil, nil, nil)

	amount, err := uc.GetClaimable(context.Background(), "L1", 0, addr(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.IsZero() {
		t.Errorf("expected zero claimable, got %s", amount)
	}
}
