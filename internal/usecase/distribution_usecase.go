package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

// DistributionUseCase accepts deposits into splits and pays out pending balances.
type DistributionUseCase struct {
	txManager  TransactionManager
	ledgerRepo LedgerRepository
	splitRepo  SplitRepository
	outboxRepo OutboxRepository
	payoutRepo PayoutRepository
	idGen      IDGenerator
	retrier    Retrier
	payer      Payer
	cache      Cache
	metrics    *metrics.Metrics
}

func NewDistributionUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	splitRepo SplitRepository,
	outboxRepo OutboxRepository,
	payoutRepo PayoutRepository,
	idGen IDGenerator,
	retrier Retrier,
	payer Payer,
	cache Cache,
	metrics *metrics.Metrics,
) *DistributionUseCase {
	return &DistributionUseCase{
		txManager:  txManager,
		ledgerRepo: ledgerRepo,
		splitRepo:  splitRepo,
		outboxRepo: outboxRepo,
		payoutRepo: payoutRepo,
		idGen:      idGen,
		retrier:    retrier,
		payer:      payer,
		cache:      cache,
		metrics:    metrics,
	}
}

// DepositInput contains input for depositing into a split.
type DepositInput struct {
	LedgerID string
	SplitID  int64
	Sender   domain.Address
	Amount   decimal.Decimal
}

// DepositResult is the outcome of a deposit.
type DepositResult struct {
	Split  *domain.Split
	Amount decimal.Decimal
	Fee    decimal.Decimal
	Net    decimal.Decimal
}

// Deposit credits a split with amount less the ledger's protocol fee.
func (uc *DistributionUseCase) Deposit(ctx context.Context, input DepositInput) (*DepositResult, error) {
	start := time.Now()

	if err := validateCaller(input.Sender); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(input.Amount); err != nil {
		return nil, err
	}

	var result *DepositResult
	err := withRetry(ctx, uc.retrier, func() error {
		var err error
		result, err = uc.deposit(ctx, input)
		return err
	})
	if err != nil {
		uc.recordError("deposit", err)
		return nil, err
	}

	invalidateSplit(ctx, uc.cache, input.LedgerID, input.SplitID)

	if uc.metrics != nil {
		uc.metrics.Deposits.Inc()
		uc.metrics.DepositAmount.Observe(result.Amount.InexactFloat64())
		uc.metrics.FeesAccrued.Add(result.Fee.InexactFloat64())
		uc.metrics.OperationDuration.WithLabelValues("deposit").Observe(time.Since(start).Seconds())
	}

	return result, nil
}

func (uc *DistributionUseCase) deposit(ctx context.Context, input DepositInput) (*DepositResult, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	// Lock split first, then its ledger
	split, err := uc.splitRepo.GetByIDForUpdate(txCtx, tx, input.LedgerID, input.SplitID)
	if err != nil {
		return nil, err
	}
	if err := split.ValidateDeposit(input.Amount); err != nil {
		return nil, err
	}

	ledger, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, input.LedgerID)
	if err != nil {
		return nil, err
	}

	fee, net := ledger.ComputeFee(input.Amount)

	now := time.Now().UTC()
	split.ApplyDeposit(net, fee)
	split.UpdatedAt = now
	if err := uc.splitRepo.Update(txCtx, tx, split); err != nil {
		return nil, err
	}

	ledger.AccrueFee(fee)
	ledger.UpdatedAt = now
	if err := uc.ledgerRepo.Update(txCtx, tx, ledger); err != nil {
		return nil, err
	}

	payload := domain.FundsReceivedEvent{
		SplitID: split.ID,
		Sender:  input.Sender.String(),
		Amount:  input.Amount.String(),
		Fee:     fee.String(),
		Net:     net.String(),
		EventAt: domain.FormatEventTime(now),
	}
	if err := emit(txCtx, tx, uc.outboxRepo, uc.idGen, ledger.ID, domain.AggregateTypeSplit,
		domain.SplitAggregateID(ledger.ID, split.ID), domain.EventTypeFundsReceived, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return &DepositResult{Split: split, Amount: input.Amount, Fee: fee, Net: net}, nil
}

// DistributionResult is the outcome of a distribution.
type DistributionResult struct {
	Split     *domain.Split
	Total     decimal.Decimal
	Fee       decimal.Decimal
	Payouts   []domain.Payout
	Reference string
}

// Distribute pays a split's pending balance to its holders in one atomic
// payer batch. Anyone may trigger a distribution; caller is only recorded.
//
// The batch is reserved as a payout intent before it is paid and settled
// after, so a batch whose settlement was lost is resent under the same
// reference instead of being paid again. Deposits made while a batch is in
// flight stay pending for the next distribution. A payer failure leaves the
// split untouched.
func (uc *DistributionUseCase) Distribute(ctx context.Context, ledgerID string, splitID int64, caller domain.Address) (*DistributionResult, error) {
	start := time.Now()

	result, err := uc.distribute(ctx, ledgerID, splitID, caller)
	if err != nil {
		uc.recordError("distribute", err)
		return nil, err
	}

	invalidateSplit(ctx, uc.cache, ledgerID, splitID)

	if uc.metrics != nil {
		uc.metrics.Distributions.Inc()
		uc.metrics.DistributionAmount.Observe(result.Total.InexactFloat64())
		uc.metrics.OperationDuration.WithLabelValues("distribute").Observe(time.Since(start).Seconds())
	}

	return result, nil
}

func (uc *DistributionUseCase) distribute(ctx context.Context, ledgerID string, splitID int64, caller domain.Address) (*DistributionResult, error) {
	var (
		intent *domain.PayoutIntent
		plan   *domain.DistributionPlan
	)
	err := withRetry(ctx, uc.retrier, func() error {
		var err error
		intent, plan, err = uc.reserveDistribution(ctx, ledgerID, splitID)
		return err
	})
	if err != nil {
		return nil, err
	}

	payCtx, cancel := context.WithTimeout(ctx, PayoutTimeout)
	err = uc.payer.Pay(payCtx, intent.Reference, plan.Payouts)
	cancel()
	if err != nil {
		_ = releasePayout(ctx, uc.txManager, uc.payoutRepo, uc.retrier, intent, uc.lockSplit(intent))
		return nil, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}

	// The batch is paid; settle it even if the caller has gone away.
	settleCtx := context.WithoutCancel(ctx)
	var result *DistributionResult
	err = withRetry(settleCtx, uc.retrier, func() error {
		var err error
		result, err = uc.settleDistribution(settleCtx, intent, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reserveDistribution opens a payout intent for the split's pending balance,
// or adopts one an earlier attempt left behind.
func (uc *DistributionUseCase) reserveDistribution(ctx context.Context, ledgerID string, splitID int64) (*domain.PayoutIntent, *domain.DistributionPlan, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	split, err := uc.splitRepo.GetByIDForUpdate(txCtx, tx, ledgerID, splitID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	intent, err := uc.payoutRepo.GetOpen(txCtx, tx, ledgerID, splitID)
	switch {
	case err == nil:
		if !intent.Stale(now, PayoutIntentStaleAfter) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrPayoutInProgress, intent.Reference)
		}
		intent.Adopt(now)
		if err := uc.payoutRepo.Update(txCtx, tx, intent); err != nil {
			return nil, nil, err
		}
	case errors.Is(err, domain.ErrPayoutNotFound):
		fresh, err := split.Plan()
		if err != nil {
			return nil, nil, err
		}
		intent = domain.NewPayoutIntent(uc.idGen.Generate(), ledgerID, splitID, fresh.Total, fresh.Fee, now)
		if err := uc.payoutRepo.Create(txCtx, tx, intent); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	plan, err := split.PlanFor(intent)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, nil, err
	}
	return intent, plan, nil
}

// settleDistribution books a paid batch and closes its intent.
func (uc *DistributionUseCase) settleDistribution(ctx context.Context, intent *domain.PayoutIntent, caller domain.Address) (*DistributionResult, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	// Lock split first, then its ledger
	split, err := uc.splitRepo.GetByIDForUpdate(txCtx, tx, intent.LedgerID, intent.SplitID)
	if err != nil {
		return nil, err
	}
	if err := holdIntent(txCtx, tx, uc.payoutRepo, intent); err != nil {
		return nil, err
	}
	plan, err := split.PlanFor(intent)
	if err != nil {
		return nil, err
	}

	ledger, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, intent.LedgerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	split.ApplyDistribution(plan)
	split.UpdatedAt = now
	if err := uc.splitRepo.Update(txCtx, tx, split); err != nil {
		return nil, err
	}

	ledger.TotalDistributed = ledger.TotalDistributed.Add(plan.Total)
	ledger.UpdatedAt = now
	if err := uc.ledgerRepo.Update(txCtx, tx, ledger); err != nil {
		return nil, err
	}

	if err := uc.payoutRepo.Delete(txCtx, tx, intent); err != nil {
		return nil, err
	}

	payload := domain.FundsDistributedEvent{
		SplitID:   split.ID,
		Amount:    plan.Total.String(),
		Fee:       plan.Fee.String(),
		Payouts:   make([]domain.PayoutRecord, len(plan.Payouts)),
		Reference: intent.Reference,
		By:        caller.String(),
		EventAt:   domain.FormatEventTime(now),
	}
	for i, po := range plan.Payouts {
		payload.Payouts[i] = domain.PayoutRecord{Holder: po.Holder.String(), Amount: po.Amount.String()}
	}
	if err := emit(txCtx, tx, uc.outboxRepo, uc.idGen, ledger.ID, domain.AggregateTypeSplit,
		domain.SplitAggregateID(ledger.ID, split.ID), domain.EventTypeFundsDistributed, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return &DistributionResult{
		Split:     split,
		Total:     plan.Total,
		Fee:       plan.Fee,
		Payouts:   plan.Payouts,
		Reference: intent.Reference,
	}, nil
}

func (uc *DistributionUseCase) lockSplit(intent *domain.PayoutIntent) func(context.Context, Transaction) error {
	return func(ctx context.Context, tx Transaction) error {
		_, err := uc.splitRepo.GetByIDForUpdate(ctx, tx, intent.LedgerID, intent.SplitID)
		return err
	}
}

// GetClaimable returns what holder would receive if the split's current
// pending balance were distributed now.
func (uc *DistributionUseCase) GetClaimable(ctx context.Context, ledgerID string, splitID int64, holder domain.Address) (decimal.Decimal, error) {
	split, err := uc.splitRepo.GetByID(ctx, ledgerID, splitID)
	if err != nil {
		return decimal.Zero, err
	}
	if _, ok := split.Holder(holder); !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrHolderNotFound, holder)
	}

	plan, err := split.Plan()
	if errors.Is(err, domain.ErrNothingToDistribute) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	amount, _ := plan.PayoutFor(holder)
	return amount, nil
}

func (uc *DistributionUseCase) recordError(op string, err error) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.DistributionErrors.WithLabelValues(op + "_" + errorType(err)).Inc()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrSplitNotFound), errors.Is(err, domain.ErrLedgerNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSplitInactive):
		return "inactive"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrNothingToDistribute):
		return "nothing_to_distribute"
	case errors.Is(err, domain.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, domain.ErrPayoutInProgress):
		return "in_progress"
	default:
		return "internal"
	}
}
