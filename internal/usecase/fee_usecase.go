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

// FeeUseCase administers a ledger's protocol fee.
type FeeUseCase struct {
	txManager  TransactionManager
	ledgerRepo LedgerRepository
	outboxRepo OutboxRepository
	payoutRepo PayoutRepository
	idGen      IDGenerator
	retrier    Retrier
	payer      Payer
	metrics    *metrics.Metrics
}

func NewFeeUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	outboxRepo OutboxRepository,
	payoutRepo PayoutRepository,
	idGen IDGenerator,
	retrier Retrier,
	payer Payer,
	metrics *metrics.Metrics,
) *FeeUseCase {
	return &FeeUseCase{
		txManager:  txManager,
		ledgerRepo: ledgerRepo,
		outboxRepo: outboxRepo,
		payoutRepo: payoutRepo,
		idGen:      idGen,
		retrier:    retrier,
		payer:      payer,
		metrics:    metrics,
	}
}

// GetFeeState returns the ledger's fee rate and fee balances.
func (uc *FeeUseCase) GetFeeState(ctx context.Context, ledgerID string) (*domain.FeeState, error) {
	ledger, err := uc.ledgerRepo.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	state := ledger.FeeState()
	return &state, nil
}

// SetProtocolFee changes the fee applied to future deposits. Owner only.
func (uc *FeeUseCase) SetProtocolFee(ctx context.Context, ledgerID string, caller domain.Address, bps int64) (*domain.FeeState, error) {
	if err := validateCaller(caller); err != nil {
		return nil, err
	}

	var state *domain.FeeState
	err := withRetry(ctx, uc.retrier, func() error {
		var err error
		state, err = uc.setProtocolFee(ctx, ledgerID, caller, bps)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (uc *FeeUseCase) setProtocolFee(ctx context.Context, ledgerID string, caller domain.Address, bps int64) (*domain.FeeState, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	ledger, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, ledgerID)
	if err != nil {
		return nil, err
	}
	if !ledger.IsOwner(caller) {
		return nil, domain.ErrUnauthorized
	}
	if err := domain.ValidateFeeRate(bps); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	old := ledger.FeeRateBps
	ledger.FeeRateBps = bps
	ledger.UpdatedAt = now
	if err := uc.ledgerRepo.Update(txCtx, tx, ledger); err != nil {
		return nil, err
	}

	payload := domain.FeeUpdatedEvent{
		OldRateBps: old,
		NewRateBps: bps,
		EventAt:    domain.FormatEventTime(now),
	}
	if err := emit(txCtx, tx, uc.outboxRepo, uc.idGen, ledger.ID, domain.AggregateTypeLedger,
		ledger.ID, domain.EventTypeFeeUpdated, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	state := ledger.FeeState()
	return &state, nil
}

// WithdrawFees pays all withdrawable fees to the ledger owner. Owner only.
// The withdrawal is reserved, paid and settled the same way as a
// distribution.
func (uc *FeeUseCase) WithdrawFees(ctx context.Context, ledgerID string, caller domain.Address) (decimal.Decimal, error) {
	if err := validateCaller(caller); err != nil {
		return decimal.Zero, err
	}

	var (
		intent *domain.PayoutIntent
		owner  domain.Address
	)
	err := withRetry(ctx, uc.retrier, func() error {
		var err error
		intent, owner, err = uc.reserveWithdrawal(ctx, ledgerID, caller)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	payCtx, cancel := context.WithTimeout(ctx, PayoutTimeout)
	err = uc.payer.Pay(payCtx, intent.Reference, []domain.Payout{{Holder: owner, Amount: intent.Total}})
	cancel()
	if err != nil {
		_ = releasePayout(ctx, uc.txManager, uc.payoutRepo, uc.retrier, intent, uc.lockLedger(intent))
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}

	// The fees are paid; settle even if the caller has gone away.
	settleCtx := context.WithoutCancel(ctx)
	err = withRetry(settleCtx, uc.retrier, func() error {
		return uc.settleWithdrawal(settleCtx, intent, owner)
	})
	if err != nil {
		return decimal.Zero, err
	}

	if uc.metrics != nil {
		uc.metrics.FeeWithdrawals.Inc()
		uc.metrics.FeeWithdrawalAmount.Add(intent.Total.InexactFloat64())
	}

	return intent.Total, nil
}

func (uc *FeeUseCase) reserveWithdrawal(ctx context.Context, ledgerID string, caller domain.Address) (*domain.PayoutIntent, domain.Address, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	ledger, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, ledgerID)
	if err != nil {
		return nil, "", err
	}
	if !ledger.IsOwner(caller) {
		return nil, "", domain.ErrUnauthorized
	}

	now := time.Now().UTC()
	intent, err := uc.payoutRepo.GetOpen(txCtx, tx, ledgerID, domain.FeeWithdrawalSplitID)
	switch {
	case err == nil:
		if !intent.Stale(now, PayoutIntentStaleAfter) {
			return nil, "", fmt.Errorf("%w: %s", domain.ErrPayoutInProgress, intent.Reference)
		}
		intent.Adopt(now)
		if err := uc.payoutRepo.Update(txCtx, tx, intent); err != nil {
			return nil, "", err
		}
	case errors.Is(err, domain.ErrPayoutNotFound):
		if !ledger.FeesWithdrawable.IsPositive() {
			return nil, "", domain.ErrNoFeesAvailable
		}
		intent = domain.NewPayoutIntent(uc.idGen.Generate(), ledgerID, domain.FeeWithdrawalSplitID,
			ledger.FeesWithdrawable, decimal.Zero, now)
		if err := uc.payoutRepo.Create(txCtx, tx, intent); err != nil {
			return nil, "", err
		}
	default:
		return nil, "", err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, "", err
	}
	return intent, ledger.Owner, nil
}

func (uc *FeeUseCase) settleWithdrawal(ctx context.Context, intent *domain.PayoutIntent, owner domain.Address) error {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	ledger, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, intent.LedgerID)
	if err != nil {
		return err
	}
	if err := holdIntent(txCtx, tx, uc.payoutRepo, intent); err != nil {
		return err
	}
	if intent.Total.GreaterThan(ledger.FeesWithdrawable) {
		return fmt.Errorf("%w: reserved %s exceeds withdrawable %s", domain.ErrNoFeesAvailable, intent.Total, ledger.FeesWithdrawable)
	}

	now := time.Now().UTC()
	ledger.FeesWithdrawable = ledger.FeesWithdrawable.Sub(intent.Total)
	ledger.UpdatedAt = now
	if err := uc.ledgerRepo.Update(txCtx, tx, ledger); err != nil {
		return err
	}

	if err := uc.payoutRepo.Delete(txCtx, tx, intent); err != nil {
		return err
	}

	payload := domain.FeesWithdrawnEvent{
		To:        owner.String(),
		Amount:    intent.Total.String(),
		Reference: intent.Reference,
		EventAt:   domain.FormatEventTime(now),
	}
	if err := emit(txCtx, tx, uc.outboxRepo, uc.idGen, ledger.ID, domain.AggregateTypeLedger,
		ledger.ID, domain.EventTypeFeesWithdrawn, payload, now); err != nil {
		return err
	}

	return tx.Commit(txCtx)
}

func (uc *FeeUseCase) lockLedger(intent *domain.PayoutIntent) func(context.Context, Transaction) error {
	return func(ctx context.Context, tx Transaction) error {
		_, err := uc.ledgerRepo.GetByIDForUpdate(ctx, tx, intent.LedgerID)
		return err
	}
}
