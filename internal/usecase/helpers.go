package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iho/splitledger/internal/domain"
)

// withRetry runs op through the retrier when one is configured.
func withRetry(ctx context.Context, retrier Retrier, op func() error) error {
	if retrier == nil {
		return op()
	}
	return retrier.Retry(ctx, op)
}

// emit appends an event for ledgerID to the outbox inside tx.
func emit(
	ctx context.Context,
	tx Transaction,
	outboxRepo OutboxRepository,
	idGen IDGenerator,
	ledgerID, aggregateType, aggregateID, eventType string,
	payload any,
	at time.Time,
) error {
	event, err := domain.NewOutboxEvent(idGen.Generate(), ledgerID, aggregateType, aggregateID, eventType, payload, at)
	if err != nil {
		return err
	}
	return outboxRepo.Create(ctx, tx, event)
}

// holdIntent checks that the attempt described by intent still owns the open
// payout. Another attempt that adopted the intent settles it instead.
func holdIntent(ctx context.Context, tx Transaction, payoutRepo PayoutRepository, intent *domain.PayoutIntent) error {
	open, err := payoutRepo.GetOpen(ctx, tx, intent.LedgerID, intent.SplitID)
	if errors.Is(err, domain.ErrPayoutNotFound) {
		return fmt.Errorf("%w: %s was settled by another attempt", domain.ErrPayoutInProgress, intent.Reference)
	}
	if err != nil {
		return err
	}
	if !open.HeldBy(intent.Reference, intent.Attempt) {
		return fmt.Errorf("%w: %s was adopted by another attempt", domain.ErrPayoutInProgress, intent.Reference)
	}
	return nil
}

// releasePayout deletes an intent whose batch the payer refused so the next
// attempt plans afresh. Only a first attempt is released: an adopted intent
// may have been paid by the attempt that reserved it, and is left to go
// stale and be resent under its reference. lock takes the row guarding the
// intent.
func releasePayout(
	ctx context.Context,
	txManager TransactionManager,
	payoutRepo PayoutRepository,
	retrier Retrier,
	intent *domain.PayoutIntent,
	lock func(context.Context, Transaction) error,
) error {
	if intent.Attempt > 1 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	return withRetry(ctx, retrier, func() error {
		txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
		defer cancel()

		tx, err := txManager.Begin(txCtx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(txCtx) }()

		if err := lock(txCtx, tx); err != nil {
			return err
		}
		if err := holdIntent(txCtx, tx, payoutRepo, intent); err != nil {
			// Somebody else owns it now.
			if errors.Is(err, domain.ErrPayoutInProgress) {
				return nil
			}
			return err
		}
		if err := payoutRepo.Delete(txCtx, tx, intent); err != nil {
			return err
		}
		return tx.Commit(txCtx)
	})
}

func splitCacheKey(ledgerID string, splitID int64) string {
	return fmt.Sprintf("split:%s:%d", ledgerID, splitID)
}

// invalidateSplit drops a split snapshot from the read cache. Cache failures
// only cost a stale read until SplitCacheTTL expires.
func invalidateSplit(ctx context.Context, cache Cache, ledgerID string, splitID int64) {
	if cache == nil {
		return
	}
	_ = cache.Delete(ctx, splitCacheKey(ledgerID, splitID))
}

func validateCaller(caller domain.Address) error {
	if caller == "" {
		return domain.ErrUnauthorized
	}
	return caller.Validate()
}
