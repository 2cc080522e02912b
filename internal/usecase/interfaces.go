package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
)

// LedgerRepository defines data access for factory-created ledgers.
type LedgerRepository interface {
	Create(ctx context.Context, tx Transaction, ledger *domain.Ledger) error
	GetByID(ctx context.Context, id string) (*domain.Ledger, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Ledger, error)
	Update(ctx context.Context, tx Transaction, ledger *domain.Ledger) error
	List(ctx context.Context, limit, offset int) ([]*domain.Ledger, error)
	ListByOwner(ctx context.Context, owner domain.Address) ([]*domain.Ledger, error)
	Stats(ctx context.Context) (count int64, totalPayments decimal.Decimal, err error)
}

// SplitRepository defines data access for splits and their holders.
type SplitRepository interface {
	Create(ctx context.Context, tx Transaction, split *domain.Split) error
	GetByID(ctx context.Context, ledgerID string, id int64) (*domain.Split, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, ledgerID string, id int64) (*domain.Split, error)
	Update(ctx context.Context, tx Transaction, split *domain.Split) error
	ListByLedger(ctx context.Context, ledgerID string, limit, offset int) ([]*domain.Split, error)
}

// OutboxRepository defines data access for emitted records. Records are
// append-only; publishing only marks them.
type OutboxRepository interface {
	// Create appends an event and assigns its sequence number.
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	// ListByLedger returns a ledger's events with Sequence > afterSeq in sequence order.
	ListByLedger(ctx context.Context, ledgerID string, afterSeq int64, limit int) ([]*domain.OutboxEvent, error)
}

// PayoutRepository tracks payout batches between reservation and settlement.
// Writes require the split row lock, or the ledger row lock for fee
// withdrawals.
type PayoutRepository interface {
	Create(ctx context.Context, tx Transaction, intent *domain.PayoutIntent) error
	// GetOpen returns domain.ErrPayoutNotFound when nothing is reserved.
	GetOpen(ctx context.Context, tx Transaction, ledgerID string, splitID int64) (*domain.PayoutIntent, error)
	Update(ctx context.Context, tx Transaction, intent *domain.PayoutIntent) error
	Delete(ctx context.Context, tx Transaction, intent *domain.PayoutIntent) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier retries operations that failed on transient storage conflicts.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Payer moves funds out of the ledger.
type Payer interface {
	// Pay transfers every payout or none of them. Paying a ref that already
	// settled the same batch succeeds without moving funds again; reusing a
	// ref for a different batch fails.
	Pay(ctx context.Context, ref string, payouts []domain.Payout) error
}

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a key so the request can be retried.
	Release(ctx context.Context, key string) error
}
