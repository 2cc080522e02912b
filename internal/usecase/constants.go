package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// SplitCacheTTL is how long split snapshots stay in the read cache
	SplitCacheTTL = 30 * time.Second

	// PayoutTimeout bounds a single payer call
	PayoutTimeout = 30 * time.Second

	// PayoutIntentStaleAfter is how long a reserved payout blocks other
	// attempts before one may adopt and resend it. Must exceed PayoutTimeout
	PayoutIntentStaleAfter = 2 * time.Minute

	// replayPageSize is the page size used when reading a ledger's events
	replayPageSize = 1000
)
