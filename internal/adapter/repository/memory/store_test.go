package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/splitledger/internal/domain"
)

func seedLedger(t *testing.T, store *Store, id string) {
	t.Helper()
	txm := NewTxManager(store)
	repo := NewLedgerRepository(store)

	tx, err := txm.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), tx, &domain.Ledger{
		ID:               id,
		Owner:            domain.Address("0x0000000000000000000000000000000000000001"),
		FeeRateBps:       domain.DefaultProtocolFeeBps,
		TotalDistributed: decimal.Zero,
		CreationPayment:  decimal.NewFromInt(10),
		Version:          1,
	}))
	require.NoError(t, tx.Commit(context.Background()))
}

func TestTx_StagedWritesInvisibleUntilCommit(t *testing.T) {
	store := NewStore()
	seedLedger(t, store, "L1")
	txm := NewTxManager(store)
	repo := NewLedgerRepository(store)
	ctx := context.Background()

	tx, err := txm.Begin(ctx)
	require.NoError(t, err)

	l, err := repo.GetByIDForUpdate(ctx, tx, "L1")
	require.NoError(t, err)
	l.SplitCount = 3
	require.NoError(t, repo.Update(ctx, tx, l))

	before, err := repo.GetByID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), before.SplitCount)

	require.NoError(t, tx.Commit(ctx))

	after, err := repo.GetByID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), after.SplitCount)
	assert.Equal(t, int64(2), after.Version)
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	store := NewStore()
	seedLedger(t, store, "L1")
	txm := NewTxManager(store)
	repo := NewLedgerRepository(store)
	ctx := context.Background()

	tx, _ := txm.Begin(ctx)
	l, err := repo.GetByIDForUpdate(ctx, tx, "L1")
	require.NoError(t, err)
	l.FeeRateBps = 400
	require.NoError(t, repo.Update(ctx, tx, l))
	require.NoError(t, tx.Rollback(ctx))

	// Rollback after finish is a no-op
	require.NoError(t, tx.Rollback(ctx))
	assert.Error(t, tx.Commit(ctx))

	got, _ := repo.GetByID(ctx, "L1")
	assert.Equal(t, int64(domain.DefaultProtocolFeeBps), got.FeeRateBps)
}

func TestTx_LockBlocksUntilRelease(t *testing.T) {
	store := NewStore()
	seedLedger(t, store, "L1")
	txm := NewTxManager(store)
	repo := NewLedgerRepository(store)
	ctx := context.Background()

	first, _ := txm.Begin(ctx)
	_, err := repo.GetByIDForUpdate(ctx, first, "L1")
	require.NoError(t, err)

	second, _ := txm.Begin(ctx)
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = repo.GetByIDForUpdate(waitCtx, second, "L1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected deadline, got %v", err)

	acquired := make(chan error, 1)
	go func() {
		_, err := repo.GetByIDForUpdate(ctx, second, "L1")
		acquired <- err
	}()

	select {
	case <-acquired:
		t.Fatal("second transaction acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, first.Commit(ctx))

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock was not released on commit")
	}
	require.NoError(t, second.Rollback(ctx))
}

func TestUpdateRequiresLock(t *testing.T) {
	store := NewStore()
	seedLedger(t, store, "L1")
	txm := NewTxManager(store)
	repo := NewLedgerRepository(store)
	ctx := context.Background()

	l, _ := repo.GetByID(ctx, "L1")
	tx, _ := txm.Begin(ctx)
	defer func() { _ = tx.Rollback(ctx) }()

	err := repo.Update(ctx, tx, l)
	assert.ErrorIs(t, err, errRowNotHeld)
}

func TestNotFound(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tx, _ := NewTxManager(store).Begin(ctx)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err := NewLedgerRepository(store).GetByIDForUpdate(ctx, tx, "missing")
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)

	_, err = NewSplitRepository(store).GetByID(ctx, "missing", 0)
	assert.ErrorIs(t, err, domain.ErrSplitNotFound)
}

func TestOutbox_SequenceAssignedAtCommit(t *testing.T) {
	store := NewStore()
	txm := NewTxManager(store)
	outbox := NewOutboxRepository(store)
	ctx := context.Background()

	first, _ := txm.Begin(ctx)
	second, _ := txm.Begin(ctx)

	e1 := &domain.OutboxEvent{ID: "e1", LedgerID: "L1", Payload: map[string]any{"a": 1}}
	e2 := &domain.OutboxEvent{ID: "e2", LedgerID: "L1", Payload: map[string]any{}}
	require.NoError(t, outbox.Create(ctx, first, e1))
	require.NoError(t, outbox.Create(ctx, second, e2))

	// Commit order decides sequence order
	require.NoError(t, second.Commit(ctx))
	require.NoError(t, first.Commit(ctx))
	assert.Equal(t, int64(1), e2.Sequence)
	assert.Equal(t, int64(2), e1.Sequence)

	events, err := outbox.ListByLedger(ctx, "L1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ID)

	after, err := outbox.ListByLedger(ctx, "L1", 1, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "e1", after[0].ID)

	require.NoError(t, outbox.MarkPublished(ctx, "e2", time.Now()))
	unpublished, err := outbox.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unpublished, 1)
	assert.Equal(t, "e1", unpublished[0].ID)
}

func TestLedgerRepository_ListAndStats(t *testing.T) {
	store := NewStore()
	seedLedger(t, store, "L1")
	seedLedger(t, store, "L2")
	repo := NewLedgerRepository(store)
	ctx := context.Background()

	page, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "L2", page[0].ID)

	owned, err := repo.ListByOwner(ctx, domain.Address("0x0000000000000000000000000000000000000001"))
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	count, total, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, total.Equal(decimal.NewFromInt(20)))
}
