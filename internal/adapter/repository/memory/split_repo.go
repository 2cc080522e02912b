package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// SplitRepository implements usecase.SplitRepository.
type SplitRepository struct {
	store *Store
}

// NewSplitRepository creates a new SplitRepository.
func NewSplitRepository(store *Store) *SplitRepository {
	return &SplitRepository{store: store}
}

// Create stages a new split with its holders.
func (r *SplitRepository) Create(ctx context.Context, tx usecase.Transaction, split *domain.Split) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}

	key := splitKey{split.LedgerID, split.ID}
	r.store.mu.RLock()
	_, exists := r.store.splits[key]
	r.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: split %s/%d", errDuplicateID, split.LedgerID, split.ID)
	}

	row := split.Clone()
	return mtx.stage(func(s *Store) {
		s.splits[key] = row
		ids := append(s.ledgerSplits[row.LedgerID], row.ID)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		s.ledgerSplits[row.LedgerID] = ids
	})
}

// GetByID retrieves a split with its holders.
func (r *SplitRepository) GetByID(ctx context.Context, ledgerID string, id int64) (*domain.Split, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	s, ok := r.store.splits[splitKey{ledgerID, id}]
	if !ok {
		return nil, domain.ErrSplitNotFound
	}
	return s.Clone(), nil
}

// GetByIDForUpdate locks the split until tx finishes and returns it.
func (r *SplitRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, ledgerID string, id int64) (*domain.Split, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetByID(ctx, ledgerID, id); err != nil {
		return nil, err
	}
	if err := mtx.lock(ctx, splitLockKey(ledgerID, id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, ledgerID, id)
}

// Update stages new split state. The split must be locked by tx.
func (r *SplitRepository) Update(ctx context.Context, tx usecase.Transaction, split *domain.Split) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}
	if !mtx.holds(splitLockKey(split.LedgerID, split.ID)) {
		return fmt.Errorf("%w: split %s/%d", errRowNotHeld, split.LedgerID, split.ID)
	}

	row := split.Clone()
	return mtx.stage(func(s *Store) {
		s.splits[splitKey{row.LedgerID, row.ID}] = row
	})
}

// ListByLedger returns a ledger's splits in ID order.
func (r *SplitRepository) ListByLedger(ctx context.Context, ledgerID string, limit, offset int) ([]*domain.Split, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids := r.store.ledgerSplits[ledgerID]
	result := make([]*domain.Split, 0, limit)
	for i := offset; i < len(ids) && len(result) < limit; i++ {
		result = append(result, r.store.splits[splitKey{ledgerID, ids[i]}].Clone())
	}
	return result, nil
}
