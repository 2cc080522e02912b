package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	store *Store
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(store *Store) *LedgerRepository {
	return &LedgerRepository{store: store}
}

// Create stages a new ledger.
func (r *LedgerRepository) Create(ctx context.Context, tx usecase.Transaction, ledger *domain.Ledger) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}

	r.store.mu.RLock()
	_, exists := r.store.ledgers[ledger.ID]
	r.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: ledger %s", errDuplicateID, ledger.ID)
	}

	row := copyLedger(ledger)
	return mtx.stage(func(s *Store) {
		s.ledgers[row.ID] = row
		s.ledgerOrder = append(s.ledgerOrder, row.ID)
	})
}

// GetByID retrieves a ledger by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.Ledger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	l, ok := r.store.ledgers[id]
	if !ok {
		return nil, domain.ErrLedgerNotFound
	}
	return copyLedger(l), nil
}

// GetByIDForUpdate locks the ledger until tx finishes and returns it.
func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Ledger, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := mtx.lock(ctx, ledgerLockKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Update stages new ledger state. The ledger must be locked by tx.
func (r *LedgerRepository) Update(ctx context.Context, tx usecase.Transaction, ledger *domain.Ledger) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}
	if !mtx.holds(ledgerLockKey(ledger.ID)) {
		return fmt.Errorf("%w: ledger %s", errRowNotHeld, ledger.ID)
	}

	row := copyLedger(ledger)
	return mtx.stage(func(s *Store) {
		if prev, ok := s.ledgers[row.ID]; ok {
			row.Version = prev.Version + 1
		}
		s.ledgers[row.ID] = row
	})
}

// List returns ledgers in creation order.
func (r *LedgerRepository) List(ctx context.Context, limit, offset int) ([]*domain.Ledger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]*domain.Ledger, 0, limit)
	for i := offset; i < len(r.store.ledgerOrder) && len(result) < limit; i++ {
		result = append(result, copyLedger(r.store.ledgers[r.store.ledgerOrder[i]]))
	}
	return result, nil
}

// ListByOwner returns the ledgers created by owner in creation order.
func (r *LedgerRepository) ListByOwner(ctx context.Context, owner domain.Address) ([]*domain.Ledger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*domain.Ledger
	for _, id := range r.store.ledgerOrder {
		if l := r.store.ledgers[id]; l.Owner == owner {
			result = append(result, copyLedger(l))
		}
	}
	return result, nil
}

// Stats returns the ledger count and the sum of creation payments.
func (r *LedgerRepository) Stats(ctx context.Context) (int64, decimal.Decimal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	total := decimal.Zero
	for _, l := range r.store.ledgers {
		total = total.Add(l.CreationPayment)
	}
	return int64(len(r.store.ledgers)), total, nil
}
