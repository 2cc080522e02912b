package memory

import (
	"context"
	"fmt"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// PayoutRepository implements usecase.PayoutRepository.
type PayoutRepository struct {
	store *Store
}

// NewPayoutRepository creates a new PayoutRepository.
func NewPayoutRepository(store *Store) *PayoutRepository {
	return &PayoutRepository{store: store}
}

// guardKey is the row lock that serializes writes to an intent: its split,
// or the ledger for a fee withdrawal.
func guardKey(ledgerID string, splitID int64) string {
	if splitID == domain.FeeWithdrawalSplitID {
		return ledgerLockKey(ledgerID)
	}
	return splitLockKey(ledgerID, splitID)
}

func (r *PayoutRepository) held(tx usecase.Transaction, intent *domain.PayoutIntent) (*Tx, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if !mtx.holds(guardKey(intent.LedgerID, intent.SplitID)) {
		return nil, fmt.Errorf("%w: payout %s", errRowNotHeld, intent.Reference)
	}
	return mtx, nil
}

// Create stages a new intent. Only one intent may be open per split.
func (r *PayoutRepository) Create(ctx context.Context, tx usecase.Transaction, intent *domain.PayoutIntent) error {
	mtx, err := r.held(tx, intent)
	if err != nil {
		return err
	}

	key := splitKey{intent.LedgerID, intent.SplitID}
	r.store.mu.RLock()
	_, open := r.store.payouts[key]
	_, used := r.store.payoutRefs[intent.Reference]
	r.store.mu.RUnlock()
	if open || used {
		return fmt.Errorf("%w: payout %s", errDuplicateID, intent.Reference)
	}

	row := *intent
	return mtx.stage(func(s *Store) {
		s.payouts[key] = &row
		s.payoutRefs[row.Reference] = key
	})
}

// GetOpen returns the open intent of a split, or of a ledger's fees when
// splitID is domain.FeeWithdrawalSplitID.
func (r *PayoutRepository) GetOpen(ctx context.Context, tx usecase.Transaction, ledgerID string, splitID int64) (*domain.PayoutIntent, error) {
	if _, err := asTx(tx); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.payouts[splitKey{ledgerID, splitID}]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	c := *p
	return &c, nil
}

// Update stages a new attempt on an open intent.
func (r *PayoutRepository) Update(ctx context.Context, tx usecase.Transaction, intent *domain.PayoutIntent) error {
	mtx, err := r.held(tx, intent)
	if err != nil {
		return err
	}

	row := *intent
	return mtx.stage(func(s *Store) {
		s.payouts[splitKey{row.LedgerID, row.SplitID}] = &row
	})
}

// Delete stages the removal of a settled or cancelled intent.
func (r *PayoutRepository) Delete(ctx context.Context, tx usecase.Transaction, intent *domain.PayoutIntent) error {
	mtx, err := r.held(tx, intent)
	if err != nil {
		return err
	}

	key := splitKey{intent.LedgerID, intent.SplitID}
	ref := intent.Reference
	return mtx.stage(func(s *Store) {
		if p, ok := s.payouts[key]; ok && p.Reference == ref {
			delete(s.payouts, key)
			delete(s.payoutRefs, ref)
		}
	})
}
