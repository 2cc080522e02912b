package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// PayoutRepository implements usecase.PayoutRepository. Callers hold the
// split row lock, or the ledger row lock for fee withdrawals, so reads need
// no lock of their own.
type PayoutRepository struct{}

// NewPayoutRepository creates a new PayoutRepository.
func NewPayoutRepository() *PayoutRepository {
	return &PayoutRepository{}
}

// Create inserts a reserved intent. The (ledger_id, split_id) constraint
// keeps a single intent open per split.
func (r *PayoutRepository) Create(ctx context.Context, tx usecase.Transaction, intent *domain.PayoutIntent) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payout_intents (reference, ledger_id, split_id, total, fee, attempt, reserved_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)`,
		intent.Reference,
		intent.LedgerID,
		intent.SplitID,
		intent.Total.String(),
		intent.Fee.String(),
		intent.Attempt,
		utc(intent.ReservedAt),
	)
	return err
}

// GetOpen returns the open intent of a split or of a ledger's fees.
func (r *PayoutRepository) GetOpen(ctx context.Context, tx usecase.Transaction, ledgerID string, splitID int64) (*domain.PayoutIntent, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	var (
		p          domain.PayoutIntent
		total, fee string
		attempt    int32
	)
	err = q.QueryRow(ctx, `
		SELECT reference, ledger_id, split_id, total::text, fee::text, attempt, reserved_at
		FROM payout_intents
		WHERE ledger_id = $1 AND split_id = $2`,
		ledgerID, splitID,
	).Scan(&p.Reference, &p.LedgerID, &p.SplitID, &total, &fee, &attempt, &p.ReservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Attempt = int(attempt)
	if p.Total, err = parseNumeric(total); err != nil {
		return nil, err
	}
	if p.Fee, err = parseNumeric(fee); err != nil {
		return nil, err
	}
	return &p, nil
}

// Update records a new attempt on an intent.
func (r *PayoutRepository) Update(ctx context.Context, tx usecase.Transaction, intent *domain.PayoutIntent) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE payout_intents SET attempt = $2, reserved_at = $3 WHERE reference = $1`,
		intent.Reference, intent.Attempt, utc(intent.ReservedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayoutNotFound
	}
	return nil
}

// Delete removes a settled or cancelled intent.
func (r *PayoutRepository) Delete(ctx context.Context, tx usecase.Transaction, intent *domain.PayoutIntent) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `DELETE FROM payout_intents WHERE reference = $1`, intent.Reference)
	return err
}
