package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

const ledgerColumns = `id, name, owner, fee_rate_bps, total_fees_collected::text, fees_withdrawable::text,
	split_count, total_distributed::text, creation_payment::text, version, created_at, updated_at`

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create inserts a new ledger within a transaction.
func (r *LedgerRepository) Create(ctx context.Context, tx usecase.Transaction, ledger *domain.Ledger) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ledgers (id, name, owner, fee_rate_bps, total_fees_collected, fees_withdrawable,
			split_count, total_distributed, creation_payment, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8::numeric, $9::numeric, $10, $11, $12)`,
		ledger.ID,
		ledger.Name,
		ledger.Owner.String(),
		ledger.FeeRateBps,
		ledger.TotalFeesCollected.String(),
		ledger.FeesWithdrawable.String(),
		ledger.SplitCount,
		ledger.TotalDistributed.String(),
		ledger.CreationPayment.String(),
		ledger.Version,
		utc(ledger.CreatedAt),
		utc(ledger.UpdatedAt),
	)
	return err
}

// GetByID retrieves a ledger by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.Ledger, error) {
	return scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id = $1`, id))
}

// GetByIDForUpdate retrieves a ledger and locks its row for the transaction.
func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Ledger, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}
	return scanLedger(q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id = $1 FOR UPDATE`, id))
}

// Update writes ledger state and bumps its version.
func (r *LedgerRepository) Update(ctx context.Context, tx usecase.Transaction, ledger *domain.Ledger) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	var version int64
	err = q.QueryRow(ctx, `
		UPDATE ledgers
		SET fee_rate_bps = $2,
			total_fees_collected = $3::numeric,
			fees_withdrawable = $4::numeric,
			split_count = $5,
			total_distributed = $6::numeric,
			version = version + 1,
			updated_at = $7
		WHERE id = $1
		RETURNING version`,
		ledger.ID,
		ledger.FeeRateBps,
		ledger.TotalFeesCollected.String(),
		ledger.FeesWithdrawable.String(),
		ledger.SplitCount,
		ledger.TotalDistributed.String(),
		utc(ledger.UpdatedAt),
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrLedgerNotFound
	}
	if err != nil {
		return err
	}

	ledger.Version = version
	return nil
}

// List returns ledgers in creation order.
func (r *LedgerRepository) List(ctx context.Context, limit, offset int) ([]*domain.Ledger, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledgers ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectLedgers(rows)
}

// ListByOwner returns the ledgers created by owner in creation order.
func (r *LedgerRepository) ListByOwner(ctx context.Context, owner domain.Address) ([]*domain.Ledger, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledgers WHERE owner = $1 ORDER BY created_at, id`, owner.String())
	if err != nil {
		return nil, err
	}
	return collectLedgers(rows)
}

// Stats returns the ledger count and the sum of creation payments.
func (r *LedgerRepository) Stats(ctx context.Context) (int64, decimal.Decimal, error) {
	var (
		count int64
		total string
	)
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(creation_payment), 0)::text FROM ledgers`).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, err
	}

	sum, err := parseNumeric(total)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return count, sum, nil
}

func collectLedgers(rows pgx.Rows) ([]*domain.Ledger, error) {
	defer rows.Close()

	var ledgers []*domain.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

func scanLedger(row pgx.Row) (*domain.Ledger, error) {
	var (
		l                                         domain.Ledger
		owner                                     string
		collected, withdrawable, distributed, pay string
	)
	err := row.Scan(
		&l.ID,
		&l.Name,
		&owner,
		&l.FeeRateBps,
		&collected,
		&withdrawable,
		&l.SplitCount,
		&distributed,
		&pay,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLedgerNotFound
	}
	if err != nil {
		return nil, err
	}

	l.Owner = domain.Address(owner)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&l.TotalFeesCollected, collected},
		{&l.FeesWithdrawable, withdrawable},
		{&l.TotalDistributed, distributed},
		{&l.CreationPayment, pay},
	} {
		if *f.dst, err = parseNumeric(f.src); err != nil {
			return nil, err
		}
	}

	return &l, nil
}
