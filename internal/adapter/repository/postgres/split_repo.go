package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

const splitColumns = `ledger_id, id, name, creator, total_shares, total_distributed::text,
	pending_balance::text, pending_fees::text, active, created_at, updated_at`

// SplitRepository implements usecase.SplitRepository. Holders live in
// split_holders keyed by their position in the split.
type SplitRepository struct {
	db DBTX
}

// NewSplitRepository creates a new SplitRepository.
func NewSplitRepository(db DBTX) *SplitRepository {
	return &SplitRepository{db: db}
}

// Create inserts a split and its holders within a transaction.
func (r *SplitRepository) Create(ctx context.Context, tx usecase.Transaction, split *domain.Split) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO splits (ledger_id, id, name, creator, total_shares, total_distributed,
			pending_balance, pending_fees, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11)`,
		split.LedgerID,
		split.ID,
		split.Name,
		split.Creator.String(),
		split.TotalShares,
		split.TotalDistributed.String(),
		split.PendingBalance.String(),
		split.PendingFees.String(),
		split.Active,
		utc(split.CreatedAt),
		utc(split.UpdatedAt),
	)
	if err != nil {
		return err
	}

	positions, addresses, shares, claimed := holderColumns(split.Holders)
	_, err = q.Exec(ctx, `
		INSERT INTO split_holders (ledger_id, split_id, position, address, shares, claimed)
		SELECT $1, $2, h.position, h.address, h.shares, h.claimed::numeric
		FROM unnest($3::int[], $4::text[], $5::bigint[], $6::text[]) AS h(position, address, shares, claimed)`,
		split.LedgerID, split.ID, positions, addresses, shares, claimed,
	)
	return err
}

// GetByID retrieves a split with its holders.
func (r *SplitRepository) GetByID(ctx context.Context, ledgerID string, id int64) (*domain.Split, error) {
	return r.get(ctx, r.db, `SELECT `+splitColumns+` FROM splits WHERE ledger_id = $1 AND id = $2`, ledgerID, id)
}

// GetByIDForUpdate retrieves a split and locks its row for the transaction.
// Holder rows change only under the split lock.
func (r *SplitRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, ledgerID string, id int64) (*domain.Split, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}
	return r.get(ctx, q, `SELECT `+splitColumns+` FROM splits WHERE ledger_id = $1 AND id = $2 FOR UPDATE`, ledgerID, id)
}

// Update writes split balances, its active flag and every holder's claimed total.
func (r *SplitRepository) Update(ctx context.Context, tx usecase.Transaction, split *domain.Split) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE splits
		SET total_distributed = $3::numeric,
			pending_balance = $4::numeric,
			pending_fees = $5::numeric,
			active = $6,
			updated_at = $7
		WHERE ledger_id = $1 AND id = $2`,
		split.LedgerID,
		split.ID,
		split.TotalDistributed.String(),
		split.PendingBalance.String(),
		split.PendingFees.String(),
		split.Active,
		utc(split.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSplitNotFound
	}

	positions, _, _, claimed := holderColumns(split.Holders)
	_, err = q.Exec(ctx, `
		UPDATE split_holders AS h
		SET claimed = c.claimed::numeric
		FROM unnest($3::int[], $4::text[]) AS c(position, claimed)
		WHERE h.ledger_id = $1 AND h.split_id = $2 AND h.position = c.position`,
		split.LedgerID, split.ID, positions, claimed,
	)
	return err
}

// ListByLedger returns a ledger's splits in id order.
func (r *SplitRepository) ListByLedger(ctx context.Context, ledgerID string, limit, offset int) ([]*domain.Split, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+splitColumns+` FROM splits WHERE ledger_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		ledgerID, limit, offset)
	if err != nil {
		return nil, err
	}

	var (
		splits []*domain.Split
		ids    []int64
	)
	byID := make(map[int64]*domain.Split)
	for rows.Next() {
		s, err := scanSplit(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		splits = append(splits, s)
		ids = append(ids, s.ID)
		byID[s.ID] = s
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(splits) == 0 {
		return splits, nil
	}

	rows, err = r.db.Query(ctx, `
		SELECT split_id, position, address, shares, claimed::text
		FROM split_holders
		WHERE ledger_id = $1 AND split_id = ANY($2::bigint[])
		ORDER BY split_id, position`,
		ledgerID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var splitID int64
		h, err := scanHolder(rows, &splitID)
		if err != nil {
			return nil, err
		}
		if s, ok := byID[splitID]; ok {
			s.Holders = append(s.Holders, h)
		}
	}
	return splits, rows.Err()
}

func (r *SplitRepository) get(ctx context.Context, q DBTX, query string, ledgerID string, id int64) (*domain.Split, error) {
	split, err := scanSplit(q.QueryRow(ctx, query, ledgerID, id))
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT split_id, position, address, shares, claimed::text
		FROM split_holders
		WHERE ledger_id = $1 AND split_id = $2
		ORDER BY position`,
		ledgerID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var splitID int64
		h, err := scanHolder(rows, &splitID)
		if err != nil {
			return nil, err
		}
		split.Holders = append(split.Holders, h)
	}
	return split, rows.Err()
}

func scanSplit(row pgx.Row) (*domain.Split, error) {
	var (
		s                             domain.Split
		creator                       string
		distributed, pending, pendFee string
	)
	err := row.Scan(
		&s.LedgerID,
		&s.ID,
		&s.Name,
		&creator,
		&s.TotalShares,
		&distributed,
		&pending,
		&pendFee,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSplitNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Creator = domain.Address(creator)
	if s.TotalDistributed, err = parseNumeric(distributed); err != nil {
		return nil, err
	}
	if s.PendingBalance, err = parseNumeric(pending); err != nil {
		return nil, err
	}
	if s.PendingFees, err = parseNumeric(pendFee); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanHolder(row pgx.Row, splitID *int64) (domain.ShareHolder, error) {
	var (
		h        domain.ShareHolder
		position int32
		address  string
		claimed  string
	)
	if err := row.Scan(splitID, &position, &address, &h.Shares, &claimed); err != nil {
		return h, err
	}

	h.Position = int(position)
	h.Address = domain.Address(address)
	c, err := parseNumeric(claimed)
	if err != nil {
		return h, err
	}
	h.Claimed = c
	return h, nil
}

func holderColumns(holders []domain.ShareHolder) (positions []int32, addresses []string, shares []int64, claimed []string) {
	positions = make([]int32, len(holders))
	addresses = make([]string, len(holders))
	shares = make([]int64, len(holders))
	claimed = make([]string, len(holders))
	for i, h := range holders {
		positions[i] = int32(h.Position)
		addresses[i] = h.Address.String()
		shares[i] = h.Shares
		claimed[i] = h.Claimed.String()
	}
	return positions, addresses, shares, claimed
}
