package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

const outboxColumns = `sequence, id, ledger_id, aggregate_id, aggregate_type, event_type,
	payload, created_at, published, published_at`

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	db DBTX
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db DBTX) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create inserts an outbox event within a transaction and assigns its sequence.
func (r *OutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	return q.QueryRow(ctx, `
		INSERT INTO outbox_events (id, ledger_id, aggregate_id, aggregate_type, event_type, payload, created_at, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING sequence`,
		event.ID,
		event.LedgerID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		payload,
		utc(event.CreatedAt),
		event.Published,
	).Scan(&event.Sequence)
}

// GetUnpublished retrieves unpublished events in sequence order.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+outboxColumns+` FROM outbox_events WHERE NOT published ORDER BY sequence LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1`, id, utc(publishedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: event %s not found", id)
	}
	return nil
}

// ListByLedger returns a ledger's events after afterSeq in sequence order.
func (r *OutboxRepository) ListByLedger(ctx context.Context, ledgerID string, afterSeq int64, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE ledger_id = $1 AND sequence > $2
		ORDER BY sequence
		LIMIT $3`,
		ledgerID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*domain.OutboxEvent, error) {
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			e       domain.OutboxEvent
			payload []byte
		)
		if err := rows.Scan(
			&e.Sequence,
			&e.ID,
			&e.LedgerID,
			&e.AggregateID,
			&e.AggregateType,
			&e.EventType,
			&payload,
			&e.CreatedAt,
			&e.Published,
			&e.PublishedAt,
		); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("postgres: event %s payload: %w", e.ID, err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
