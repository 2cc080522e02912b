package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	store *Store
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store}
}

// Create stages an event. Its sequence number is assigned at commit.
func (r *OutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}

	row := copyEvent(event)
	return mtx.stage(func(s *Store) {
		s.seq++
		row.Sequence = s.seq
		event.Sequence = s.seq
		s.eventIndex[row.ID] = len(s.events)
		s.events = append(s.events, row)
	})
}

// GetUnpublished retrieves unpublished events in sequence order.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*domain.OutboxEvent
	for _, e := range r.store.events {
		if len(result) >= limit {
			break
		}
		if !e.Published {
			result = append(result, copyEvent(e))
		}
	}
	return result, nil
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	i, ok := r.store.eventIndex[id]
	if !ok {
		return fmt.Errorf("memory: event %s not found", id)
	}
	at := publishedAt
	r.store.events[i].Published = true
	r.store.events[i].PublishedAt = &at
	return nil
}

// ListByLedger returns a ledger's events after afterSeq in sequence order.
func (r *OutboxRepository) ListByLedger(ctx context.Context, ledgerID string, afterSeq int64, limit int) ([]*domain.OutboxEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*domain.OutboxEvent
	for _, e := range r.store.events {
		if len(result) >= limit {
			break
		}
		if e.LedgerID == ledgerID && e.Sequence > afterSeq {
			result = append(result, copyEvent(e))
		}
	}
	return result, nil
}

func copyEvent(e *domain.OutboxEvent) *domain.OutboxEvent {
	c := *e
	c.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		c.Payload[k] = v
	}
	if e.PublishedAt != nil {
		at := *e.PublishedAt
		c.PublishedAt = &at
	}
	return &c
}
