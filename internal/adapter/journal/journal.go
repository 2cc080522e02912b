// Package journal keeps a local bbolt copy of every published ledger record,
// keyed by ledger and sequence, so a ledger can be rebuilt offline.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iho/splitledger/internal/domain"
)

var bucketLedgers = []byte("ledgers")

// ErrLedgerNotJournaled is returned when the journal holds no records for a ledger.
var ErrLedgerNotJournaled = errors.New("journal: ledger not found")

// Journal is an append-only store of published records.
type Journal struct {
	db *bbolt.DB
}

type record struct {
	ID            string         `json:"id"`
	Sequence      int64          `json:"sequence"`
	LedgerID      string         `json:"ledger_id"`
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Open opens or creates the journal database at path. The parent directory is
// created if it does not exist.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedgers)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: create buckets: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Publish stores event under its ledger. Re-publishing a sequence overwrites
// the same key, so redelivery is harmless.
func (j *Journal) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.LedgerID == "" {
		return fmt.Errorf("journal: event %s has no ledger", event.ID)
	}

	data, err := json.Marshal(record{
		ID:            event.ID,
		Sequence:      event.Sequence,
		LedgerID:      event.LedgerID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		Payload:       event.Payload,
		CreatedAt:     event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("journal: encode event %s: %w", event.ID, err)
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketLedgers).CreateBucketIfNotExists([]byte(event.LedgerID))
		if err != nil {
			return fmt.Errorf("journal: ledger bucket: %w", err)
		}
		return b.Put(sequenceKey(event.Sequence), data)
	})
}

// Events returns up to limit records of ledgerID after afterSeq in sequence
// order. A non-positive limit returns all of them.
func (j *Journal) Events(ledgerID string, afterSeq int64, limit int) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLedgers).Bucket([]byte(ledgerID))
		if b == nil {
			return ErrLedgerNotJournaled
		}

		c := b.Cursor()
		for k, v := c.Seek(sequenceKey(afterSeq + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("journal: decode sequence %d: %w", binary.BigEndian.Uint64(k), err)
			}
			events = append(events, &domain.OutboxEvent{
				ID:            r.ID,
				Sequence:      r.Sequence,
				LedgerID:      r.LedgerID,
				AggregateID:   r.AggregateID,
				AggregateType: r.AggregateType,
				EventType:     r.EventType,
				Payload:       r.Payload,
				CreatedAt:     r.CreatedAt,
				Published:     true,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Ledgers lists the ids of every journaled ledger.
func (j *Journal) Ledgers() ([]string, error) {
	var ids []string
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLedgers).ForEachBucket(func(k []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Rebuild replays a ledger's journaled records.
func (j *Journal) Rebuild(ledgerID string) (*domain.LedgerSnapshot, error) {
	events, err := j.Events(ledgerID, 0, 0)
	if err != nil {
		return nil, err
	}
	return domain.Replay(events)
}

// sequenceKey encodes a sequence as an 8-byte big-endian key for sorted storage.
func sequenceKey(seq int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(seq))
	return k
}
