// Package memory is an in-process storage backend. Row locks are held from
// ForUpdate until commit or rollback and writes are staged until commit, which
// mirrors the locking behaviour of the postgres backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

var (
	errForeignTx   = errors.New("memory: transaction from another backend")
	errTxDone      = errors.New("memory: transaction already finished")
	errRowNotHeld  = errors.New("memory: row not locked by transaction")
	errDuplicateID = errors.New("memory: duplicate id")
)

type splitKey struct {
	ledgerID string
	id       int64
}

// Store holds all rows of the memory backend.
type Store struct {
	mu           sync.RWMutex
	ledgers      map[string]*domain.Ledger
	ledgerOrder  []string
	splits       map[splitKey]*domain.Split
	ledgerSplits map[string][]int64
	payouts      map[splitKey]*domain.PayoutIntent
	payoutRefs   map[string]splitKey
	events       []*domain.OutboxEvent
	eventIndex   map[string]int
	seq          int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		ledgers:      make(map[string]*domain.Ledger),
		splits:       make(map[splitKey]*domain.Split),
		ledgerSplits: make(map[string][]int64),
		payouts:      make(map[splitKey]*domain.PayoutIntent),
		payoutRefs:   make(map[string]splitKey),
		eventIndex:   make(map[string]int),
		locks:        make(map[string]chan struct{}),
	}
}

func (s *Store) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

func ledgerLockKey(id string) string {
	return "ledger/" + id
}

func splitLockKey(ledgerID string, id int64) string {
	return fmt.Sprintf("split/%s/%d", ledgerID, id)
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// NewTxManager creates a new TxManager.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: m.store, held: make(map[string]chan struct{})}, nil
}

// Tx is a memory transaction.
type Tx struct {
	mu     sync.Mutex
	store  *Store
	held   map[string]chan struct{}
	writes []func(*Store)
	done   bool
}

// lock acquires the row lock for key, waiting until it is free or ctx ends.
func (t *Tx) lock(ctx context.Context, key string) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return errTxDone
	}
	if _, ok := t.held[key]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	l := t.store.rowLock(key)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		<-l
		return errTxDone
	}
	t.held[key] = l
	return nil
}

func (t *Tx) holds(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[key]
	return ok
}

func (t *Tx) stage(w func(*Store)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.writes = append(t.writes, w)
	return nil
}

// Commit applies all staged writes atomically and releases row locks.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}

	t.store.mu.Lock()
	for _, w := range t.writes {
		w(t.store)
	}
	t.store.mu.Unlock()

	t.finish()
	return nil
}

// Rollback discards staged writes and releases row locks. Rolling back a
// finished transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	for key, l := range t.held {
		<-l
		delete(t.held, key)
	}
	t.writes = nil
	t.done = true
}

func asTx(tx usecase.Transaction) (*Tx, error) {
	mtx, ok := tx.(*Tx)
	if !ok {
		return nil, errForeignTx
	}
	return mtx, nil
}

func copyLedger(l *domain.Ledger) *domain.Ledger {
	c := *l
	return &c
}
