package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/adapter/payout"
	postgresRepo "github.com/iho/splitledger/internal/adapter/repository/postgres"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/postgres"
	"github.com/iho/splitledger/internal/usecase"
)

// TestDB provides isolated test database connections.
type TestDB struct {
	Pool *pgxpool.Pool
	t    *testing.T
}

// NewTestDB connects to DATABASE_URL and migrates it. The test is skipped
// when DATABASE_URL is unset or -short is given.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	if err := postgres.RunMigrations(dbURL, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dbURL, 20, 2)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	db := &TestDB{Pool: pool, t: t}
	db.TruncateAll(ctx)
	t.Cleanup(db.Cleanup)
	return db
}

// Cleanup closes the database connection.
func (db *TestDB) Cleanup() {
	db.Pool.Close()
}

// TruncateAll removes all data from tables.
func (db *TestDB) TruncateAll(ctx context.Context) {
	db.t.Helper()

	_, err := db.Pool.Exec(ctx, `
		TRUNCATE TABLE payout_intents, outbox_events, split_holders, splits, ledgers RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		db.t.Fatalf("failed to truncate tables: %v", err)
	}
}

// Stack is the Postgres-backed use case graph the server wires.
type Stack struct {
	Factory      *usecase.FactoryUseCase
	Splits       *usecase.SplitUseCase
	Distribution *usecase.DistributionUseCase
	Fees         *usecase.FeeUseCase
	Consistency  *usecase.ConsistencyUseCase
	Outbox       *postgresRepo.OutboxRepository
	Splitter     *postgresRepo.SplitRepository
	Bank         *payout.Bank
}

// NewStack wires use cases over db with a 1% default fee and no creation fee.
func (db *TestDB) NewStack() *Stack {
	logger := zerolog.Nop()

	txManager := postgresRepo.NewTxManager(db.Pool)
	ledgerRepo := postgresRepo.NewLedgerRepository(db.Pool)
	splitRepo := postgresRepo.NewSplitRepository(db.Pool)
	outboxRepo := postgresRepo.NewOutboxRepository(db.Pool)
	payoutRepo := postgresRepo.NewPayoutRepository()
	idGen := postgresRepo.NewULIDGenerator()
	retrier := postgresRepo.NewRetrier(logger)
	bank := payout.NewBank(logger)

	return &Stack{
		Factory: usecase.NewFactoryUseCase(txManager, ledgerRepo, outboxRepo, idGen, retrier,
			usecase.FactoryConfig{CreationFee: decimal.Zero, DefaultFeeBps: 100}, nil),
		Splits:       usecase.NewSplitUseCase(txManager, ledgerRepo, splitRepo, outboxRepo, idGen, retrier, nil, nil),
		Distribution: usecase.NewDistributionUseCase(txManager, ledgerRepo, splitRepo, outboxRepo, payoutRepo, idGen, retrier, bank, nil, nil),
		Fees:         usecase.NewFeeUseCase(txManager, ledgerRepo, outboxRepo, payoutRepo, idGen, retrier, bank, nil),
		Consistency:  usecase.NewConsistencyUseCase(txManager, ledgerRepo, splitRepo, outboxRepo),
		Outbox:       outboxRepo,
		Splitter:     splitRepo,
		Bank:         bank,
	}
}

// Address returns a deterministic test address ending in n.
func Address(n int) domain.Address {
	const hex = "0123456789abcdef"
	b := []byte("0x0000000000000000000000000000000000000000")
	for i := len(b) - 1; n > 0 && i > 1; i-- {
		b[i] = hex[n%16]
		n /= 16
	}
	return domain.Address(b)
}

// CreateProtocol creates a protocol owned by owner.
func (s *Stack) CreateProtocol(t *testing.T, ctx context.Context, owner domain.Address) *domain.Ledger {
	t.Helper()

	ledger, err := s.Factory.CreateProtocol(ctx, usecase.CreateProtocolInput{Caller: owner, Name: "acme", Payment: decimal.Zero})
	if err != nil {
		t.Fatalf("failed to create protocol: %v", err)
	}
	return ledger
}

// CreateSplit registers a split with holders and shares on ledgerID.
func (s *Stack) CreateSplit(t *testing.T, ctx context.Context, ledgerID string, creator domain.Address, holders []domain.Address, shares []int64) *domain.Split {
	t.Helper()

	raw := make([]string, len(holders))
	for i, h := range holders {
		raw[i] = h.String()
	}
	split, err := s.Splits.CreateSplit(ctx, usecase.CreateSplitInput{
		LedgerID: ledgerID,
		Caller:   creator,
		Name:     "split",
		Holders:  raw,
		Shares:   shares,
	})
	if err != nil {
		t.Fatalf("failed to create split: %v", err)
	}
	return split
}
