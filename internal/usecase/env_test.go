package usecase_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iho/splitledger/internal/adapter/payout"
	"github.com/iho/splitledger/internal/adapter/repository/memory"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/usecase"
)

type ulidGen struct{}

func (ulidGen) Generate() string { return ulid.Make().String() }

type testEnv struct {
	txm          *memory.TxManager
	ledgerRepo   *memory.LedgerRepository
	splitRepo    *memory.SplitRepository
	payouts      *memory.PayoutRepository
	bank         *payout.Bank
	metrics      *metrics.Metrics
	factory      *usecase.FactoryUseCase
	splits       *usecase.SplitUseCase
	distribution *usecase.DistributionUseCase
	fees         *usecase.FeeUseCase
	consistency  *usecase.ConsistencyUseCase
}

func newTestEnv(t *testing.T, creationFee decimal.Decimal) *testEnv {
	t.Helper()

	store := memory.NewStore()
	txm := memory.NewTxManager(store)
	ledgers := memory.NewLedgerRepository(store)
	splits := memory.NewSplitRepository(store)
	outbox := memory.NewOutboxRepository(store)
	payouts := memory.NewPayoutRepository(store)
	bank := payout.NewBank(zerolog.Nop())
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	idGen := ulidGen{}

	return &testEnv{
		txm:        txm,
		ledgerRepo: ledgers,
		splitRepo:  splits,
		payouts:    payouts,
		bank:       bank,
		metrics:    m,
		factory:    usecase.NewFactoryUseCase(txm, ledgers, outbox, idGen, nil, usecase.FactoryConfig{
			CreationFee:   creationFee,
			DefaultFeeBps: domain.DefaultProtocolFeeBps,
		}, m),
		splits:       usecase.NewSplitUseCase(txm, ledgers, splits, outbox, idGen, nil, nil, m),
		distribution: usecase.NewDistributionUseCase(txm, ledgers, splits, outbox, payouts, idGen, nil, bank, nil, m),
		fees:         usecase.NewFeeUseCase(txm, ledgers, outbox, payouts, idGen, nil, bank, m),
		consistency:  usecase.NewConsistencyUseCase(txm, ledgers, splits, outbox),
	}
}

func addr(n int) domain.Address {
	return domain.Address(fmt.Sprintf("0x%040x", n))
}

func units(s string) decimal.Decimal {
	d, err := domain.ParseUnits(s, domain.UnitDecimals)
	if err != nil {
		panic(err)
	}
	return d
}

// owner creates every protocol in these tests.
var owner = addr(0xaaa)

func (e *testEnv) createProtocol(t *testing.T) *domain.Ledger {
	t.Helper()
	l, err := e.factory.CreateProtocol(context.Background(), usecase.CreateProtocolInput{
		Caller:  owner,
		Name:    "test protocol",
		Payment: e.factory.CreationFee(),
	})
	require.NoError(t, err)
	return l
}

func (e *testEnv) createSplit(t *testing.T, ledgerID string, shares ...int64) *domain.Split {
	t.Helper()
	holders := make([]string, len(shares))
	for i := range shares {
		holders[i] = addr(i + 1).String()
	}
	s, err := e.splits.CreateSplit(context.Background(), usecase.CreateSplitInput{
		LedgerID: ledgerID,
		Caller:   owner,
		Name:     "test split",
		Holders:  holders,
		Shares:   shares,
	})
	require.NoError(t, err)
	return s
}
