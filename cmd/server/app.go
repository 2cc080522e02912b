package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/splitledger/internal/adapter/http"
	"github.com/iho/splitledger/internal/adapter/http/handler"
	"github.com/iho/splitledger/internal/adapter/http/middleware"
	"github.com/iho/splitledger/internal/adapter/journal"
	"github.com/iho/splitledger/internal/adapter/payout"
	"github.com/iho/splitledger/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/splitledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/splitledger/internal/adapter/repository/redis"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/auth"
	"github.com/iho/splitledger/internal/infrastructure/config"
	"github.com/iho/splitledger/internal/infrastructure/eventpublisher"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/infrastructure/postgres"
	"github.com/iho/splitledger/internal/infrastructure/redis"
	"github.com/iho/splitledger/internal/usecase"
)

// app is the wired service: storage, use cases, router and outbox worker.
type app struct {
	handler     http.Handler
	publisher   *eventpublisher.EventPublisher
	rateLimiter *middleware.RateLimiter
	factory     *usecase.FactoryUseCase
	bank        *payout.Bank
	closers     []func()
}

type storage struct {
	txManager  usecase.TransactionManager
	ledgerRepo usecase.LedgerRepository
	splitRepo  usecase.SplitRepository
	outboxRepo usecase.OutboxRepository
	payoutRepo usecase.PayoutRepository
	retrier    usecase.Retrier
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}
	checks := map[string]handler.Checker{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewWithRegisterer(reg)

	// Storage
	var store storage
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		if cfg.DatabaseMigrate {
			if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DatabaseMaxConns,
			MinConns:    cfg.DatabaseMinConns,
			ConnTimeout: cfg.DatabaseTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		checks["postgres"] = pool.Ping
		logger.Info().Msg("connected to postgres")

		store = storage{
			txManager:  postgresRepo.NewTxManager(pool),
			ledgerRepo: postgresRepo.NewLedgerRepository(pool),
			splitRepo:  postgresRepo.NewSplitRepository(pool),
			outboxRepo: postgresRepo.NewOutboxRepository(pool),
			payoutRepo: postgresRepo.NewPayoutRepository(),
			retrier:    postgresRepo.NewRetrier(logger),
		}
	default:
		mem := memory.NewStore()
		store = storage{
			txManager:  memory.NewTxManager(mem),
			ledgerRepo: memory.NewLedgerRepository(mem),
			splitRepo:  memory.NewSplitRepository(mem),
			outboxRepo: memory.NewOutboxRepository(mem),
			payoutRepo: memory.NewPayoutRepository(mem),
		}
		logger.Warn().Msg("using in-memory storage; state is lost on restart")
	}

	// Redis backs the split cache and idempotency keys when configured.
	var (
		cache            usecase.Cache
		idempotencyStore usecase.IdempotencyStore = memory.NewIdempotencyStore()
	)
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		cache = redisRepo.NewCache(client)
		idempotencyStore = redisRepo.NewIdempotencyStore(client)
	}

	idGen := postgresRepo.NewULIDGenerator()
	a.bank = payout.NewBank(logger)

	// Use cases
	a.factory = usecase.NewFactoryUseCase(store.txManager, store.ledgerRepo, store.outboxRepo, idGen, store.retrier,
		usecase.FactoryConfig{
			CreationFee:   cfg.CreationFee,
			DefaultFeeBps: cfg.DefaultProtocolFeeBps,
		}, m)
	splitUC := usecase.NewSplitUseCase(store.txManager, store.ledgerRepo, store.splitRepo, store.outboxRepo,
		idGen, store.retrier, cache, m)
	distributionUC := usecase.NewDistributionUseCase(store.txManager, store.ledgerRepo, store.splitRepo, store.outboxRepo,
		store.payoutRepo, idGen, store.retrier, a.bank, cache, m)
	feeUC := usecase.NewFeeUseCase(store.txManager, store.ledgerRepo, store.outboxRepo, store.payoutRepo,
		idGen, store.retrier, a.bank, m)
	consistencyUC := usecase.NewConsistencyUseCase(store.txManager, store.ledgerRepo, store.splitRepo, store.outboxRepo)

	// Outbox worker
	var publisher eventpublisher.Publisher = eventpublisher.NewLogPublisher(logger)
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.closers = append(a.closers, func() { _ = j.Close() })
		publisher = eventpublisher.Fanout{publisher, j}
		logger.Info().Str("path", cfg.JournalPath).Msg("journaling emitted records")
	}
	a.publisher = eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: store.outboxRepo,
		Publisher:  publisher,
		Logger:     logger,
		Metrics:    m,
		BatchSize:  cfg.PublisherBatchSize,
		Interval:   cfg.PublisherInterval,
	})

	var jwtManager *auth.JWTManager
	if cfg.AuthEnabled {
		jwtManager = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	}
	a.rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).WithMetrics(m)

	a.handler = httpAdapter.NewRouter(httpAdapter.RouterConfig{
		ProtocolHandler:    handler.NewProtocolHandler(a.factory),
		SplitHandler:       handler.NewSplitHandler(splitUC, distributionUC),
		FeeHandler:         handler.NewFeeHandler(feeUC),
		ConsistencyHandler: handler.NewConsistencyHandler(consistencyUC),
		HealthHandler:      handler.NewHealthHandler(checks),
		Logger:             logger,
		Metrics:            m,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTManager:         jwtManager,
		RateLimiter:        a.rateLimiter,
		IdempotencyStore:   idempotencyStore,
		IdempotencyTTL:     cfg.IdempotencyTTL,
	})

	return a, nil
}

// bootstrap creates the configured bootstrap protocol unless protocols exist.
func (a *app) bootstrap(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.BootstrapOwner == "" {
		return nil
	}

	existing, err := a.factory.ListProtocols(ctx, 1, 0)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	owner, err := domain.ParseAddress(cfg.BootstrapOwner)
	if err != nil {
		return err
	}
	ledger, err := a.factory.CreateProtocol(ctx, usecase.CreateProtocolInput{
		Caller:  owner,
		Name:    cfg.BootstrapName,
		Payment: a.factory.CreationFee(),
	})
	if err != nil {
		return fmt.Errorf("create bootstrap protocol: %w", err)
	}

	logger.Info().
		Str("ledger_id", ledger.ID).
		Str("owner", ledger.Owner.String()).
		Msg("bootstrap protocol created")
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
