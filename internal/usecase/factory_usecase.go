package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

// FactoryConfig holds the factory's pricing and defaults.
type FactoryConfig struct {
	CreationFee   decimal.Decimal
	DefaultFeeBps int64
}

// FactoryUseCase creates and looks up independent ledger instances.
type FactoryUseCase struct {
	txManager  TransactionManager
	ledgerRepo LedgerRepository
	outboxRepo OutboxRepository
	idGen      IDGenerator
	retrier    Retrier
	config     FactoryConfig
	metrics    *metrics.Metrics
}

func NewFactoryUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	outboxRepo OutboxRepository,
	idGen IDGenerator,
	retrier Retrier,
	config FactoryConfig,
	metrics *metrics.Metrics,
) *FactoryUseCase {
	return &FactoryUseCase{
		txManager:  txManager,
		ledgerRepo: ledgerRepo,
		outboxRepo: outboxRepo,
		idGen:      idGen,
		retrier:    retrier,
		config:     config,
		metrics:    metrics,
	}
}

// CreateProtocolInput contains input for creating a ledger instance.
type CreateProtocolInput struct {
	Caller  domain.Address
	Name    string
	Payment decimal.Decimal
}

// CreateProtocol creates a new ledger owned by the caller.
func (uc *FactoryUseCase) CreateProtocol(ctx context.Context, input CreateProtocolInput) (*domain.Ledger, error) {
	if err := validateCaller(input.Caller); err != nil {
		return nil, err
	}
	name, err := domain.ValidateName(input.Name)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateBaseUnits(input.Payment); err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	if input.Payment.LessThan(uc.config.CreationFee) {
		return nil, fmt.Errorf("%w: paid %s, creation fee is %s", domain.ErrInsufficientFee, input.Payment, uc.config.CreationFee)
	}
	if err := domain.ValidateFeeRate(uc.config.DefaultFeeBps); err != nil {
		return nil, err
	}

	var ledger *domain.Ledger
	err = withRetry(ctx, uc.retrier, func() error {
		var err error
		ledger, err = uc.createProtocol(ctx, input.Caller, name, input.Payment)
		return err
	})
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.ProtocolsCreated.Inc()
		uc.metrics.CreationFees.Add(input.Payment.InexactFloat64())
	}

	return ledger, nil
}

func (uc *FactoryUseCase) createProtocol(ctx context.Context, caller domain.Address, name string, payment decimal.Decimal) (*domain.Ledger, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	now := time.Now().UTC()
	ledger := &domain.Ledger{
		ID:                 uc.idGen.Generate(),
		Name:               name,
		Owner:              caller,
		FeeRateBps:         uc.config.DefaultFeeBps,
		TotalFeesCollected: decimal.Zero,
		FeesWithdrawable:   decimal.Zero,
		SplitCount:         0,
		TotalDistributed:   decimal.Zero,
		CreationPayment:    payment,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := uc.ledgerRepo.Create(txCtx, tx, ledger); err != nil {
		return nil, err
	}

	payload := domain.ProtocolCreatedEvent{
		LedgerID:   ledger.ID,
		Name:       ledger.Name,
		Creator:    ledger.Owner.String(),
		Payment:    payment.String(),
		FeeRateBps: ledger.FeeRateBps,
		EventAt:    domain.FormatEventTime(now),
	}
	if err := emit(txCtx, tx, uc.outboxRepo, uc.idGen, ledger.ID, domain.AggregateTypeLedger, ledger.ID, domain.EventTypeProtocolCreated, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return ledger, nil
}

// GetProtocol retrieves a ledger by ID.
func (uc *FactoryUseCase) GetProtocol(ctx context.Context, id string) (*domain.Ledger, error) {
	return uc.ledgerRepo.GetByID(ctx, id)
}

// ListProtocols lists ledgers in creation order.
func (uc *FactoryUseCase) ListProtocols(ctx context.Context, limit, offset int) ([]*domain.Ledger, error) {
	limit, offset = domain.ValidatePagination(limit, offset)
	return uc.ledgerRepo.List(ctx, limit, offset)
}

// ListProtocolsByCreator lists the ledgers created by creator.
func (uc *FactoryUseCase) ListProtocolsByCreator(ctx context.Context, creator domain.Address) ([]*domain.Ledger, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	return uc.ledgerRepo.ListByOwner(ctx, creator)
}

// Stats returns the protocol count, creation payments received and the
// current creation fee.
func (uc *FactoryUseCase) Stats(ctx context.Context) (*domain.FactoryStats, error) {
	count, total, err := uc.ledgerRepo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.FactoryStats{
		ProtocolCount:     count,
		TotalCreationFees: total,
		CreationFee:       uc.config.CreationFee,
	}, nil
}

// CreationFee returns the payment required to create a ledger.
func (uc *FactoryUseCase) CreationFee() decimal.Decimal {
	return uc.config.CreationFee
}
