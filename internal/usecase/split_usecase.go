package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

// SplitUseCase manages the split registry of a ledger.
type SplitUseCase struct {
	txManager  TransactionManager
	ledgerRepo LedgerRepository
	splitRepo  SplitRepository
	outboxRepo OutboxRepository
	idGen      IDGenerator
	retrier    Retrier
	cache      Cache
	metrics    *metrics.Metrics
}

func NewSplitUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	splitRepo SplitRepository,
	outboxRepo OutboxRepository,
	idGen IDGenerator,
	retrier Retrier,
	cache Cache,
	metrics *metrics.Metrics,
) *SplitUseCase {
	return &SplitUseCase{
		txManager:  txManager,
		ledgerRepo: ledgerRepo,
		splitRepo:  splitRepo,
		outboxRepo: outboxRepo,
		idGen:      idGen,
		retrier:    retrier,
		cache:      cache,
		metrics:    metrics,
	}
}

// CreateSplitInput contains input for creating a split.
type CreateSplitInput struct {
	LedgerID string
	Caller   domain.Address
	Name     string
	Holders  []string
	Shares   []int64
}

// CreateSplit registers a split with a fixed holder set. The split receives
// the ledger's next sequential ID.
func (uc *SplitUseCase) CreateSplit(ctx context.Context, input CreateSplitInput) (*domain.Split, error) {
	holders, err := domain.NewHolderSet(input.Holders, input.Shares)
	if err != nil {
		return nil, err
	}
	name, err := domain.ValidateName(input.Name)
	if err != nil {
		return nil, err
	}
	if err := validateCaller(input.Caller); err != nil {
		return nil, err
	}

	var split *domain.Split
	err = withRetry(ctx, uc.retrier, func() error {
		var err error
		split, err = uc.createSplit(ctx, input.LedgerID, input.Caller, name, holders)
		return err
	})
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.SplitsCreated.Inc()
	}

	return split, nil
}

func (uc *SplitUseCase) createSplit(ctx context.Context, ledgerID string, caller domain.Address, name string, holders []domain.ShareHolder) (*domain.Split, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	// Lock ledger to allocate the split ID
	ledger, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, ledgerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	split := &domain.Split{
		LedgerID:         ledger.ID,
		ID:               ledger.SplitCount,
		Name:             name,
		Creator:          caller,
		TotalShares:      domain.TotalShares,
		TotalDistributed: decimal.Zero,
		PendingBalance:   decimal.Zero,
		PendingFees:      decimal.Zero,
		Active:           true,
		Holders:          holders,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := uc.splitRepo.Create(txCtx, tx, split); err != nil {
		return nil, err
	}

	ledger.SplitCount++
	ledger.UpdatedAt = now
	if err := uc.ledgerRepo.Update(txCtx, tx, ledger); err != nil {
		return nil, err
	}

	payload := domain.SplitCreatedEvent{
		SplitID: split.ID,
		Name:    split.Name,
		Creator: split.Creator.String(),
		Holders: make([]string, len(holders)),
		Shares:  make([]int64, len(holders)),
		EventAt: domain.FormatEventTime(now),
	}
	for i, h := range holders {
		payload.Holders[i] = h.Address.String()
		payload.Shares[i] = h.Shares
	}
	if err := emit(txCtx, tx, uc.outboxRepo, uc.idGen, ledger.ID, domain.AggregateTypeSplit,
		domain.SplitAggregateID(ledger.ID, split.ID), domain.EventTypeSplitCreated, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return split, nil
}

// GetSplit retrieves a split, serving it from the read cache when possible.
func (uc *SplitUseCase) GetSplit(ctx context.Context, ledgerID string, splitID int64) (*domain.Split, error) {
	if uc.cache == nil {
		return uc.splitRepo.GetByID(ctx, ledgerID, splitID)
	}

	key := splitCacheKey(ledgerID, splitID)
	if data, err := uc.cache.Get(ctx, key); err == nil && len(data) > 0 {
		var cached domain.Split
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}
	return uc.loadSplit(ctx, key, ledgerID, splitID)
}

// loadSplit reads a split and caches it while holding the split lock.
// Writers invalidate after they commit, so a write that lands after this
// read always drops the snapshot cached here.
func (uc *SplitUseCase) loadSplit(ctx context.Context, key, ledgerID string, splitID int64) (*domain.Split, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	split, err := uc.splitRepo.GetByIDForUpdate(txCtx, tx, ledgerID, splitID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(split); err == nil {
		_ = uc.cache.Set(txCtx, key, data, SplitCacheTTL)
	}
	return split, nil
}

// GetHolders returns a split's holders in creation order.
func (uc *SplitUseCase) GetHolders(ctx context.Context, ledgerID string, splitID int64) ([]domain.ShareHolder, error) {
	split, err := uc.GetSplit(ctx, ledgerID, splitID)
	if err != nil {
		return nil, err
	}
	return split.Holders, nil
}

// ListSplits lists a ledger's splits in ID order.
func (uc *SplitUseCase) ListSplits(ctx context.Context, ledgerID string, limit, offset int) ([]*domain.Split, error) {
	if _, err := uc.ledgerRepo.GetByID(ctx, ledgerID); err != nil {
		return nil, err
	}
	limit, offset = domain.ValidatePagination(limit, offset)
	return uc.splitRepo.ListByLedger(ctx, ledgerID, limit, offset)
}

// DeactivateSplit stops a split from accepting deposits. Only the split
// creator or the ledger owner may deactivate it.
func (uc *SplitUseCase) DeactivateSplit(ctx context.Context, ledgerID string, splitID int64, caller domain.Address) (*domain.Split, error) {
	if err := validateCaller(caller); err != nil {
		return nil, err
	}

	var split *domain.Split
	err := withRetry(ctx, uc.retrier, func() error {
		var err error
		split, err = uc.deactivateSplit(ctx, ledgerID, splitID, caller)
		return err
	})
	if err != nil {
		return nil, err
	}

	invalidateSplit(ctx, uc.cache, ledgerID, splitID)

	if uc.metrics != nil {
		uc.metrics.SplitsDeactivated.Inc()
	}

	return split, nil
}

func (uc *SplitUseCase) deactivateSplit(ctx context.Context, ledgerID string, splitID int64, caller domain.Address) (*domain.Split, error) {
	// Add transaction timeout
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	// Lock split first, then its ledger
	split, err := uc.splitRepo.GetByIDForUpdate(txCtx, tx, ledgerID, splitID)
	if err != nil {
		return nil, err
	}
	ledger, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, ledgerID)
	if err != nil {
		return nil, err
	}

	if caller != split.Creator && !ledger.IsOwner(caller) {
		return nil, domain.ErrUnauthorized
	}
	if !split.Active {
		return nil, domain.ErrSplitInactive
	}

	now := time.Now().UTC()
	split.Active = false
	split.UpdatedAt = now
	if err := uc.splitRepo.Update(txCtx, tx, split); err != nil {
		return nil, err
	}

	payload := domain.SplitDeactivatedEvent{
		SplitID: split.ID,
		By:      caller.String(),
		EventAt: domain.FormatEventTime(now),
	}
	if err := emit(txCtx, tx, uc.outboxRepo, uc.idGen, ledgerID, domain.AggregateTypeSplit,
		domain.SplitAggregateID(ledgerID, split.ID), domain.EventTypeSplitDeactivated, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return split, nil
}
