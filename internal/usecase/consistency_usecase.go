package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
)

// ConsistencyUseCase verifies stored ledger state against its emitted records.
type ConsistencyUseCase struct {
	txManager  TransactionManager
	ledgerRepo LedgerRepository
	splitRepo  SplitRepository
	outboxRepo OutboxRepository
}

// NewConsistencyUseCase creates a new consistency use case
func NewConsistencyUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	splitRepo SplitRepository,
	outboxRepo OutboxRepository,
) *ConsistencyUseCase {
	return &ConsistencyUseCase{
		txManager:  txManager,
		ledgerRepo: ledgerRepo,
		splitRepo:  splitRepo,
		outboxRepo: outboxRepo,
	}
}

// ConsistencyReport is the result of a ledger consistency check
type ConsistencyReport struct {
	LedgerID     string
	EventCount   int
	SplitCount   int64
	IsConsistent bool
	Mismatches   []string
	CheckedAt    time.Time
}

// ListEvents returns a ledger's emitted records after the given sequence number.
func (uc *ConsistencyUseCase) ListEvents(ctx context.Context, ledgerID string, afterSeq int64, limit int) ([]*domain.OutboxEvent, error) {
	if _, err := uc.ledgerRepo.GetByID(ctx, ledgerID); err != nil {
		return nil, err
	}
	limit, _ = domain.ValidatePagination(limit, 0)
	return uc.outboxRepo.ListByLedger(ctx, ledgerID, afterSeq, limit)
}

// CheckLedger replays the ledger's emitted records and compares the result
// with stored state. It also checks the share and fee invariants of every
// stored split.
func (uc *ConsistencyUseCase) CheckLedger(ctx context.Context, ledgerID string) (*ConsistencyReport, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	// Every mutation takes the ledger lock, so holding it freezes the ledger
	// while events and state are read.
	stored, err := uc.ledgerRepo.GetByIDForUpdate(txCtx, tx, ledgerID)
	if err != nil {
		return nil, err
	}

	events, err := uc.loadEvents(txCtx, ledgerID)
	if err != nil {
		return nil, err
	}
	splits, err := uc.loadSplits(txCtx, ledgerID)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{
		LedgerID:   ledgerID,
		EventCount: len(events),
		SplitCount: stored.SplitCount,
		CheckedAt:  time.Now().UTC(),
	}

	snap, err := domain.Replay(events)
	if err != nil {
		report.Mismatches = append(report.Mismatches, err.Error())
	} else {
		report.Mismatches = append(report.Mismatches, compareLedger(snap.Ledger, stored)...)
		report.Mismatches = append(report.Mismatches, compareSplits(snap.Splits, splits)...)
	}
	report.Mismatches = append(report.Mismatches, checkInvariants(stored, splits)...)
	report.IsConsistent = len(report.Mismatches) == 0

	return report, nil
}

func (uc *ConsistencyUseCase) loadEvents(ctx context.Context, ledgerID string) ([]*domain.OutboxEvent, error) {
	var all []*domain.OutboxEvent
	var after int64
	for {
		page, err := uc.outboxRepo.ListByLedger(ctx, ledgerID, after, replayPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load events: %w", err)
		}
		all = append(all, page...)
		if len(page) < replayPageSize {
			return all, nil
		}
		after = page[len(page)-1].Sequence
	}
}

func (uc *ConsistencyUseCase) loadSplits(ctx context.Context, ledgerID string) ([]*domain.Split, error) {
	var all []*domain.Split
	for offset := 0; ; offset += replayPageSize {
		page, err := uc.splitRepo.ListByLedger(ctx, ledgerID, replayPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to load splits: %w", err)
		}
		all = append(all, page...)
		if len(page) < replayPageSize {
			return all, nil
		}
	}
}

func compareLedger(replayed, stored *domain.Ledger) []string {
	var out []string
	if replayed.FeeRateBps != stored.FeeRateBps {
		out = append(out, fmt.Sprintf("ledger fee rate: replayed %d, stored %d", replayed.FeeRateBps, stored.FeeRateBps))
	}
	if replayed.SplitCount != stored.SplitCount {
		out = append(out, fmt.Sprintf("ledger split count: replayed %d, stored %d", replayed.SplitCount, stored.SplitCount))
	}
	out = appendAmountMismatch(out, "ledger total fees collected", replayed.TotalFeesCollected, stored.TotalFeesCollected)
	out = appendAmountMismatch(out, "ledger fees withdrawable", replayed.FeesWithdrawable, stored.FeesWithdrawable)
	out = appendAmountMismatch(out, "ledger total distributed", replayed.TotalDistributed, stored.TotalDistributed)
	return out
}

func compareSplits(replayed map[int64]*domain.Split, stored []*domain.Split) []string {
	var out []string
	if len(replayed) != len(stored) {
		out = append(out, fmt.Sprintf("split count: replayed %d, stored %d", len(replayed), len(stored)))
	}

	for _, s := range stored {
		r, ok := replayed[s.ID]
		if !ok {
			out = append(out, fmt.Sprintf("split %d: stored but never created", s.ID))
			continue
		}
		prefix := fmt.Sprintf("split %d", s.ID)
		if r.Active != s.Active {
			out = append(out, fmt.Sprintf("%s active: replayed %v, stored %v", prefix, r.Active, s.Active))
		}
		out = appendAmountMismatch(out, prefix+" pending balance", r.PendingBalance, s.PendingBalance)
		out = appendAmountMismatch(out, prefix+" pending fees", r.PendingFees, s.PendingFees)
		out = appendAmountMismatch(out, prefix+" total distributed", r.TotalDistributed, s.TotalDistributed)

		if len(r.Holders) != len(s.Holders) {
			out = append(out, fmt.Sprintf("%s holders: replayed %d, stored %d", prefix, len(r.Holders), len(s.Holders)))
			continue
		}
		for i := range s.Holders {
			rh, sh := r.Holders[i], s.Holders[i]
			if rh.Address != sh.Address || rh.Shares != sh.Shares {
				out = append(out, fmt.Sprintf("%s holder %d: replayed %s/%d, stored %s/%d", prefix, i, rh.Address, rh.Shares, sh.Address, sh.Shares))
				continue
			}
			out = appendAmountMismatch(out, fmt.Sprintf("%s holder %s claimed", prefix, sh.Address), rh.Claimed, sh.Claimed)
		}
	}

	return out
}

func checkInvariants(ledger *domain.Ledger, splits []*domain.Split) []string {
	var out []string
	if ledger.FeesWithdrawable.GreaterThan(ledger.TotalFeesCollected) {
		out = append(out, fmt.Sprintf("ledger fees withdrawable %s exceeds collected %s", ledger.FeesWithdrawable, ledger.TotalFeesCollected))
	}

	distributed := decimal.Zero
	for _, s := range splits {
		var sum int64
		for _, h := range s.Holders {
			sum += h.Shares
		}
		if sum != s.TotalShares || s.TotalShares != domain.TotalShares {
			out = append(out, fmt.Sprintf("split %d shares sum to %d, total shares %d", s.ID, sum, s.TotalShares))
		}
		if s.PendingBalance.IsNegative() {
			out = append(out, fmt.Sprintf("split %d pending balance is negative: %s", s.ID, s.PendingBalance))
		}
		distributed = distributed.Add(s.TotalDistributed)
	}

	if !distributed.Equal(ledger.TotalDistributed) {
		out = append(out, fmt.Sprintf("ledger total distributed %s != sum of splits %s", ledger.TotalDistributed, distributed))
	}
	return out
}

func appendAmountMismatch(out []string, what string, replayed, stored decimal.Decimal) []string {
	if !replayed.Equal(stored) {
		out = append(out, fmt.Sprintf("%s: replayed %s, stored %s", what, replayed, stored))
	}
	return out
}
