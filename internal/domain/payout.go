package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FeeWithdrawalSplitID is the SplitID of a ledger's fee withdrawal intent.
const FeeWithdrawalSplitID int64 = -1

// PayoutIntent is a payout batch reserved before it is handed to the payer.
// At most one intent is open per split, and per ledger for fee withdrawals.
// The intent is deleted when the batch settles or is cancelled; an intent
// left behind by a crash is resent under the same Reference.
type PayoutIntent struct {
	Reference  string
	LedgerID   string
	SplitID    int64
	Total      decimal.Decimal
	Fee        decimal.Decimal
	Attempt    int
	ReservedAt time.Time
}

// NewPayoutIntent reserves total (and the fee it carries) for a first attempt.
func NewPayoutIntent(ref, ledgerID string, splitID int64, total, fee decimal.Decimal, now time.Time) *PayoutIntent {
	return &PayoutIntent{
		Reference:  ref,
		LedgerID:   ledgerID,
		SplitID:    splitID,
		Total:      total,
		Fee:        fee,
		Attempt:    1,
		ReservedAt: now,
	}
}

// Stale reports whether the attempt holding the intent has had longer than
// after to settle it.
func (p *PayoutIntent) Stale(now time.Time, after time.Duration) bool {
	return now.Sub(p.ReservedAt) >= after
}

// Adopt takes a stale intent over for a new attempt.
func (p *PayoutIntent) Adopt(now time.Time) {
	p.Attempt++
	p.ReservedAt = now
}

// HeldBy reports whether the intent still belongs to the given attempt.
func (p *PayoutIntent) HeldBy(ref string, attempt int) bool {
	return p.Reference == ref && p.Attempt == attempt
}

// PlanFor rebuilds the plan reserved by intent. Holders never change, so
// the plan is the one the intent was created from.
func (s *Split) PlanFor(intent *PayoutIntent) (*DistributionPlan, error) {
	if intent.Total.GreaterThan(s.PendingBalance) || intent.Fee.GreaterThan(s.PendingFees) {
		return nil, fmt.Errorf("%w: reserved %s exceeds pending %s", ErrNothingToDistribute, intent.Total, s.PendingBalance)
	}
	plan, err := PlanDistribution(intent.Total, s.Holders, s.TotalShares)
	if err != nil {
		return nil, err
	}
	plan.Fee = intent.Fee
	return plan, nil
}
