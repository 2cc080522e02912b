package domain

import (
	"github.com/shopspring/decimal"
)

// Payout is a single holder's share of a distribution.
type Payout struct {
	Holder Address
	Amount decimal.Decimal
}

// DistributionPlan is the computed outcome of distributing a pending balance.
type DistributionPlan struct {
	Total   decimal.Decimal
	Fee     decimal.Decimal
	Payouts []Payout
}

// PlanDistribution computes each holder's payout of balance in holder order.
// Every holder receives floor(balance * shares / totalShares); the last holder
// also receives the division remainder so the payouts sum to balance exactly.
func PlanDistribution(balance decimal.Decimal, holders []ShareHolder, totalShares int64) (*DistributionPlan, error) {
	if !balance.IsPositive() {
		return nil, ErrNothingToDistribute
	}
	if len(holders) == 0 {
		return nil, ErrNoHolders
	}
	if totalShares <= 0 {
		return nil, ErrShareSumMismatch
	}

	payouts := make([]Payout, len(holders))
	distributed := decimal.Zero

	for i, h := range holders {
		amount := MulDivFloor(balance, h.Shares, totalShares)
		if i == len(holders)-1 {
			// Last holder gets remainder
			amount = balance.Sub(distributed)
		}
		payouts[i] = Payout{Holder: h.Address, Amount: amount}
		distributed = distributed.Add(amount)
	}

	return &DistributionPlan{Total: balance, Payouts: payouts}, nil
}

// Plan computes the distribution of the split's current pending balance.
func (s *Split) Plan() (*DistributionPlan, error) {
	plan, err := PlanDistribution(s.PendingBalance, s.Holders, s.TotalShares)
	if err != nil {
		return nil, err
	}
	plan.Fee = s.PendingFees
	return plan, nil
}

// PayoutFor returns the planned amount for holder.
func (p *DistributionPlan) PayoutFor(holder Address) (decimal.Decimal, bool) {
	for _, po := range p.Payouts {
		if po.Holder == holder {
			return po.Amount, true
		}
	}
	return decimal.Zero, false
}

// ApplyDistribution credits every holder and removes the plan's total and fee
// from the pending cycle. A plan from Plan empties the cycle; a plan reserved
// earlier leaves deposits received since then pending. Payouts are in holder
// order.
func (s *Split) ApplyDistribution(plan *DistributionPlan) {
	for i, po := range plan.Payouts {
		s.Holders[i].Claimed = s.Holders[i].Claimed.Add(po.Amount)
	}
	s.TotalDistributed = s.TotalDistributed.Add(plan.Total)
	s.PendingBalance = s.PendingBalance.Sub(plan.Total)
	s.PendingFees = s.PendingFees.Sub(plan.Fee)
}
