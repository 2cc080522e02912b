package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TotalShares is the fixed share denominator of every split.
const TotalShares = 100

// Split is a named revenue-sharing arrangement with fixed holders.
type Split struct {
	LedgerID         string
	ID               int64
	Name             string
	Creator          Address
	TotalShares      int64
	TotalDistributed decimal.Decimal
	PendingBalance   decimal.Decimal
	PendingFees      decimal.Decimal
	Active           bool
	Holders          []ShareHolder
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ShareHolder is one holder's entitlement within a split.
type ShareHolder struct {
	Position int
	Address  Address
	Shares   int64
	Claimed  decimal.Decimal
}

// Holder returns the holder record for addr.
func (s *Split) Holder(addr Address) (*ShareHolder, bool) {
	for i := range s.Holders {
		if s.Holders[i].Address == addr {
			return &s.Holders[i], true
		}
	}
	return nil, false
}

// ValidateDeposit checks that the split can accept funds.
func (s *Split) ValidateDeposit(amount decimal.Decimal) error {
	if !s.Active {
		return ErrSplitInactive
	}
	return ValidateAmount(amount)
}

// ApplyDeposit adds the net amount and its fee to the pending cycle.
func (s *Split) ApplyDeposit(net, fee decimal.Decimal) {
	s.PendingBalance = s.PendingBalance.Add(net)
	s.PendingFees = s.PendingFees.Add(fee)
}

// Clone returns a deep copy of the split.
func (s *Split) Clone() *Split {
	c := *s
	c.Holders = make([]ShareHolder, len(s.Holders))
	copy(c.Holders, s.Holders)
	return &c
}

// NewHolderSet validates parallel holder and share lists and builds holder
// records in the given order.
func NewHolderSet(holders []string, shares []int64) ([]ShareHolder, error) {
	if len(holders) != len(shares) {
		return nil, fmt.Errorf("%w: %d holders but %d shares", ErrInvalidHolderSet, len(holders), len(shares))
	}
	if len(holders) == 0 {
		return nil, ErrNoHolders
	}

	seen := make(map[Address]bool, len(holders))
	set := make([]ShareHolder, 0, len(holders))
	var sum int64

	for i, raw := range holders {
		addr, err := ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: holder %d: %v", ErrInvalidHolderSet, i, err)
		}
		if seen[addr] {
			return nil, fmt.Errorf("%w: duplicate holder %s", ErrInvalidHolderSet, addr)
		}
		seen[addr] = true

		if shares[i] <= 0 || shares[i] > TotalShares {
			return nil, fmt.Errorf("%w: holder %d share %d must be between 1 and %d", ErrInvalidHolderSet, i, shares[i], TotalShares)
		}
		sum += shares[i]

		set = append(set, ShareHolder{
			Position: i,
			Address:  addr,
			Shares:   shares[i],
			Claimed:  decimal.Zero,
		})
	}

	if sum != TotalShares {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShareSumMismatch, sum, TotalShares)
	}

	return set, nil
}
