package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// BasisPointsDenominator is the divisor for fee rates expressed in basis points.
	BasisPointsDenominator = 10000
	// MaxProtocolFeeBps caps the protocol fee at 5%.
	MaxProtocolFeeBps = 500
	// DefaultProtocolFeeBps is the fee applied to a new ledger (1%).
	DefaultProtocolFeeBps = 100
)

// Ledger is an independent split ledger instance created by the factory.
// It owns the protocol-wide fee state for all of its splits.
type Ledger struct {
	ID                 string
	Name               string
	Owner              Address
	FeeRateBps         int64
	TotalFeesCollected decimal.Decimal
	FeesWithdrawable   decimal.Decimal
	SplitCount         int64
	TotalDistributed   decimal.Decimal
	CreationPayment    decimal.Decimal
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FeeState is a read-only projection of a ledger's fee accounting.
type FeeState struct {
	LedgerID           string
	FeeRateBps         int64
	TotalFeesCollected decimal.Decimal
	FeesWithdrawable   decimal.Decimal
}

// FeeState returns the ledger's fee accounting.
func (l *Ledger) FeeState() FeeState {
	return FeeState{
		LedgerID:           l.ID,
		FeeRateBps:         l.FeeRateBps,
		TotalFeesCollected: l.TotalFeesCollected,
		FeesWithdrawable:   l.FeesWithdrawable,
	}
}

// IsOwner reports whether caller administers the ledger.
func (l *Ledger) IsOwner(caller Address) bool {
	return caller != "" && caller == l.Owner
}

// ComputeFee splits a gross deposit into the protocol fee and the net amount.
// The fee is floored; the remainder stays with the split.
func (l *Ledger) ComputeFee(gross decimal.Decimal) (fee, net decimal.Decimal) {
	fee = MulDivFloor(gross, l.FeeRateBps, BasisPointsDenominator)
	return fee, gross.Sub(fee)
}

// AccrueFee records a fee taken from a deposit.
func (l *Ledger) AccrueFee(fee decimal.Decimal) {
	l.TotalFeesCollected = l.TotalFeesCollected.Add(fee)
	l.FeesWithdrawable = l.FeesWithdrawable.Add(fee)
}

// ValidateFeeRate checks a proposed protocol fee rate.
func ValidateFeeRate(bps int64) error {
	if bps < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFeeRate, bps)
	}
	if bps > MaxProtocolFeeBps {
		return fmt.Errorf("%w: %d bps exceeds %d bps", ErrFeeTooHigh, bps, MaxProtocolFeeBps)
	}
	return nil
}

// FactoryStats summarizes the factory's created protocols.
type FactoryStats struct {
	ProtocolCount     int64
	TotalCreationFees decimal.Decimal
	CreationFee       decimal.Decimal
}
