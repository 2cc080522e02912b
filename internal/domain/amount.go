package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// UnitDecimals is the number of decimals between a whole fund unit and its base unit.
const UnitDecimals = 18

const (
	// maxAmountDigits is the number of decimal digits of MaxAmount.
	maxAmountDigits = 78
	// maxCoefficientBits leaves room for trailing fractional zeros ("5.000").
	maxCoefficientBits = 512
)

// MaxAmount is the largest amount the ledger holds, 2^256 - 1 base units.
var MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// ValidateBaseUnits checks that amount is a whole number of base units between
// zero and MaxAmount. Exponent and coefficient size are bounded before any
// operation that rescales, so oversized input is rejected in constant time.
// Errors never render amount.
func ValidateBaseUnits(amount decimal.Decimal) error {
	exp := int(amount.Exponent())
	if exp > maxAmountDigits || exp < -maxAmountDigits || amount.Coefficient().BitLen() > maxCoefficientBits {
		return fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	if !amount.IsInteger() {
		return fmt.Errorf("%w: fractional base unit", ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: above 2^256-1", ErrInvalidAmount)
	}
	return nil
}

// ValidateAmount checks that amount is a strictly positive whole number of
// base units no larger than MaxAmount.
func ValidateAmount(amount decimal.Decimal) error {
	if err := ValidateBaseUnits(amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// MulDivFloor returns floor(x * num / den) for non-negative integer operands.
// QuoRem with zero precision truncates toward zero, which is floor for the
// non-negative values the ledger works with.
func MulDivFloor(x decimal.Decimal, num, den int64) decimal.Decimal {
	q, _ := x.Mul(decimal.NewFromInt(num)).QuoRem(decimal.NewFromInt(den), 0)
	return q
}

// ParseUnits converts a human readable amount ("0.99") into base units.
func ParseUnits(s string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	base := d.Shift(decimals)
	if err := ValidateBaseUnits(base); err != nil {
		return decimal.Zero, fmt.Errorf("%q with %d decimals: %w", s, decimals, err)
	}
	return base, nil
}

// FormatUnits renders base units as a human readable amount.
func FormatUnits(base decimal.Decimal, decimals int32) string {
	return base.Shift(-decimals).String()
}
