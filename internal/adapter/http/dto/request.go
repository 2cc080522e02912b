package dto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// ErrMissingField is returned when a required request field is absent.
var ErrMissingField = errors.New("missing field")

// CreateProtocolRequest represents a request to create a protocol.
type CreateProtocolRequest struct {
	Name    string `json:"name"`
	Payment string `json:"payment,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateProtocolRequest) ToUseCaseInput(caller domain.Address) (usecase.CreateProtocolInput, error) {
	payment := decimal.Zero
	if strings.TrimSpace(r.Payment) != "" {
		var err error
		if payment, err = parseBaseUnits(r.Payment); err != nil {
			return usecase.CreateProtocolInput{}, err
		}
	}

	return usecase.CreateProtocolInput{
		Caller:  caller,
		Name:    r.Name,
		Payment: payment,
	}, nil
}

// CreateSplitRequest represents a request to create a split.
type CreateSplitRequest struct {
	Name    string   `json:"name"`
	Holders []string `json:"holders"`
	Shares  []int64  `json:"shares"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateSplitRequest) ToUseCaseInput(ledgerID string, caller domain.Address) usecase.CreateSplitInput {
	return usecase.CreateSplitInput{
		LedgerID: ledgerID,
		Caller:   caller,
		Name:     r.Name,
		Holders:  r.Holders,
		Shares:   r.Shares,
	}
}

// DepositRequest represents a payment into a split.
type DepositRequest struct {
	Amount string `json:"amount"`
}

// ToUseCaseInput converts to use case input.
func (r *DepositRequest) ToUseCaseInput(ledgerID string, splitID int64, sender domain.Address) (usecase.DepositInput, error) {
	if strings.TrimSpace(r.Amount) == "" {
		return usecase.DepositInput{}, fmt.Errorf("%w: amount", ErrMissingField)
	}
	amount, err := parseBaseUnits(r.Amount)
	if err != nil {
		return usecase.DepositInput{}, err
	}

	return usecase.DepositInput{
		LedgerID: ledgerID,
		SplitID:  splitID,
		Sender:   sender,
		Amount:   amount,
	}, nil
}

// SetFeeRateRequest represents a protocol fee change.
type SetFeeRateRequest struct {
	RateBps *int64 `json:"rate_bps"`
}

// Rate returns the requested rate.
func (r *SetFeeRateRequest) Rate() (int64, error) {
	if r.RateBps == nil {
		return 0, fmt.Errorf("%w: rate_bps", ErrMissingField)
	}
	return *r.RateBps, nil
}

// parseBaseUnits parses a decimal string of base units.
func parseBaseUnits(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	if err := domain.ValidateBaseUnits(d); err != nil {
		return decimal.Zero, fmt.Errorf("%q: %w", s, err)
	}
	return d, nil
}
