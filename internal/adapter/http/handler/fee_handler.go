package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
)

// FeeService is the protocol fee surface used by FeeHandler.
type FeeService interface {
	GetFeeState(ctx context.Context, ledgerID string) (*domain.FeeState, error)
	SetProtocolFee(ctx context.Context, ledgerID string, caller domain.Address, bps int64) (*domain.FeeState, error)
	WithdrawFees(ctx context.Context, ledgerID string, caller domain.Address) (decimal.Decimal, error)
}

// FeeHandler handles protocol fee requests.
type FeeHandler struct {
	fees FeeService
}

// NewFeeHandler creates a new FeeHandler.
func NewFeeHandler(fees FeeService) *FeeHandler {
	return &FeeHandler{fees: fees}
}

// Get returns the protocol's fee state.
func (h *FeeHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.fees.GetFeeState(r.Context(), ledgerIDParam(r))
	if err != nil {
		writeDomainError(w, "failed to get fee state", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FeeStateFromDomain(state))
}

// SetRate changes the protocol fee rate.
func (h *FeeHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req dto.SetFeeRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	bps, err := req.Rate()
	if err != nil {
		writeDomainError(w, "invalid fee rate", err)
		return
	}

	state, err := h.fees.SetProtocolFee(r.Context(), ledgerIDParam(r), caller(r), bps)
	if err != nil {
		writeDomainError(w, "failed to set fee rate", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FeeStateFromDomain(state))
}

// Withdraw pays all withdrawable fees to the protocol owner.
func (h *FeeHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	ledgerID := ledgerIDParam(r)
	to := caller(r)

	amount, err := h.fees.WithdrawFees(r.Context(), ledgerID, to)
	if err != nil {
		writeDomainError(w, "failed to withdraw fees", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.WithdrawalResponse{
		LedgerID: ledgerID,
		To:       to.String(),
		Amount:   amount,
	})
}
