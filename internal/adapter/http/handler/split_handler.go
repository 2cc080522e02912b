package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// SplitService is the split registry surface used by SplitHandler.
type SplitService interface {
	CreateSplit(ctx context.Context, input usecase.CreateSplitInput) (*domain.Split, error)
	GetSplit(ctx context.Context, ledgerID string, splitID int64) (*domain.Split, error)
	GetHolders(ctx context.Context, ledgerID string, splitID int64) ([]domain.ShareHolder, error)
	ListSplits(ctx context.Context, ledgerID string, limit, offset int) ([]*domain.Split, error)
	DeactivateSplit(ctx context.Context, ledgerID string, splitID int64, caller domain.Address) (*domain.Split, error)
}

// DistributionService is the payment surface used by SplitHandler.
type DistributionService interface {
	Deposit(ctx context.Context, input usecase.DepositInput) (*usecase.DepositResult, error)
	Distribute(ctx context.Context, ledgerID string, splitID int64, caller domain.Address) (*usecase.DistributionResult, error)
	GetClaimable(ctx context.Context, ledgerID string, splitID int64, holder domain.Address) (decimal.Decimal, error)
}

// SplitHandler handles split, deposit and distribution requests.
type SplitHandler struct {
	splits       SplitService
	distribution DistributionService
}

// NewSplitHandler creates a new SplitHandler.
func NewSplitHandler(splits SplitService, distribution DistributionService) *SplitHandler {
	return &SplitHandler{splits: splits, distribution: distribution}
}

// Create registers a split under the protocol.
func (h *SplitHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSplitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	split, err := h.splits.CreateSplit(r.Context(), req.ToUseCaseInput(ledgerIDParam(r), caller(r)))
	if err != nil {
		writeDomainError(w, "failed to create split", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.SplitFromDomain(split))
}

// List lists a protocol's splits.
func (h *SplitHandler) List(w http.ResponseWriter, r *http.Request) {
	splits, err := h.splits.ListSplits(r.Context(), ledgerIDParam(r),
		parseIntQuery(r, "limit", 50), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeDomainError(w, "failed to list splits", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SplitsFromDomain(splits))
}

// Get retrieves a split.
func (h *SplitHandler) Get(w http.ResponseWriter, r *http.Request) {
	splitID, err := splitIDParam(r)
	if err != nil {
		writeDomainError(w, "invalid split ID", err)
		return
	}

	split, err := h.splits.GetSplit(r.Context(), ledgerIDParam(r), splitID)
	if err != nil {
		writeDomainError(w, "failed to get split", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SplitFromDomain(split))
}

// Holders lists a split's holders in order.
func (h *SplitHandler) Holders(w http.ResponseWriter, r *http.Request) {
	splitID, err := splitIDParam(r)
	if err != nil {
		writeDomainError(w, "invalid split ID", err)
		return
	}

	holders, err := h.splits.GetHolders(r.Context(), ledgerIDParam(r), splitID)
	if err != nil {
		writeDomainError(w, "failed to get holders", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.HoldersFromDomain(holders))
}

// Deactivate stops a split from accepting deposits.
func (h *SplitHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	splitID, err := splitIDParam(r)
	if err != nil {
		writeDomainError(w, "invalid split ID", err)
		return
	}

	split, err := h.splits.DeactivateSplit(r.Context(), ledgerIDParam(r), splitID, caller(r))
	if err != nil {
		writeDomainError(w, "failed to deactivate split", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SplitFromDomain(split))
}

// Deposit pays funds into a split on behalf of the caller.
func (h *SplitHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	splitID, err := splitIDParam(r)
	if err != nil {
		writeDomainError(w, "invalid split ID", err)
		return
	}

	var req dto.DepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(ledgerIDParam(r), splitID, caller(r))
	if err != nil {
		writeDomainError(w, "invalid amount", err)
		return
	}

	result, err := h.distribution.Deposit(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to deposit", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.DepositFromResult(result))
}

// Distribute pays the split's pending balance to its holders.
func (h *SplitHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	splitID, err := splitIDParam(r)
	if err != nil {
		writeDomainError(w, "invalid split ID", err)
		return
	}

	result, err := h.distribution.Distribute(r.Context(), ledgerIDParam(r), splitID, caller(r))
	if err != nil {
		writeDomainError(w, "failed to distribute", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.DistributionFromResult(result))
}

// Claimable reports what a holder would receive from a distribution now.
func (h *SplitHandler) Claimable(w http.ResponseWriter, r *http.Request) {
	splitID, err := splitIDParam(r)
	if err != nil {
		writeDomainError(w, "invalid split ID", err)
		return
	}

	holder, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeDomainError(w, "invalid holder address", err)
		return
	}

	ledgerID := ledgerIDParam(r)
	amount, err := h.distribution.GetClaimable(r.Context(), ledgerID, splitID, holder)
	if err != nil {
		writeDomainError(w, "failed to get claimable amount", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ClaimableResponse{
		LedgerID: ledgerID,
		SplitID:  splitID,
		Holder:   holder.String(),
		Amount:   amount,
	})
}
