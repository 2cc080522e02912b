package handler

import (
	"context"
	"net/http"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// ProtocolService is the factory surface used by ProtocolHandler.
type ProtocolService interface {
	CreateProtocol(ctx context.Context, input usecase.CreateProtocolInput) (*domain.Ledger, error)
	GetProtocol(ctx context.Context, id string) (*domain.Ledger, error)
	ListProtocols(ctx context.Context, limit, offset int) ([]*domain.Ledger, error)
	ListProtocolsByCreator(ctx context.Context, creator domain.Address) ([]*domain.Ledger, error)
	Stats(ctx context.Context) (*domain.FactoryStats, error)
}

// ProtocolHandler handles protocol-related HTTP requests.
type ProtocolHandler struct {
	factory ProtocolService
}

// NewProtocolHandler creates a new ProtocolHandler.
func NewProtocolHandler(factory ProtocolService) *ProtocolHandler {
	return &ProtocolHandler{factory: factory}
}

// Create creates a new protocol owned by the caller.
func (h *ProtocolHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateProtocolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(caller(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment", err.Error())
		return
	}

	ledger, err := h.factory.CreateProtocol(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to create protocol", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ProtocolFromDomain(ledger))
}

// List lists protocols, optionally filtered by creator.
func (h *ProtocolHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		ledgers []*domain.Ledger
		err     error
	)

	if creator := r.URL.Query().Get("creator"); creator != "" {
		addr, perr := domain.ParseAddress(creator)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid creator", perr.Error())
			return
		}
		ledgers, err = h.factory.ListProtocolsByCreator(r.Context(), addr)
	} else {
		ledgers, err = h.factory.ListProtocols(r.Context(), parseIntQuery(r, "limit", 50), parseIntQuery(r, "offset", 0))
	}
	if err != nil {
		writeDomainError(w, "failed to list protocols", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ProtocolsFromDomain(ledgers))
}

// Get retrieves a protocol by ID.
func (h *ProtocolHandler) Get(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.factory.GetProtocol(r.Context(), ledgerIDParam(r))
	if err != nil {
		writeDomainError(w, "failed to get protocol", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ProtocolFromDomain(ledger))
}

// Stats returns factory-wide statistics.
func (h *ProtocolHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.factory.Stats(r.Context())
	if err != nil {
		writeDomainError(w, "failed to get stats", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FactoryStatsFromDomain(stats))
}
