package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// ConsistencyService is the audit surface used by ConsistencyHandler.
type ConsistencyService interface {
	ListEvents(ctx context.Context, ledgerID string, afterSeq int64, limit int) ([]*domain.OutboxEvent, error)
	CheckLedger(ctx context.Context, ledgerID string) (*usecase.ConsistencyReport, error)
}

// ConsistencyHandler exposes emitted records and replay checks.
type ConsistencyHandler struct {
	consistency ConsistencyService
}

// NewConsistencyHandler creates a new ConsistencyHandler.
func NewConsistencyHandler(consistency ConsistencyService) *ConsistencyHandler {
	return &ConsistencyHandler{consistency: consistency}
}

// Events lists a protocol's emitted records after the "after" sequence.
func (h *ConsistencyHandler) Events(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after sequence", v)
			return
		}
		after = n
	}

	events, err := h.consistency.ListEvents(r.Context(), ledgerIDParam(r), after, parseIntQuery(r, "limit", 100))
	if err != nil {
		writeDomainError(w, "failed to list events", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.EventsFromDomain(events))
}

// Check replays the protocol's records and compares them with stored state.
func (h *ConsistencyHandler) Check(w http.ResponseWriter, r *http.Request) {
	report, err := h.consistency.CheckLedger(r.Context(), ledgerIDParam(r))
	if err != nil {
		writeDomainError(w, "failed to check consistency", err)
		return
	}

	status := http.StatusOK
	if !report.IsConsistent {
		status = http.StatusConflict
	}
	writeJSON(w, status, dto.ConsistencyFromReport(report))
}
