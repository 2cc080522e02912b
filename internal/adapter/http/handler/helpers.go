package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError maps err to a status code and writes it.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, mapDomainError(err), message, err.Error())
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrLedgerNotFound),
		errors.Is(err, domain.ErrSplitNotFound),
		errors.Is(err, domain.ErrHolderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrSplitInactive),
		errors.Is(err, domain.ErrNothingToDistribute),
		errors.Is(err, domain.ErrNoFeesAvailable),
		errors.Is(err, domain.ErrPayoutInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidHolderSet),
		errors.Is(err, domain.ErrNoHolders),
		errors.Is(err, domain.ErrShareSumMismatch),
		errors.Is(err, domain.ErrFeeTooHigh),
		errors.Is(err, domain.ErrInvalidFeeRate),
		errors.Is(err, domain.ErrInsufficientFee):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, dto.ErrMissingField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func ledgerIDParam(r *http.Request) string {
	return chi.URLParam(r, "ledgerID")
}

func splitIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "splitID"), 10, 64)
	if err != nil || id < 0 {
		return 0, domain.ErrSplitNotFound
	}
	return id, nil
}

// caller returns the address resolved by the caller middleware, if any.
func caller(r *http.Request) domain.Address {
	c, _ := domain.CallerFromContext(r.Context())
	return c
}
