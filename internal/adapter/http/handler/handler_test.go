package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrSplitNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: L1", domain.ErrLedgerNotFound), http.StatusNotFound},
		{domain.ErrHolderNotFound, http.StatusNotFound},
		{domain.ErrExpiredToken, http.StatusUnauthorized},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{fmt.Errorf("%w: bank down", domain.ErrTransferFailed), http.StatusBadGateway},
		{domain.ErrSplitInactive, http.StatusConflict},
		{domain.ErrNothingToDistribute, http.StatusConflict},
		{domain.ErrNoFeesAvailable, http.StatusConflict},
		{fmt.Errorf("%w: ref-1", domain.ErrPayoutInProgress), http.StatusConflict},
		{domain.ErrShareSumMismatch, http.StatusUnprocessableEntity},
		{domain.ErrFeeTooHigh, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientFee, http.StatusUnprocessableEntity},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{dto.ErrMissingField, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := mapDomainError(tt.err); got != tt.want {
			t.Errorf("mapDomainError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestReadinessReportsFailingCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Checker{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "redis unhealthy") {
		t.Fatalf("expected failing dependency in body, got %s", rec.Body.String())
	}
}

type stubDistribution struct {
	claimable decimal.Decimal
	err       error
	holder    domain.Address
}

func (s *stubDistribution) Deposit(ctx context.Context, input usecase.DepositInput) (*usecase.DepositResult, error) {
	return nil, s.err
}

func (s *stubDistribution) Distribute(ctx context.Context, ledgerID string, splitID int64, caller domain.Address) (*usecase.DistributionResult, error) {
	return nil, s.err
}

func (s *stubDistribution) GetClaimable(ctx context.Context, ledgerID string, splitID int64, holder domain.Address) (decimal.Decimal, error) {
	s.holder = holder
	return s.claimable, s.err
}

func routeRequest(method, pattern, path string, h http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestClaimableNormalizesAddress(t *testing.T) {
	dist := &stubDistribution{claimable: decimal.NewFromInt(42)}
	h := NewSplitHandler(nil, dist)

	rec := routeRequest(http.MethodGet, "/p/{ledgerID}/s/{splitID}/h/{address}",
		"/p/L1/s/0/h/0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD", h.Claimable)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if dist.holder != "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd" {
		t.Fatalf("expected normalized holder, got %s", dist.holder)
	}
	if !strings.Contains(rec.Body.String(), `"amount":"42"`) {
		t.Fatalf("expected amount in body, got %s", rec.Body.String())
	}
}

func TestClaimableRejectsBadInputs(t *testing.T) {
	h := NewSplitHandler(nil, &stubDistribution{})

	rec := routeRequest(http.MethodGet, "/p/{ledgerID}/s/{splitID}/h/{address}", "/p/L1/s/x/h/0x01", h.Claimable)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed split id, got %d", rec.Code)
	}

	rec = routeRequest(http.MethodGet, "/p/{ledgerID}/s/{splitID}/h/{address}", "/p/L1/s/0/h/alice", h.Claimable)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed address, got %d", rec.Code)
	}
}

func TestWhoamiWithoutCaller(t *testing.T) {
	rec := httptest.NewRecorder()
	Whoami(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=abc", nil)
	if got := parseIntQuery(req, "limit", 50); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	if got := parseIntQuery(req, "offset", 0); got != 0 {
		t.Fatalf("expected default for malformed value, got %d", got)
	}
}
