package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/splitledger/internal/adapter/journal"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/auth"
)

const (
	testCaller = "0x00000000000000000000000000000000000000aa"
	testHolder = "0x00000000000000000000000000000000000000a1"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type recordedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]any
}

func newAPIStub(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()

	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.RequestURI()
		rec.header = r.Header.Clone()
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, struct {
		A int `json:"a"`
	}{A: 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", out.String())

	out.Reset()
	require.NoError(t, printJSON(&out, json.RawMessage(`{"b":2}`)))
	assert.Equal(t, "{\n  \"b\": 2\n}\n", out.String())
}

func TestSplitCreateSendsHolders(t *testing.T) {
	srv, rec := newAPIStub(t, http.StatusCreated, `{"id":0}`)

	out, err := execute(t, "--url", srv.URL, "--caller", testCaller, "--idempotency-key", "k1",
		"split", "create", "L1", "--name", "band",
		"--holder", testHolder+":60",
		"--holder", "0x00000000000000000000000000000000000000b2:40")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/protocols/L1/splits", rec.path)
	assert.Equal(t, testCaller, rec.header.Get("X-Caller-Address"))
	assert.Equal(t, "k1", rec.header.Get("Idempotency-Key"))
	assert.Equal(t, "band", rec.body["name"])
	assert.Equal(t, []any{testHolder, "0x00000000000000000000000000000000000000b2"}, rec.body["holders"])
	assert.Equal(t, []any{float64(60), float64(40)}, rec.body["shares"])
	assert.Contains(t, out, `"id": 0`)
}

func TestParseHoldersRejectsMalformedPairs(t *testing.T) {
	_, _, err := parseHolders([]string{testHolder})
	require.Error(t, err)

	_, _, err = parseHolders([]string{testHolder + ":sixty"})
	require.Error(t, err)
}

func TestDepositAndBearerToken(t *testing.T) {
	srv, rec := newAPIStub(t, http.StatusCreated, `{"amount":"100"}`)

	_, err := execute(t, "--url", srv.URL, "--token", "tok", "split", "deposit", "L1", "0", "100")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/protocols/L1/splits/0/deposits", rec.path)
	assert.Equal(t, "Bearer tok", rec.header.Get("Authorization"))
	assert.Equal(t, "100", rec.body["amount"])
}

func TestAPIErrorsAreReturned(t *testing.T) {
	srv, _ := newAPIStub(t, http.StatusForbidden, `{"error":"failed to withdraw fees","message":"unauthorized"}`)

	_, err := execute(t, "--url", srv.URL, "--caller", testHolder, "fee", "withdraw", "L1")
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestConsistencyReportsFailure(t *testing.T) {
	srv, _ := newAPIStub(t, http.StatusConflict, `{"is_consistent":false,"mismatches":["split 0 pending"]}`)

	out, err := execute(t, "--url", srv.URL, "ledger", "consistency", "L1")
	require.Error(t, err)
	assert.Contains(t, out, "Consistency check FAILED")
	assert.Contains(t, out, "split 0 pending")
}

func TestEventsQuery(t *testing.T) {
	srv, rec := newAPIStub(t, http.StatusOK, `[]`)

	_, err := execute(t, "--url", srv.URL, "ledger", "events", "L1", "--after", "3", "--limit", "10")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/protocols/L1/events?after=3&limit=10", rec.path)
}

func TestTokenCmd(t *testing.T) {
	_, err := execute(t, "token", strings.ToUpper(testCaller[2:]), "--secret", "s3cret")
	require.Error(t, err, "address without 0x prefix must be rejected")

	out, err := execute(t, "token", testCaller, "--secret", "s3cret", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := auth.NewJWTManager("s3cret", time.Hour).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, domain.Address(testCaller), claims.Address)
}

func TestUnitsCmd(t *testing.T) {
	out, err := execute(t, "units", "parse", "1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000\n", out)

	out, err = execute(t, "units", "format", "396000000000000000", "--decimals", "18")
	require.NoError(t, err)
	assert.Equal(t, "0.396\n", out)

	_, err = execute(t, "units", "parse", "0.0000001", "--decimals", "6")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestJournalCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := journal.Open(path)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	created, err := domain.NewOutboxEvent("e1", "L1", domain.AggregateTypeLedger, "L1", domain.EventTypeProtocolCreated,
		domain.ProtocolCreatedEvent{
			LedgerID:   "L1",
			Name:       "acme",
			Creator:    testCaller,
			Payment:    "0",
			FeeRateBps: 100,
			EventAt:    domain.FormatEventTime(at),
		}, at)
	require.NoError(t, err)
	created.Sequence = 1
	require.NoError(t, j.Publish(context.Background(), created))
	require.NoError(t, j.Close())

	out, err := execute(t, "journal", "ledgers", path)
	require.NoError(t, err)
	assert.Equal(t, "L1\n", out)

	out, err = execute(t, "journal", "dump", path, "L1")
	require.NoError(t, err)
	assert.Equal(t, "1\tprotocol.created\tL1\t2024-01-02T03:04:05Z\n", out)

	out, err = execute(t, "journal", "rebuild", path, "L1")
	require.NoError(t, err)
	var view ledgerView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "acme", view.Name)
	assert.Equal(t, testCaller, view.Owner)
	assert.Equal(t, int64(100), view.FeeRateBps)
	assert.Empty(t, view.Splits)

	_, err = execute(t, "journal", "ledgers", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
}
