package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/susu3304/receiptsplit/internal/config"
	"github.com/susu3304/receiptsplit/internal/currency"
	"github.com/susu3304/receiptsplit/internal/ledger"
	"github.com/susu3304/receiptsplit/internal/settlement"
	"github.com/susu3304/receiptsplit/internal/share"
	"github.com/susu3304/receiptsplit/internal/store"
)

const owner = "1001"

type testServer struct {
	api   *API
	mem   *store.Memory
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{JWTSecret: "test-secret", WebUIBaseURL: "http://split.test"}
	mem := store.NewMemory()
	log := zap.NewNop()
	a := New(cfg, mem, share.NewService(mem, log), currency.NewNormalizer("EUR", nil, log), log)
	token, err := a.issueToken(owner, "owner", time.Now())
	require.NoError(t, err)
	return &testServer{api: a, mem: mem, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func pizzaGroup() map[string]any {
	return map[string]any{
		"name":   "Dinner club",
		"people": []map[string]any{{"name": "A"}, {"name": "B", "prefs": map[string]bool{"noAlcohol": true}}},
		"receipts": []map[string]any{{
			"id":       "t1",
			"name":     "Trattoria",
			"payer":    0,
			"currency": "EUR",
			"items": []map[string]any{
				{"name": "Pizza", "qty": 1, "unitPrice": 10, "assigned": map[string]bool{"0": true, "1": true}},
				{"name": "Wine", "qty": 1, "unitPrice": 8},
			},
		}},
	}
}

func (s *testServer) seed(t *testing.T) {
	t.Helper()
	w := s.do(t, "PUT", "/api/groups/g1", pizzaGroup(), true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/api/groups", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/groups", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPutGroupAndList(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "GET", "/api/groups", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		BaseCurrency string          `json:"baseCurrency"`
		Folders      []*ledger.Group `json:"folders"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, "EUR", resp.BaseCurrency)
	require.Len(t, resp.Folders, 1)
	tx := resp.Folders[0].Transaction("t1")
	require.NotNil(t, tx)
	assert.Equal(t, 1.0, tx.Rate)
	require.NotNil(t, tx.Items[0].TotalBase)
	assert.Equal(t, 10.0, *tx.Items[0].TotalBase)
}

func TestPutGroupValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "no people", body: map[string]any{"name": "x", "people": []any{}}},
		{name: "bad currency", body: map[string]any{"name": "x", "people": []map[string]any{{"name": "A"}}, "receipts": []map[string]any{{"name": "r", "currency": "EURO"}}}},
		{name: "duplicate receipt id", body: map[string]any{"name": "x", "people": []map[string]any{{"name": "A"}}, "receipts": []map[string]any{
			{"id": "t1", "name": "r", "currency": "EUR"},
			{"id": "t1", "name": "s", "currency": "EUR"},
		}}},
		{name: "payer out of range", body: map[string]any{"name": "x", "people": []map[string]any{{"name": "A"}}, "receipts": []map[string]any{{"name": "r", "currency": "EUR", "payer": 3}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, "PUT", "/api/groups/g1", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest("PUT", "/api/groups/g1", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutGroupDuplicateIDLeavesBookUnchanged(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"name": "x", "people": []map[string]any{{"name": "A"}}, "receipts": []map[string]any{
		{"id": "t1", "name": "r", "currency": "EUR"},
		{"id": "t1", "name": "s", "currency": "EUR"},
	}}
	w := s.do(t, "PUT", "/api/groups/g1", body, true)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "receipts[1].id")

	_, err := s.mem.Book(context.Background(), owner)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoggerKeepsCallerName(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mem := store.NewMemory()
	a := New(&config.Config{JWTSecret: "x"}, mem, share.NewService(mem, zap.NewNop()), currency.NewNormalizer("EUR", nil, zap.NewNop()), zap.New(core).Named("api"))
	a.log.Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "api", logs.All()[0].LoggerName)
}

func TestSettlementEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "GET", "/api/groups/g1/settlement", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Transfers  []settlement.Transfer `json:"transfers"`
		Unassigned float64               `json:"unassigned"`
		Summary    string                `json:"summary"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, []settlement.Transfer{{From: 1, To: 0, Amount: 5}}, resp.Transfers)
	assert.Equal(t, 8.0, resp.Unassigned)
	assert.Contains(t, resp.Summary, "B → A")

	w = s.do(t, "GET", "/api/groups/missing/settlement", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetargetAndManualRate(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "POST", "/api/groups/g1/transactions/t1/currency", map[string]any{"currency": "usd", "rescale": true}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tx ledger.Transaction
	decodeBody(t, w, &tx)
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, 1.1, tx.Rate)
	assert.InDelta(t, 11.0, *tx.Items[0].UnitPrice, 1e-9)
	assert.Equal(t, 10.0, *tx.Items[0].TotalBase)

	w = s.do(t, "POST", "/api/groups/g1/transactions/t1/rate", map[string]any{"rate": 1.25, "reason": "card statement"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &tx)
	assert.True(t, tx.ManualOverride)
	assert.InDelta(t, 12.5, *tx.Items[0].Total, 1e-9)

	w = s.do(t, "POST", "/api/groups/g1/transactions/t1/rate", map[string]any{"rate": 0}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/api/groups/g1/transactions/nope/currency", map[string]any{"currency": "GBP"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetAssignmentAndWarnings(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "PUT", "/api/groups/g1/transactions/t1/items/1/assigned/1", map[string]bool{"assigned": true}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]bool
	decodeBody(t, w, &resp)
	assert.True(t, resp["dietaryWarning"])

	w = s.do(t, "GET", "/api/groups/g1/transactions/t1/warnings", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var warnings []ledger.Warning
	decodeBody(t, w, &warnings)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Wine", warnings[0].Item)

	w = s.do(t, "PUT", "/api/groups/g1/transactions/t1/items/1/assigned/7", map[string]bool{"assigned": true}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, "PUT", "/api/groups/g1/transactions/t1/items/9/assigned/0", map[string]bool{"assigned": true}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportLines(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "POST", "/api/groups/g1/transactions/t1/lines", map[string]string{"text": "Brot 2 x 1,50 3,00\nTOTAL\nKaffee 4,20"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Added []ledger.LineItem `json:"added"`
	}
	decodeBody(t, w, &resp)
	assert.NotEmpty(t, resp.Added)

	book, err := s.mem.Book(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, book.Groups["g1"].Transaction("t1").Items, 2+len(resp.Added))

	w = s.do(t, "POST", "/api/groups/g1/transactions/t1/lines", map[string]string{"text": "nothing here"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShareRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "POST", "/api/groups/g1/share", map[string]string{"transactionId": "t1"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var link map[string]string
	decodeBody(t, w, &link)
	token := link["token"]
	assert.Equal(t, "http://split.test/share/"+token, link["url"])

	w = s.do(t, "GET", "/api/share/"+token, nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var snap share.Snapshot
	decodeBody(t, w, &snap)
	assert.Equal(t, share.TypeReceipt, snap.Type)
	assert.Equal(t, "Trattoria", snap.Receipt.Name)

	// B claims the wine.
	w = s.do(t, "POST", "/api/share/"+token+"/changes", map[string]any{
		"identity": 1,
		"checked":  map[string]map[string]bool{"t1": {"1": true}},
	}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, "GET", "/api/groups/g1/transactions/t1/pending", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Pending *ledger.PendingDelta `json:"pending"`
		Cells   []share.Cell         `json:"cells"`
	}
	decodeBody(t, w, &pending)
	require.NotNil(t, pending.Pending)
	assert.Equal(t, []share.Cell{{ItemIndex: 1, ParticipantIndex: 1, Current: false, Proposed: true}}, pending.Cells)

	w = s.do(t, "POST", "/api/groups/g1/transactions/t1/pending/apply", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var applied map[string]int
	decodeBody(t, w, &applied)
	assert.Equal(t, 1, applied["applied"])

	book, err := s.mem.Book(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, book.Groups["g1"].Transaction("t1").Items[1].Assigned[1])

	// Nothing left to apply.
	w = s.do(t, "POST", "/api/groups/g1/transactions/t1/pending/apply", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &applied)
	assert.Zero(t, applied["applied"])
}

func TestShareNoChangesAndDiscard(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "POST", "/api/groups/g1/share", map[string]string{}, true)
	require.Equal(t, http.StatusOK, w.Code)
	var link map[string]string
	decodeBody(t, w, &link)

	w = s.do(t, "POST", "/api/share/"+link["token"]+"/changes", map[string]any{
		"identity": 0,
		"checked":  map[string]map[string]bool{"t1": {"0": true}},
	}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/api/share/"+link["token"]+"/changes", map[string]any{
		"identity": 0,
		"checked":  map[string]map[string]bool{"t1": {"0": false}},
	}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, "DELETE", "/api/groups/g1/transactions/t1/pending", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	book, err := s.mem.Book(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, book.Groups["g1"].Transaction("t1").Items[0].Assigned[0])
	d, err := s.mem.PendingDelta(context.Background(), owner, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, d)
}

func TestShareInvalidAndLegacyTokens(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "GET", "/api/share/garbage!!", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid link")

	legacy := base64.URLEncoding.EncodeToString([]byte(owner + "|g1|t1"))
	w = s.do(t, "GET", "/api/share/"+legacy, nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap share.Snapshot
	decodeBody(t, w, &snap)
	assert.Equal(t, "Trattoria", snap.Receipt.Name)

	gone := base64.URLEncoding.EncodeToString([]byte(owner + "|g1|t9"))
	w = s.do(t, "GET", "/api/share/"+gone, nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteGroup(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "DELETE", "/api/groups/g1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, "DELETE", "/api/groups/g1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
