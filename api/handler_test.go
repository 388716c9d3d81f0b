package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/api"
	"github.com/xraph/tally/store/memory"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T) http.Handler {
	t.Helper()
	engine := tally.New(memory.New(), tally.WithClock(func() time.Time { return now }))
	return api.New(engine, api.WithBasePath("/tally"))
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/tally"+path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func publishStarter(t *testing.T, h http.Handler) {
	t.Helper()
	w := do(t, h, "POST", "/tiers", map[string]any{
		"name":     "starter",
		"currency": "usd",
		"flat_fee": map[string]any{"amount": 100000, "currency": "usd"},
		"included": map[string]int64{"query": 5},
		"unit_price": map[string]any{
			"query": map[string]any{"amount": 15, "currency": "usd"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func createAccount(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, "POST", "/accounts", map[string]any{"name": "Acme", "tier": "starter"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody(t, w)["id"].(string)
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	h := newServer(t)
	publishStarter(t, h)
	acct := createAccount(t, h)

	w := do(t, h, "GET", "/accounts/"+acct, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trial", decodeBody(t, w)["status"])

	for i := 0; i < 8; i++ {
		w = do(t, h, "POST", "/accounts/"+acct+"/usage", map[string]any{"category": "query", "quantity": 1})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	w = do(t, h, "GET", "/accounts/"+acct+"/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decodeBody(t, w)
	assert.EqualValues(t, 8, sum["counts"].(map[string]any)["query"])
	assert.EqualValues(t, 3, sum["overage"].(map[string]any)["query"])
	assert.Nil(t, sum["warning"])

	w = do(t, h, "GET", "/accounts/"+acct+"/usage/events?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
	assert.Len(t, events, 3)
}

func TestInvoiceOverHTTP(t *testing.T) {
	h := newServer(t)
	publishStarter(t, h)
	acct := createAccount(t, h)

	w := do(t, h, "POST", "/accounts/"+acct+"/invoices", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inv := decodeBody(t, w)
	invID := inv["id"].(string)

	w = do(t, h, "POST", "/accounts/"+acct+"/invoices", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "GET", "/invoices/"+invID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "GET", "/accounts/"+acct+"/invoices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var invs []map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&invs))
	assert.Len(t, invs, 1)

	w = do(t, h, "GET", "/accounts/"+acct+"/cycles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cycles []map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cycles))
	assert.Len(t, cycles, 2)
}

func TestCancelledAccountRejectsUsage(t *testing.T) {
	h := newServer(t)
	publishStarter(t, h)
	acct := createAccount(t, h)

	w := do(t, h, "POST", "/accounts/"+acct+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, "POST", "/accounts/"+acct+"/usage", map[string]any{"category": "query", "quantity": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "service suspended")
}

func TestErrorStatuses(t *testing.T) {
	h := newServer(t)
	publishStarter(t, h)
	acct := createAccount(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed id", "GET", "/accounts/not-an-id", nil, http.StatusBadRequest},
		{"unknown account", "GET", "/accounts/acct_01h2xcejqtf2nbrexx3vqjhp41", nil, http.StatusNotFound},
		{"unknown tier", "POST", "/accounts", map[string]any{"name": "Beta", "tier": "platinum"}, http.StatusUnprocessableEntity},
		{"missing name", "POST", "/accounts", map[string]any{"tier": "starter"}, http.StatusBadRequest},
		{"unknown field", "POST", "/accounts", map[string]any{"name": "x", "tier": "starter", "plan": "y"}, http.StatusBadRequest},
		{"negative quantity", "POST", "/accounts/" + acct + "/usage", map[string]any{"category": "query", "quantity": -1}, http.StatusBadRequest},
		{"bad limit", "GET", "/accounts?limit=-1", nil, http.StatusBadRequest},
		{"convert non-pilot", "POST", "/accounts/" + acct + "/convert", nil, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}
