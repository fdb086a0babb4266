package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricorrenti/internal/cache"
	"ricorrenti/internal/core"
	"ricorrenti/internal/ledger/memory"
	"ricorrenti/internal/services"
)

const rentJSON = `{"id":"rent","title":"Rent","amount":"900.00","currency":"eur","account_id":"checking",
	"kind":"expense","recurrence":{"every":"monthly","anchor":"2025-01-10"}}`

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	store := memory.New()
	projections := cache.NewLRUCache[[]core.Occurrence](100, time.Hour)
	ctrl := services.NewMutationController(store, store, nil, projections)
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	}
	s := NewServer(":0", ctrl, opts)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func occurrenceDates(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Occurrences []struct {
			PaymentID string `json:"payment_id"`
			Date      string `json:"date"`
		} `json:"occurrences"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	out := make([]string, 0, len(resp.Occurrences))
	for _, o := range resp.Occurrences {
		out = append(out, o.Date)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}

	notReady := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rec := do(t, notReady, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPaymentLifecycle(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodPost, "/payments", rentJSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/payments/rent", rec.Header().Get("Location"))

	var created core.PlannedPayment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "EUR", created.Currency)
	assert.Equal(t, int64(90000), created.Amount.Cents)
	require.NotNil(t, created.Recurrence)
	assert.Equal(t, 1, created.Recurrence.Interval)

	rec = do(t, s, http.MethodPost, "/payments", rentJSON)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/payments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []core.PlannedPayment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	window := "?today=2025-03-01&until=2025-06-30"
	assert.Equal(t, []string{"2025-03-10", "2025-04-10", "2025-05-10", "2025-06-10"},
		occurrenceDates(t, do(t, s, http.MethodGet, "/payments/rent/occurrences"+window, "")))

	// Paying early twice yields the same transaction.
	rec = do(t, s, http.MethodPost, "/payments/rent/pay-early", `{"date":"2025-04-10"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first core.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.NotNil(t, first.Source)
	assert.Equal(t, "2025-04-10", first.Source.OccurrenceDate.Key())

	rec = do(t, s, http.MethodPost, "/payments/rent/pay-early", `{"date":"2025-04-10"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var second core.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, []string{"2025-03-10", "2025-05-10", "2025-06-10"},
		occurrenceDates(t, do(t, s, http.MethodGet, "/payments/rent/occurrences"+window, "")))

	rec = do(t, s, http.MethodPost, "/payments/rent/skip", `{"date":"2025-05-10"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"2025-03-10", "2025-06-10"},
		occurrenceDates(t, do(t, s, http.MethodGet, "/payments/rent/occurrences"+window, "")))

	rec = do(t, s, http.MethodPost, "/payments/rent/truncate", `{"cutoff":"2025-06-01"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"2025-03-10"},
		occurrenceDates(t, do(t, s, http.MethodGet, "/payments/rent/occurrences"+window, "")))

	rec = do(t, s, http.MethodGet, "/payments/rent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var truncated core.PlannedPayment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &truncated))
	assert.Equal(t, "2025-05-31", truncated.Recurrence.EndDate.Key())

	rec = do(t, s, http.MethodDelete, "/payments/rent", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodGet, "/payments/rent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplaceRuleAndPayment(t *testing.T) {
	s := newTestServer(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/payments", rentJSON).Code)

	rec := do(t, s, http.MethodPut, "/payments/rent/rule", `{"every":"weekly","interval":2,"anchor":"2025-03-03"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"2025-03-03", "2025-03-17", "2025-03-31"},
		occurrenceDates(t, do(t, s, http.MethodGet, "/payments/rent/occurrences?today=2025-03-01&until=2025-04-10", "")))

	rec = do(t, s, http.MethodPut, "/payments/rent/rule", `{"every":"hourly","anchor":"2025-03-03"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodPut, "/payments/rent",
		`{"title":"Rent (new flat)","amount":"1100.00","currency":"EUR","account_id":"checking","kind":"expense"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/payments/rent", "")
	var p core.PlannedPayment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Rent (new flat)", p.Title)
	assert.Nil(t, p.Recurrence)

	rec = do(t, s, http.MethodPut, "/payments/rent",
		`{"id":"other","title":"x","amount":"1.00","currency":"EUR","account_id":"a","kind":"expense"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllOccurrencesOrderedByDate(t *testing.T) {
	s := newTestServer(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/payments", rentJSON).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/payments",
		`{"id":"salary","title":"Salary","amount":"2500","currency":"EUR","account_id":"checking",
		"kind":"income","recurrence":{"every":"monthly","anchor":"2025-01-05"}}`).Code)

	rec := do(t, s, http.MethodGet, "/occurrences?until=2025-04-30", "")
	assert.Equal(t, []string{"2025-03-05", "2025-03-10", "2025-04-05", "2025-04-10"}, occurrenceDates(t, rec))
}

func TestUnknownPaymentMutationsAreNoops(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct {
		method, target, body string
	}{
		{http.MethodPost, "/payments/ghost/pay-early", `{"date":"2025-04-10"}`},
		{http.MethodPost, "/payments/ghost/skip", `{"date":"2025-04-10"}`},
		{http.MethodPost, "/payments/ghost/truncate", `{"cutoff":"2025-04-10"}`},
		{http.MethodPut, "/payments/ghost/rule", `{"every":"daily","anchor":"2025-04-10"}`},
		{http.MethodDelete, "/payments/ghost", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/payments/ghost", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/payments/ghost/occurrences", "").Code)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/payments", rentJSON).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/payments",
		`{"id":"once","title":"Deposit","amount":"50","currency":"EUR","account_id":"checking","kind":"expense"}`).Code)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"malformed json", http.MethodPost, "/payments", `{"title":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/payments", `{"title":"x","colour":"red"}`, http.StatusBadRequest},
		{"amount not a string", http.MethodPost, "/payments", `{"title":"x","amount":12}`, http.StatusBadRequest},
		{"empty title", http.MethodPost, "/payments",
			`{"title":" ","amount":"1.00","currency":"EUR","account_id":"a","kind":"expense"}`, http.StatusUnprocessableEntity},
		{"unknown kind", http.MethodPost, "/payments",
			`{"title":"x","amount":"1.00","currency":"EUR","account_id":"a","kind":"transfer"}`, http.StatusUnprocessableEntity},
		{"empty body", http.MethodPost, "/payments/rent/pay-early", "", http.StatusBadRequest},
		{"missing date", http.MethodPost, "/payments/rent/pay-early", `{}`, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/payments/rent/skip", `{"date":"10/04/2025"}`, http.StatusBadRequest},
		{"missing cutoff", http.MethodPost, "/payments/rent/truncate", `{}`, http.StatusBadRequest},
		{"one-shot pay early", http.MethodPost, "/payments/once/pay-early", `{"date":"2025-04-10"}`, http.StatusUnprocessableEntity},
		{"bad today", http.MethodGet, "/payments/rent/occurrences?today=yesterday", "", http.StatusBadRequest},
		{"until before today", http.MethodGet, "/occurrences?today=2025-03-01&until=2025-02-01", "", http.StatusBadRequest},
		{"until beyond one year", http.MethodGet, "/occurrences?today=2025-03-01&until=2027-01-01", "", http.StatusBadRequest},
		{"wrong method", http.MethodPatch, "/payments/rent", `{}`, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusMethodNotAllowed {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestRateLimitAppliesToMutationsOnly(t *testing.T) {
	s := newTestServer(t, Options{RateLimitPerMinute: 1})

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPost, "/payments/ghost/skip", `{"date":"2025-04-10"}`).Code)
	rec := do(t, s, http.MethodPost, "/payments/ghost/skip", `{"date":"2025-04-10"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/payments", "").Code)
	assert.GreaterOrEqual(t, s.Metrics().TotalRequests, int64(3))
}
