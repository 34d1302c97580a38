package membership

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(f.store, f.ledger, nil).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandlerMemberLifecycle(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/members", map[string]any{
		"name":            "Ravi",
		"email":           "ravi@example.com",
		"phone":           "9000000000",
		"membership_type": "monthly",
		"total_fee":       "1200.00",
		"enrolled_at":     "2024-03-01T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var member Member
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&member))
	assert.Equal(t, StatusPendingPayment, member.Status)

	var raw map[string]any
	resp = doJSON(t, http.MethodGet, srv.URL+"/members/"+member.ID.String()+"?as_of=2024-03-02", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "1200", raw["amount_due"], "money is serialized as a decimal string")

	resp = doJSON(t, http.MethodPost, srv.URL+"/members/"+member.ID.String()+"/payments", map[string]any{
		"amount": "1200",
		"method": "card",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/members/"+member.ID.String()+"/status?as_of=2024-03-02", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, StatusActive, status.Status)

	resp = doJSON(t, http.MethodGet, srv.URL+"/members/"+member.ID.String()+"/payments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []Payment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Len(t, history, 1)

	resp = doJSON(t, http.MethodPost, srv.URL+"/members/"+member.ID.String()+"/renew", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var renewed Member
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&renewed))
	assert.Equal(t, member.ExpiresAt.AddDate(0, 0, 30), renewed.ExpiresAt)

	resp = doJSON(t, http.MethodGet, srv.URL+"/members/"+member.ID.String()+"/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "1200", raw["amount_due"])
}

func TestHandlerErrorMapping(t *testing.T) {
	f, srv := newTestServer(t)
	m := f.enroll(t, "taken@example.com", "monthly", "100", day0)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"validation", http.MethodPost, "/members", map[string]any{"name": "x", "membership_type": "monthly"}, http.StatusBadRequest},
		{"duplicate email", http.MethodPost, "/members", map[string]any{"name": "x", "email": "taken@example.com", "phone": "1", "membership_type": "monthly"}, http.StatusConflict},
		{"unknown type", http.MethodPost, "/members", map[string]any{"name": "x", "email": "new@example.com", "phone": "1", "membership_type": "daily"}, http.StatusUnprocessableEntity},
		{"unknown member", http.MethodGet, "/members/" + uuid.NewString(), nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/members/not-a-uuid", nil, http.StatusBadRequest},
		{"zero payment", http.MethodPost, "/members/" + m.ID.String() + "/payments", map[string]any{"amount": "0"}, http.StatusBadRequest},
		{"bad filter", http.MethodGet, "/members?status=frozen", nil, http.StatusBadRequest},
		{"bad as_of", http.MethodGet, "/dashboard?as_of=yesterday", nil, http.StatusBadRequest},
		{"bad months", http.MethodGet, "/reports/revenue?months=0", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHandlerReminderCandidates(t *testing.T) {
	f, srv := newTestServer(t)
	owing := f.enroll(t, "owing@example.com", "weekly", "100", day0)
	paid := f.enroll(t, "paid@example.com", "monthly", "100", day0)
	f.pay(t, paid.ID, "100", day0)

	resp := doJSON(t, http.MethodGet, srv.URL+"/reminders/overdue?as_of=2024-03-02", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var overdue []Member
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&overdue))
	require.Len(t, overdue, 1)
	assert.Equal(t, owing.ID, overdue[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/reminders/expiring?days=7&as_of=2024-03-01T09:00:00Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var expiring []Member
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&expiring))
	require.Len(t, expiring, 1)
	assert.Equal(t, owing.ID, expiring[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/reminders/enrolled?cursor=0&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page EnrolledPage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Members, 1)
	assert.Equal(t, owing.ID, page.Members[0].ID)
	assert.Positive(t, page.NextCursor)

	resp = doJSON(t, http.MethodGet, srv.URL+"/dashboard?as_of=2024-03-02", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var d Dashboard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	assert.Equal(t, 2, d.TotalMembers)
	assert.Equal(t, 1, d.PendingPayment)
}
