package export

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gymledger/internal/membership"
)

var day0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*membership.RecordStore, *membership.PaymentLedger) {
	t.Helper()
	repo := membership.NewMemoryRepository()
	opts := membership.Options{Now: func() time.Time { return day0 }}
	store := membership.NewRecordStore(repo, opts)
	ledger := membership.NewPaymentLedger(repo, opts)
	ctx := context.Background()

	a, err := store.Enroll(ctx, membership.EnrollRequest{
		PersonalInfo:   membership.PersonalInfo{Name: "Asha", Email: "asha@example.com", Phone: "9000000001"},
		MembershipType: "monthly",
		TotalFee:       decimal.NewFromInt(1200),
		EnrolledAt:     day0,
	})
	require.NoError(t, err)
	_, err = ledger.RecordPayment(ctx, a.ID, membership.PaymentRequest{Amount: decimal.NewFromInt(200), PaidAt: day0})
	require.NoError(t, err)

	_, err = store.Enroll(ctx, membership.EnrollRequest{
		PersonalInfo:   membership.PersonalInfo{Name: "Bilal", Email: "bilal@example.com", Phone: "9000000002"},
		MembershipType: "weekly",
		TotalFee:       decimal.NewFromInt(300),
		EnrolledAt:     day0,
	})
	require.NoError(t, err)
	return store, ledger
}

func readRows(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(r)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(membersSheet)
	require.NoError(t, err)
	return rows
}

func TestMembersXLSX(t *testing.T) {
	store, _ := seed(t)
	members, err := store.List(context.Background(), membership.Filter{SortBy: membership.SortName, AsOf: day0})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, MembersXLSX(&buf, members, day0))

	rows := readRows(t, &buf)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "Status", rows[0][10])

	asha := rows[1]
	assert.Equal(t, "Asha", asha[1])
	assert.Equal(t, "monthly", asha[4])
	assert.Equal(t, "2024-03-04", asha[5])
	assert.Equal(t, "2024-04-03", asha[6])
	assert.Equal(t, []string{"1200", "200", "1000", "pending-payment"}, asha[7:11])
	assert.Equal(t, "Bilal", rows[2][1])
}

func TestMembersXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MembersXLSX(&buf, slices.Values([]*membership.Member(nil)), day0))
	assert.Len(t, readRows(t, &buf), 1)
}

func TestHandlerServesWorkbookAlongsideMemberRoutes(t *testing.T) {
	store, ledger := seed(t)
	r := chi.NewRouter()
	membership.NewHandler(store, ledger, nil).Register(r)
	h := NewHandler(store, nil)
	h.now = func() time.Time { return day0 }
	h.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/members/export.xlsx?type=weekly")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "members_20240304.xlsx")

	rows := readRows(t, resp.Body)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bilal", rows[1][1])

	resp2, err := http.Get(srv.URL + "/members/export.xlsx?status=frozen")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/members")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}
