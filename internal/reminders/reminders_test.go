package reminders

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymledger/internal/membership"
)

var day0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type sink struct {
	mu     sync.Mutex
	sent   map[membership.Reason][]uuid.UUID
	failOn map[uuid.UUID]bool
}

func newSink() *sink {
	return &sink{sent: make(map[membership.Reason][]uuid.UUID), failOn: make(map[uuid.UUID]bool)}
}

func (s *sink) Notify(_ context.Context, m *membership.Member, reason membership.Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[m.ID] {
		return errors.New("mailbox full")
	}
	s.sent[reason] = append(s.sent[reason], m.ID)
	return nil
}

func (s *sink) count(reason membership.Reason) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[reason])
}

type env struct {
	store  *membership.RecordStore
	ledger *membership.PaymentLedger
	now    time.Time
}

func newEnv() *env {
	e := &env{now: day0}
	repo := membership.NewMemoryRepository()
	opts := membership.Options{Now: func() time.Time { return e.now }}
	e.store = membership.NewRecordStore(repo, opts)
	e.ledger = membership.NewPaymentLedger(repo, opts)
	return e
}

func (e *env) enroll(t *testing.T, email, membershipType, fee string, at time.Time) *membership.Member {
	t.Helper()
	m, err := e.store.Enroll(context.Background(), membership.EnrollRequest{
		PersonalInfo:   membership.PersonalInfo{Name: email, Email: email, Phone: "1"},
		MembershipType: membershipType,
		TotalFee:       decimal.RequireFromString(fee),
		EnrolledAt:     at,
	})
	require.NoError(t, err)
	return m
}

func TestTriggerQueries(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	owing := e.enroll(t, "owing@example.com", "monthly", "100", day0)
	paid := e.enroll(t, "paid@example.com", "weekly", "50", day0.AddDate(0, 0, -3))
	_, err := e.ledger.RecordPayment(ctx, paid.ID, membership.PaymentRequest{Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)
	e.enroll(t, "lapsed@example.com", "weekly", "50", day0.AddDate(0, 0, -30))

	trigger := NewTrigger(e.store, 0)

	due, err := trigger.PaymentDue(ctx, day0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, owing.ID, due[0].Member.ID)
	assert.Equal(t, membership.ReasonPaymentDue, due[0].Reason)

	expiring, err := trigger.Expiring(ctx, 7, day0)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, paid.ID, expiring[0].Member.ID)
	assert.Contains(t, expiring[0].Key, paid.ExpiresAt.Format(time.DateOnly))

	welcome, cursor, err := trigger.Welcome(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, welcome, 3)
	assert.Positive(t, cursor)
}

func TestPaymentDueSkipsExpiredUnderPaymentPrecedence(t *testing.T) {
	repo := membership.NewMemoryRepository()
	store := membership.NewRecordStore(repo, membership.Options{
		Precedence: membership.PrecedencePayment,
		Now:        func() time.Time { return day0 },
	})
	_, err := store.Enroll(context.Background(), membership.EnrollRequest{
		PersonalInfo:   membership.PersonalInfo{Name: "old", Email: "old@example.com", Phone: "1"},
		MembershipType: "weekly",
		TotalFee:       decimal.NewFromInt(10),
		EnrolledAt:     day0.AddDate(0, 0, -30),
	})
	require.NoError(t, err)

	due, err := NewTrigger(store, 10).PaymentDue(context.Background(), day0)
	require.NoError(t, err)
	assert.Len(t, due, 1, "an expired member that owes reads as pending-payment under payment precedence")
}

func TestDispatcherIsIdempotent(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	e.enroll(t, "a@example.com", "monthly", "100", day0)
	b := e.enroll(t, "b@example.com", "monthly", "100", day0)

	notifier := newSink()
	notifier.failOn[b.ID] = true
	marker := NewMemoryMarker()
	d := NewDispatcher(notifier, marker, time.Hour, nil, nil)

	candidates, err := NewTrigger(e.store, 10).PaymentDue(ctx, day0)
	require.NoError(t, err)

	report := d.Dispatch(ctx, candidates)
	assert.Equal(t, Report{Sent: 1, Failed: 1}, report)

	report = d.Dispatch(ctx, candidates)
	assert.Equal(t, Report{Skipped: 1, Failed: 1}, report, "failed sends are released and attempted again")

	notifier.failOn[b.ID] = false
	report = d.Dispatch(ctx, candidates)
	assert.Equal(t, Report{Sent: 1, Skipped: 1}, report)
	assert.Equal(t, 2, notifier.count(membership.ReasonPaymentDue))
}

func TestMemoryMarkerTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMarker()
	now := day0
	m.now = func() time.Time { return now }

	ok, err := m.Mark(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Mark(ctx, "k", time.Hour)
	assert.False(t, ok)

	now = now.Add(61 * time.Minute)
	ok, _ = m.Mark(ctx, "k", time.Hour)
	assert.True(t, ok, "claims lapse after their ttl")

	require.NoError(t, m.Release(ctx, "k"))
	ok, _ = m.Mark(ctx, "k", 0)
	assert.True(t, ok)
	now = now.AddDate(1, 0, 0)
	ok, _ = m.Mark(ctx, "k", 0)
	assert.False(t, ok, "a zero ttl never lapses")
}

func TestSchedulerRunNow(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	e.enroll(t, "new@example.com", "weekly", "100", day0)

	notifier := newSink()
	marker := NewMemoryMarker()
	cfg := DefaultScheduleConfig()
	cfg.WelcomeSpec = "*/5 * * * *"
	s, err := NewScheduler(NewTrigger(e.store, 1), NewDispatcher(notifier, marker, 24*time.Hour, nil, nil), marker, cfg, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return day0 }

	report, err := s.RunNow(ctx, JobPaymentDue)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	report, err = s.RunNow(ctx, JobExpiring)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	report, err = s.RunNow(ctx, JobWelcome)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	e.enroll(t, "second@example.com", "weekly", "100", day0)
	e.enroll(t, "third@example.com", "weekly", "100", day0)
	report, err = s.RunNow(ctx, JobWelcome)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent, "the cursor resumes after the last welcomed member across batches")
	assert.Equal(t, 3, notifier.count(membership.ReasonWelcome))

	cursor, err := marker.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Positive(t, cursor)

	_, err = s.RunNow(ctx, Job("birthday"))
	assert.Error(t, err)
}

// streamSource serves EnrolledSince from a hand-built event stream, so a test
// can make an enrollment show up below an id that was already read.
type streamSource struct {
	mu      sync.Mutex
	entries map[int64]*membership.Member
}

func (s *streamSource) add(id int64, m *membership.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = m
}

func (s *streamSource) EnrolledSince(_ context.Context, cursor int64, limit int) ([]*membership.Member, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.entries {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*membership.Member, 0, len(ids))
	next := cursor
	for _, id := range ids {
		out = append(out, s.entries[id])
		next = id
	}
	return out, next, nil
}

func (s *streamSource) FindOverdue(context.Context, time.Time) ([]*membership.Member, error) {
	return nil, nil
}

func (s *streamSource) FindExpiringWithin(context.Context, int, time.Time) ([]*membership.Member, error) {
	return nil, nil
}

func TestWelcomePicksUpLateCommittedEnrollment(t *testing.T) {
	ctx := context.Background()
	source := &streamSource{entries: make(map[int64]*membership.Member)}
	for _, id := range []int64{1, 2, 4} {
		source.add(id, &membership.Member{ID: uuid.New()})
	}

	notifier := newSink()
	marker := NewMemoryMarker()
	s, err := NewScheduler(NewTrigger(source, 2), NewDispatcher(notifier, marker, 24*time.Hour, nil, nil), marker, DefaultScheduleConfig(), nil)
	require.NoError(t, err)

	report, err := s.RunNow(ctx, JobWelcome)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Sent)
	cursor, err := marker.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursor)

	// Event 3 was allocated before 4 but committed after the run above.
	late := &membership.Member{ID: uuid.New()}
	source.add(3, late)

	report, err = s.RunNow(ctx, JobWelcome)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 3, report.Skipped)
	assert.Contains(t, notifier.sent[membership.ReasonWelcome], late.ID)

	cursor, err = marker.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursor, "the cursor never moves backwards")
}

func TestWelcomeWithoutRescanMissesLateCommit(t *testing.T) {
	ctx := context.Background()
	source := &streamSource{entries: map[int64]*membership.Member{2: {ID: uuid.New()}}}
	notifier := newSink()
	marker := NewMemoryMarker()
	s, err := NewScheduler(NewTrigger(source, 10), NewDispatcher(notifier, marker, 24*time.Hour, nil, nil), marker, DefaultScheduleConfig(), nil)
	require.NoError(t, err)
	s.welcomeRescan = 0

	_, err = s.RunNow(ctx, JobWelcome)
	require.NoError(t, err)
	source.add(1, &membership.Member{ID: uuid.New()})
	report, err := s.RunNow(ctx, JobWelcome)
	require.NoError(t, err)
	assert.Zero(t, report.Sent+report.Skipped)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	cfg := DefaultScheduleConfig()
	cfg.PaymentSpec = "every monday"
	_, err := NewScheduler(NewTrigger(newEnv().store, 0), NewDispatcher(newSink(), NewMemoryMarker(), time.Hour, nil, nil), NewMemoryMarker(), cfg, nil)
	assert.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler(NewTrigger(newEnv().store, 0), NewDispatcher(newSink(), NewMemoryMarker(), time.Hour, nil, nil), NewMemoryMarker(), DefaultScheduleConfig(), nil)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestRedisMarker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Skipf("skipping redis tests: %v", err)
	}
	defer client.Close()

	m := NewRedisMarker(client, "gym:test:"+uuid.NewString())
	ok, err := m.Mark(ctx, "expiring:x", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Mark(ctx, "expiring:x", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, "expiring:x"))
	ok, err = m.Mark(ctx, "expiring:x", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	cursor, err := m.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)
	require.NoError(t, m.SaveCursor(ctx, 42))
	cursor, err = m.LoadCursor(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 42, cursor)
}
