package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/fleetorders/internal/domain"
	"github.com/joao-fontenele/fleetorders/internal/kv"
	"github.com/joao-fontenele/fleetorders/internal/orders"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeTimer struct {
	c       chan time.Time
	initial time.Duration

	mu      sync.Mutex
	stopped bool
	resets  []time.Duration
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = false
	t.resets = append(t.resets, d)
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTimer) resetCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resets)
}

func (t *fakeTimer) lastReset() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets[len(t.resets)-1]
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: make(chan time.Time, 1), initial: d}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *fakeClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeOrders struct {
	mu           sync.Mutex
	pending      []domain.WorkOrder
	dueSoon      []domain.WorkOrder
	stale        []domain.WorkOrder
	overdueErr   error
	overdueCalls int
	stalePanics  bool
	notified     []string
}

func (f *fakeOrders) NotifyOverdue(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, ids...)
	return nil
}

func (f *fakeOrders) notifiedOverdue() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notified...)
}

func (f *fakeOrders) CheckOverdueOrders(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overdueCalls++
	return f.overdueErr
}

func (f *fakeOrders) GetPendingOrders() []domain.WorkOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeOrders) GetDueSoonOrders(time.Duration) []domain.WorkOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dueSoon
}

func (f *fakeOrders) GetStaleOrders(time.Duration) []domain.WorkOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stalePanics {
		panic("stale lookup exploded")
	}
	return f.stale
}

func (f *fakeOrders) overdueCheckCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overdueCalls
}

type sent struct {
	title    string
	orderID  string
	category string
}

type recordingGateway struct {
	mu      sync.Mutex
	sent    []sent
	failFor string
}

func (g *recordingGateway) SendLocal(_ context.Context, title, _ string, data map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if data["category"] == g.failFor {
		return errors.New("push unavailable")
	}
	g.sent = append(g.sent, sent{title: title, orderID: data["orderId"], category: data["category"]})
	return nil
}

func (g *recordingGateway) Schedule(context.Context, string, string, time.Time, map[string]string) error {
	return nil
}

func (g *recordingGateway) CancelAll(context.Context) error { return nil }

func (g *recordingGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *recordingGateway) byCategory(category string) []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sent
	for _, s := range g.sent {
		if s.category == category {
			out = append(out, s)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingOrder(id string, dueIn time.Duration) domain.WorkOrder {
	return domain.WorkOrder{
		ID:        id,
		Title:     "Delivery " + id,
		Status:    domain.OrderStatusPending,
		Priority:  domain.PriorityHigh,
		CreatedAt: baseTime.Add(-time.Hour),
		DueAt:     baseTime.Add(dueIn),
	}
}

func newTestScheduler(orders *fakeOrders, gw *recordingGateway, opts ...Option) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: baseTime}
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(orders, gw, discardLogger(), opts...), clock
}

func TestStartTwiceKeepsSingleTimer(t *testing.T) {
	soon := pendingOrder("ORD-001", 90*time.Minute)
	orders := &fakeOrders{pending: []domain.WorkOrder{soon}, dueSoon: []domain.WorkOrder{soon}}
	gw := &recordingGateway{}
	s, clock := newTestScheduler(orders, gw)

	s.Start(context.Background())
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	require.Equal(t, 2, clock.timerCount())
	assert.True(t, clock.timer(0).isStopped(), "first timer should be stopped by the second Start")
	assert.False(t, clock.timer(1).isStopped())
	assert.True(t, s.Running())

	clock.timer(1).c <- clock.advance(DefaultInterval)

	require.Eventually(t, func() bool { return clock.timer(1).resetCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, orders.overdueCheckCount())
	assert.Len(t, gw.byCategory(domain.CategoryDueSoon), 1)
}

func TestStopIsIdempotent(t *testing.T) {
	s, clock := newTestScheduler(&fakeOrders{}, &recordingGateway{})

	s.Stop()
	assert.False(t, s.Running())

	s.Start(context.Background())
	s.Stop()
	s.Stop()

	assert.False(t, s.Running())
	assert.True(t, clock.timer(0).isStopped())
}

func TestLoopExitsWhenParentContextEnds(t *testing.T) {
	s, _ := newTestScheduler(&fakeOrders{}, &recordingGateway{})
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestWakeContinuesAfterOverdueFailure(t *testing.T) {
	soon := pendingOrder("ORD-002", time.Hour)
	orders := &fakeOrders{
		pending:    []domain.WorkOrder{soon},
		dueSoon:    []domain.WorkOrder{soon},
		overdueErr: errors.New("disk full"),
	}
	gw := &recordingGateway{}
	s, clock := newTestScheduler(orders, gw)

	s.Start(context.Background())
	t.Cleanup(s.Stop)

	clock.timer(0).c <- clock.advance(DefaultInterval)
	require.Eventually(t, func() bool { return clock.timer(0).resetCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, gw.sentCount())
	assert.Empty(t, gw.byCategory(domain.CategoryUrgentOrders), "stale check only runs on demand")
}

func TestBoundaryWakeNotifiesOnlyCrossingOrders(t *testing.T) {
	crossing := pendingOrder("ORD-001", 5*time.Minute)
	late := pendingOrder("ORD-002", -time.Hour)
	soon := pendingOrder("ORD-003", time.Hour)
	entering := pendingOrder("ORD-004", 2*time.Hour+3*time.Minute)
	orders := &fakeOrders{
		pending: []domain.WorkOrder{crossing, late, soon, entering},
		dueSoon: []domain.WorkOrder{crossing, soon},
	}
	gw := &recordingGateway{}
	s, clock := newTestScheduler(orders, gw)

	s.Start(context.Background())
	t.Cleanup(s.Stop)

	timer := clock.timer(0)
	require.Equal(t, 3*time.Minute+deadlineSlack, timer.initial)

	timer.c <- clock.advance(timer.initial)
	require.Eventually(t, func() bool { return timer.resetCount() == 1 }, time.Second, 5*time.Millisecond)

	dueSoon := gw.byCategory(domain.CategoryDueSoon)
	require.Len(t, dueSoon, 1)
	assert.Equal(t, "ORD-004", dueSoon[0].orderID)
	assert.Empty(t, orders.notifiedOverdue())
	assert.Equal(t, 2*time.Minute, timer.lastReset())

	timer.c <- clock.advance(timer.lastReset())
	require.Eventually(t, func() bool { return timer.resetCount() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"ORD-001"}, orders.notifiedOverdue())
	assert.Zero(t, orders.overdueCheckCount(), "boundary wakes never run the full sweep")
	assert.Len(t, gw.byCategory(domain.CategoryDueSoon), 1)
}

func TestBoundaryWakesDoNotRenotifyFleet(t *testing.T) {
	ctx := context.Background()
	gw := &recordingGateway{}
	clock := &fakeClock{now: baseTime}
	store := orders.NewStore(kv.NewMemoryStore(), gw, discardLogger(),
		orders.WithClock(clock.Now), orders.WithoutSeedData())
	require.NoError(t, store.Initialize(ctx))

	create := func(title string, dueIn time.Duration) string {
		t.Helper()
		o, err := store.CreateOrder(ctx, domain.NewWorkOrder{
			Title:                title,
			AssignedVehiclePlate: "MNO-987",
			DriverName:           "Pedro Sánchez",
			Origin:               "Monterrey",
			Destination:          "Laredo",
			Client:               "Logística Norte",
			Priority:             domain.PriorityMedium,
			DueAt:                baseTime.Add(dueIn),
		})
		require.NoError(t, err)
		return o.ID
	}
	first := create("Entrega Monterrey", time.Hour)
	var later []string
	for i := 1; i <= 10; i++ {
		later = append(later, create("Entrega Laredo", 2*time.Hour+time.Duration(2*i)*time.Minute))
	}

	s := New(store, gw, discardLogger(), WithClock(clock))
	s.Start(ctx)
	t.Cleanup(s.Stop)

	timer := clock.timer(0)
	wait, elapsed, wakes := timer.initial, time.Duration(0), 0
	for elapsed+wait <= 50*time.Minute {
		elapsed += wait
		timer.c <- clock.advance(wait)
		wakes++
		require.Eventually(t, func() bool { return timer.resetCount() == wakes }, time.Second, 5*time.Millisecond)
		wait = timer.lastReset()
	}

	// Ten window entries plus the sweep at the interval.
	assert.Equal(t, 11, wakes)

	perOrder := map[string]int{}
	for _, n := range gw.byCategory(domain.CategoryDueSoon) {
		perOrder[n.orderID]++
	}
	assert.Equal(t, 1, perOrder[first])
	for _, id := range later {
		assert.Equal(t, 2, perOrder[id], id)
	}
}

func TestNextWakeTracksNearestDeadline(t *testing.T) {
	tests := []struct {
		name    string
		pending []domain.WorkOrder
		want    time.Duration
	}{
		{
			name: "no pending orders",
			want: DefaultInterval,
		},
		{
			name:    "enters due-soon window before interval",
			pending: []domain.WorkOrder{pendingOrder("ORD-001", 2*time.Hour+10*time.Minute)},
			want:    10*time.Minute + deadlineSlack,
		},
		{
			name:    "becomes overdue before interval",
			pending: []domain.WorkOrder{pendingOrder("ORD-001", 5*time.Minute)},
			want:    5*time.Minute + deadlineSlack,
		},
		{
			name:    "boundaries beyond interval",
			pending: []domain.WorkOrder{pendingOrder("ORD-001", 5*time.Hour)},
			want:    DefaultInterval,
		},
		{
			name:    "already overdue",
			pending: []domain.WorkOrder{pendingOrder("ORD-001", -time.Hour)},
			want:    DefaultInterval,
		},
		{
			name: "nearest of several",
			pending: []domain.WorkOrder{
				pendingOrder("ORD-001", 2*time.Hour+20*time.Minute),
				pendingOrder("ORD-002", 12*time.Minute),
				pendingOrder("ORD-003", 2*time.Hour+3*time.Minute),
			},
			want: 3*time.Minute + deadlineSlack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestScheduler(&fakeOrders{pending: tt.pending}, &recordingGateway{})
			s.Start(context.Background())
			s.Stop()

			assert.Equal(t, tt.want, clock.timer(0).initial)
		})
	}
}

func TestRunManualCheckRunsEveryCheck(t *testing.T) {
	stale := pendingOrder("ORD-003", -time.Hour)
	stale.Priority = domain.PriorityUrgent
	soon := pendingOrder("ORD-001", time.Hour)
	orders := &fakeOrders{
		dueSoon:    []domain.WorkOrder{soon},
		stale:      []domain.WorkOrder{stale},
		overdueErr: errors.New("disk full"),
	}
	gw := &recordingGateway{failFor: domain.CategoryDueSoon}
	s, _ := newTestScheduler(orders, gw)

	report := s.RunManualCheck(context.Background())

	require.Len(t, report.Results, 3)
	assert.Equal(t, CheckOverdue, report.Results[0].Name)
	assert.Contains(t, report.Results[0].Error, "disk full")
	assert.Equal(t, CheckDueSoon, report.Results[1].Name)
	assert.Contains(t, report.Results[1].Error, "push unavailable")
	assert.Equal(t, CheckStale, report.Results[2].Name)
	assert.Empty(t, report.Results[2].Error)
	assert.Error(t, report.Err())
	assert.Equal(t, baseTime, report.RanAt)

	urgent := gw.byCategory(domain.CategoryUrgentOrders)
	require.Len(t, urgent, 1)
	assert.Equal(t, "ORD-003", urgent[0].orderID)
	assert.False(t, s.Running(), "manual checks do not start the loop")
}

func TestRunManualCheckRecoversPanics(t *testing.T) {
	soon := pendingOrder("ORD-001", time.Hour)
	orders := &fakeOrders{dueSoon: []domain.WorkOrder{soon}, stalePanics: true}
	gw := &recordingGateway{}
	s, _ := newTestScheduler(orders, gw)

	report := s.RunManualCheck(context.Background())

	require.Len(t, report.Results, 3)
	assert.Contains(t, report.Results[2].Error, "panic")
	assert.Len(t, gw.byCategory(domain.CategoryDueSoon), 1)
}

func TestThrottleSuppressesRepeats(t *testing.T) {
	soon := pendingOrder("ORD-001", time.Hour)
	orders := &fakeOrders{dueSoon: []domain.WorkOrder{soon}, stale: []domain.WorkOrder{soon}}
	gw := &recordingGateway{}
	s, _ := newTestScheduler(orders, gw, WithThrottle(time.Hour))

	s.RunManualCheck(context.Background())
	s.RunManualCheck(context.Background())

	assert.Len(t, gw.byCategory(domain.CategoryDueSoon), 1)
	assert.Len(t, gw.byCategory(domain.CategoryUrgentOrders), 1)
}

func TestHandleRunChecks(t *testing.T) {
	orders := &fakeOrders{overdueErr: errors.New("disk full")}
	s, _ := newTestScheduler(orders, &recordingGateway{})
	h := NewHandler(s, discardLogger())

	rec := httptest.NewRecorder()
	h.HandleRunChecks(rec, httptest.NewRequest(http.MethodPost, "/checks/run", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var report CheckReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	if report.Results[0].Error == "" {
		t.Errorf("expected overdue check error in report")
	}
}
