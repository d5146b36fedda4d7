// Package scheduler re-evaluates work order due dates in the background and
// pushes overdue, due-soon and stale-order notifications.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fleetorders/internal/domain"
	"github.com/joao-fontenele/fleetorders/internal/notify"
)

const (
	DefaultInterval      = 30 * time.Minute
	DefaultDueSoonWindow = 2 * time.Hour
	DefaultStaleAfter    = 15 * time.Minute

	// deadlineSlack puts a wake strictly past the boundary it targets.
	deadlineSlack = time.Second
)

const (
	CheckOverdue = "overdue"
	CheckDueSoon = "due_soon"
	CheckStale   = "stale_priority"
)

var tracer = otel.Tracer("scheduler")

type OrderSource interface {
	CheckOverdueOrders(ctx context.Context) error
	NotifyOverdue(ctx context.Context, ids []string) error
	GetPendingOrders() []domain.WorkOrder
	GetDueSoonOrders(window time.Duration) []domain.WorkOrder
	GetStaleOrders(age time.Duration) []domain.WorkOrder
}

// Scheduler owns one timer. Sweeps check every order; deadline wakes notify
// only the orders that crossed a boundary.
type Scheduler struct {
	orders        OrderSource
	gateway       notify.Gateway
	logger        *slog.Logger
	clock         Clock
	interval      time.Duration
	dueSoonWindow time.Duration
	staleAfter    time.Duration
	throttle      *notify.Throttle

	checks   metric.Int64Counter
	duration metric.Float64Histogram

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithDueSoonWindow(d time.Duration) Option {
	return func(s *Scheduler) { s.dueSoonWindow = d }
}

func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) { s.staleAfter = d }
}

func WithThrottle(window time.Duration) Option {
	return func(s *Scheduler) { s.throttle = notify.NewThrottle(window) }
}

func New(orders OrderSource, gateway notify.Gateway, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		orders:        orders,
		gateway:       gateway,
		logger:        logger,
		clock:         realClock{},
		interval:      DefaultInterval,
		dueSoonWindow: DefaultDueSoonWindow,
		staleAfter:    DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("scheduler")
	s.checks, _ = meter.Int64Counter("scheduler.checks",
		metric.WithDescription("Scheduler checks run, by check and outcome."))
	s.duration, _ = meter.Float64Histogram("scheduler.wake.duration",
		metric.WithDescription("Time spent handling one scheduler wake."),
		metric.WithUnit("s"))
	return s
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	now := s.clock.Now()
	nextSweep := now.Add(s.interval)
	timer := s.clock.NewTimer(s.nextWake(now, nextSweep))
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go s.run(loopCtx, timer, now, nextSweep, done)
	s.logger.Info("scheduler started", "interval", s.interval, "due_soon_window", s.dueSoonWindow)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopLocked() {
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) stopLocked() bool {
	if s.cancel == nil {
		return false
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Scheduler) run(ctx context.Context, timer Timer, last, nextSweep time.Time, done chan struct{}) {
	defer close(done)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			now := s.clock.Now()
			if now.Before(nextSweep) {
				s.wakeForBoundaries(ctx, last, now)
			} else {
				s.wake(ctx)
				nextSweep = now.Add(s.interval)
			}
			last = now
			timer.Reset(s.nextWake(now, nextSweep))
		}
	}
}

func (s *Scheduler) wake(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "scheduler.wake")
	defer span.End()

	start := time.Now()
	report := s.runChecks(ctx, CheckOverdue, CheckDueSoon)
	s.duration.Record(ctx, time.Since(start).Seconds())

	if err := report.Err(); err != nil {
		span.RecordError(err)
	}
}

// wakeForBoundaries notifies the pending orders with a boundary in (since, now].
func (s *Scheduler) wakeForBoundaries(ctx context.Context, since, now time.Time) {
	ctx, span := tracer.Start(ctx, "scheduler.boundary_wake")
	defer span.End()

	start := time.Now()
	var overdue []string
	var errs []error
	for _, d := range buildDeadlines(s.orders.GetPendingOrders(), s.dueSoonWindow, since).popThrough(now) {
		switch d.kind {
		case becomingOverdue:
			overdue = append(overdue, d.order.ID)
		case enteringDueSoon:
			if !d.order.DueAt.After(now) {
				continue
			}
			if err := s.notifyDueSoon(ctx, d.order, now); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(overdue) > 0 {
		if err := s.orders.NotifyOverdue(ctx, overdue); err != nil {
			errs = append(errs, err)
		}
	}
	s.duration.Record(ctx, time.Since(start).Seconds())

	outcome := "ok"
	if err := errors.Join(errs...); err != nil {
		outcome = "error"
		span.RecordError(err)
		s.logger.Error("boundary notification failed", "error", err)
	}
	s.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", "boundary"),
		attribute.String("outcome", outcome),
	))
}

type CheckResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type CheckReport struct {
	RanAt   time.Time     `json:"ranAt"`
	Results []CheckResult `json:"results"`
}

func (r CheckReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", res.Name, res.Error))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) RunManualCheck(ctx context.Context) CheckReport {
	ctx, span := tracer.Start(ctx, "scheduler.manual_check")
	defer span.End()

	return s.runChecks(ctx, CheckOverdue, CheckDueSoon, CheckStale)
}

func (s *Scheduler) runChecks(ctx context.Context, names ...string) CheckReport {
	report := CheckReport{RanAt: s.clock.Now().UTC()}
	for _, name := range names {
		res := CheckResult{Name: name}
		outcome := "ok"
		if err := s.runCheck(ctx, name); err != nil {
			res.Error = err.Error()
			outcome = "error"
			s.logger.Error("scheduled check failed", "check", name, "error", err)
		}
		s.checks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("check", name),
			attribute.String("outcome", outcome),
		))
		report.Results = append(report.Results, res)
	}
	return report
}

func (s *Scheduler) runCheck(ctx context.Context, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch name {
	case CheckOverdue:
		return s.orders.CheckOverdueOrders(ctx)
	case CheckDueSoon:
		return s.checkDueSoon(ctx)
	case CheckStale:
		return s.checkStale(ctx)
	}
	return fmt.Errorf("unknown check %q", name)
}

func (s *Scheduler) checkDueSoon(ctx context.Context) error {
	now := s.clock.Now()
	var errs []error
	for _, o := range s.orders.GetDueSoonOrders(s.dueSoonWindow) {
		if err := s.notifyDueSoon(ctx, o, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) notifyDueSoon(ctx context.Context, o domain.WorkOrder, now time.Time) error {
	if !s.throttle.Allow("due-soon:"+o.ID, now) {
		return nil
	}
	body := fmt.Sprintf("%s: %s is due in %s", o.ID, o.Title, o.DueAt.Sub(now).Round(time.Minute))
	return s.send(ctx, "Order due soon", body, o.ID, domain.CategoryDueSoon)
}

func (s *Scheduler) checkStale(ctx context.Context) error {
	now := s.clock.Now()
	var errs []error
	for _, o := range s.orders.GetStaleOrders(s.staleAfter) {
		if !s.throttle.Allow("stale:"+o.ID, now) {
			continue
		}
		body := fmt.Sprintf("%s: %s (%s) has been pending for %s", o.ID, o.Title, o.Priority, now.Sub(o.CreatedAt).Round(time.Minute))
		if err := s.send(ctx, "Priority order waiting", body, o.ID, domain.CategoryUrgentOrders); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) send(ctx context.Context, title, body, orderID, category string) error {
	data := map[string]string{"orderId": orderID, "category": category}
	if err := s.gateway.SendLocal(ctx, title, body, data); err != nil {
		return fmt.Errorf("notify %s: %w", orderID, err)
	}
	return nil
}

func (s *Scheduler) nextWake(now, nextSweep time.Time) time.Duration {
	wait := nextSweep.Sub(now)
	if d, ok := buildDeadlines(s.orders.GetPendingOrders(), s.dueSoonWindow, now).next(); ok {
		if until := d.at.Sub(now) + deadlineSlack; until < wait {
			wait = until
		}
	}
	return max(wait, 0)
}
