package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fleetorders/internal/domain"
	"github.com/joao-fontenele/fleetorders/internal/kv"
	"github.com/joao-fontenele/fleetorders/internal/notify"
)

const (
	ordersKey   = "workorders"
	sequenceKey = "workorders.seq"

	defaultActor      = "system"
	defaultPreDueLead = time.Hour
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrInvalidOrder      = errors.New("invalid order")
)

var tracer = otel.Tracer("orders/store")

// Store persists the whole list on every mutation. Storage failures are only logged.
type Store struct {
	kv         kv.Store
	gateway    notify.Gateway
	logger     *slog.Logger
	clock      func() time.Time
	strict     bool
	seedDemo   bool
	preDueLead time.Duration
	throttle   *notify.Throttle
	metrics    storeMetrics

	mu     sync.Mutex
	orders []domain.WorkOrder
	seq    int
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.clock = now
	}
}

func WithStrictTransitions() Option {
	return func(s *Store) {
		s.strict = true
	}
}

func WithOverdueThrottle(window time.Duration) Option {
	return func(s *Store) {
		s.throttle = notify.NewThrottle(window)
	}
}

func WithPreDueLead(d time.Duration) Option {
	return func(s *Store) {
		s.preDueLead = d
	}
}

func WithoutSeedData() Option {
	return func(s *Store) {
		s.seedDemo = false
	}
}

func NewStore(store kv.Store, gateway notify.Gateway, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		kv:         store,
		gateway:    gateway,
		logger:     logger,
		clock:      time.Now,
		seedDemo:   true,
		preDueLead: defaultPreDueLead,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newStoreMetrics(s)
	return s
}

// Initialize loads the persisted orders, seeding them on first run.
func (s *Store) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orders.Initialize")
	defer span.End()

	s.mu.Lock()
	orders, seq, found, err := s.load(ctx)
	if err != nil {
		s.orders, s.seq = nil, s.readSequence(ctx, 0)
		s.mu.Unlock()
		s.metrics.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "read")))
		s.logger.Error("failed to load work orders", "error", err)
		span.RecordError(err)
		return fmt.Errorf("load work orders: %w", err)
	}

	seeded := !found && s.seedDemo
	if seeded {
		orders = seedOrders(s.now())
		seq = len(orders)
	}
	s.orders, s.seq = orders, seq
	if seeded {
		s.persistLocked(ctx)
	}
	count := len(s.orders)
	s.mu.Unlock()

	if seeded {
		s.logger.Info("seeded demo work orders", "count", count)
		s.ScheduleUpcomingNotifications(ctx)
	}

	s.logger.Info("work orders loaded", "count", count)
	return nil
}

func (s *Store) load(ctx context.Context) ([]domain.WorkOrder, int, bool, error) {
	raw, err := s.kv.Get(ctx, ordersKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, s.readSequence(ctx, 0), false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	var orders []domain.WorkOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, 0, false, fmt.Errorf("decode %s: %w", ordersKey, err)
	}

	seq := s.readSequence(ctx, maxSequence(orders))
	return orders, seq, true, nil
}

// readSequence returns the persisted counter, or floor when it is missing,
// unreadable or lower.
func (s *Store) readSequence(ctx context.Context, floor int) int {
	raw, err := s.kv.Get(ctx, sequenceKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read order sequence", "error", err)
		}
		return floor
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n < floor {
		return floor
	}
	return n
}

// persistLocked must be called with s.mu held.
func (s *Store) persistLocked(ctx context.Context) {
	orders := s.orders
	if orders == nil {
		orders = []domain.WorkOrder{}
	}

	data, err := json.Marshal(orders)
	if err != nil {
		s.logger.Error("failed to encode work orders", "error", err)
		return
	}

	if err := s.kv.Put(ctx, sequenceKey, []byte(strconv.Itoa(s.seq))); err != nil {
		s.metrics.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "write")))
		s.logger.Error("failed to persist order sequence", "error", err)
	}
	if err := s.kv.Put(ctx, ordersKey, data); err != nil {
		s.metrics.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "write")))
		s.logger.Error("failed to persist work orders", "error", err, "count", len(orders))
	}
}

func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *Store) GetOrders() []domain.WorkOrder {
	return s.filter(func(domain.WorkOrder) bool { return true })
}

func (s *Store) GetOrder(id string) (domain.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return domain.WorkOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return s.orders[i].Clone(), nil
}

func (s *Store) GetOrdersByStatus(status domain.OrderStatus) []domain.WorkOrder {
	return s.filter(func(o domain.WorkOrder) bool { return o.Status == status })
}

func (s *Store) GetPendingOrders() []domain.WorkOrder {
	return s.GetOrdersByStatus(domain.OrderStatusPending)
}

func (s *Store) GetCompletedOrders() []domain.WorkOrder {
	return s.GetOrdersByStatus(domain.OrderStatusCompleted)
}

func (s *Store) GetOverdueOrders() []domain.WorkOrder {
	now := s.now()
	return s.filter(func(o domain.WorkOrder) bool { return o.Overdue(now) })
}

func (s *Store) GetDueSoonOrders(window time.Duration) []domain.WorkOrder {
	now := s.now()
	limit := now.Add(window)
	return s.filter(func(o domain.WorkOrder) bool {
		return o.Status == domain.OrderStatusPending && !o.Overdue(now) && !o.DueAt.After(limit)
	})
}

func (s *Store) GetStaleOrders(age time.Duration) []domain.WorkOrder {
	now := s.now()
	return s.filter(func(o domain.WorkOrder) bool {
		if o.Status != domain.OrderStatusPending {
			return false
		}
		if o.Priority != domain.PriorityHigh && o.Priority != domain.PriorityUrgent {
			return false
		}
		return now.Sub(o.CreatedAt) > age
	})
}

func (s *Store) SearchOrders(term string) []domain.WorkOrder {
	term = strings.ToLower(strings.TrimSpace(term))
	return s.filter(func(o domain.WorkOrder) bool {
		for _, field := range []string{o.ID, o.Title, o.Client, o.DriverName, o.AssignedVehiclePlate} {
			if strings.Contains(strings.ToLower(field), term) {
				return true
			}
		}
		return false
	})
}

func (s *Store) GetStatistics() domain.Statistics {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.Statistics{Total: len(s.orders)}
	for _, o := range s.orders {
		switch o.Status {
		case domain.OrderStatusPending:
			stats.Pending++
		case domain.OrderStatusInProgress:
			stats.InProgress++
		case domain.OrderStatusCompleted:
			stats.Completed++
		case domain.OrderStatusCancelled:
			stats.Cancelled++
		}
		if o.Overdue(now) {
			stats.Overdue++
		}
	}
	if stats.Total > 0 {
		stats.CompletionPercentage = int(math.Round(float64(stats.Completed) / float64(stats.Total) * 100))
	}
	return stats
}

func (s *Store) CreateOrder(ctx context.Context, in domain.NewWorkOrder) (domain.WorkOrder, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if err := validateNewOrder(in); err != nil {
		return domain.WorkOrder{}, err
	}

	now := s.now()

	s.mu.Lock()
	s.seq++
	order := domain.WorkOrder{
		ID:                   formatID(s.seq),
		Title:                in.Title,
		Description:          in.Description,
		AssignedVehiclePlate: in.AssignedVehiclePlate,
		DriverName:           in.DriverName,
		Origin:               in.Origin,
		Destination:          in.Destination,
		Client:               in.Client,
		Status:               domain.OrderStatusPending,
		Priority:             in.Priority,
		CreatedAt:            now,
		DueAt:                in.DueAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:            now,
		Notes:                []domain.NoteEntry{},
		EstimatedDistanceKm:  in.EstimatedDistanceKm,
		EstimatedDuration:    in.EstimatedDuration,
		Cost:                 in.Cost,
	}
	if in.Notes != "" {
		order.Notes = append(order.Notes, domain.NoteEntry{At: now, Author: actorFrom(ctx), Text: in.Notes})
	}
	s.orders = append([]domain.WorkOrder{order}, s.orders...)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.metrics.created.Add(ctx, 1, metric.WithAttributes(attribute.String("priority", string(order.Priority))))
	s.logger.Info("work order created", "order_id", order.ID, "priority", order.Priority, "due_at", order.DueAt)

	_ = s.send(ctx, "New pending order", fmt.Sprintf("%s: %s", order.ID, order.Title),
		notificationData(order.ID, domain.CategoryNewOrders))
	s.scheduleReminder(ctx, order, now)

	return order.Clone(), nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, note string) (domain.WorkOrder, error) {
	ctx, span := tracer.Start(ctx, "orders.UpdateOrderStatus")
	defer span.End()

	if !status.Valid() {
		return domain.WorkOrder{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	now := s.now()

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return domain.WorkOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	order := &s.orders[i]
	prev := order.Status
	if s.strict && !CanTransition(prev, status) {
		s.mu.Unlock()
		return domain.WorkOrder{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, status)
	}

	order.Status = status
	order.UpdatedAt = now
	if note != "" {
		order.Notes = append(order.Notes, domain.NoteEntry{At: now, Author: actorFrom(ctx), Text: note})
	}
	updated := order.Clone()
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(prev)),
		attribute.String("to", string(status)),
	))
	s.logger.Info("work order status updated", "order_id", id, "from", prev, "status", status)

	if status == domain.OrderStatusCompleted && prev != domain.OrderStatusCompleted {
		_ = s.send(ctx, "Order completed", fmt.Sprintf("%s: %s has been completed", updated.ID, updated.Title),
			notificationData(updated.ID, domain.CategoryCompletedOrders))
	}

	return updated, nil
}

func (s *Store) CancelOrder(ctx context.Context, id, reason string) (domain.WorkOrder, error) {
	return s.UpdateOrderStatus(ctx, id, domain.OrderStatusCancelled, "Cancelled: "+reason)
}

func (s *Store) CompleteOrder(ctx context.Context, id, finalNote string) (domain.WorkOrder, error) {
	return s.UpdateOrderStatus(ctx, id, domain.OrderStatusCompleted, finalNote)
}

func (s *Store) ScheduleUpcomingNotifications(ctx context.Context) int {
	now := s.now()
	scheduled := 0
	for _, o := range s.GetPendingOrders() {
		if s.scheduleReminder(ctx, o, now) {
			scheduled++
		}
	}
	return scheduled
}

func (s *Store) scheduleReminder(ctx context.Context, o domain.WorkOrder, now time.Time) bool {
	at := o.DueAt.Add(-s.preDueLead)
	if !at.After(now) {
		return false
	}

	err := s.gateway.Schedule(ctx, "Order due soon",
		fmt.Sprintf("%s: %s is due in %s", o.ID, o.Title, s.preDueLead),
		at, notificationData(o.ID, domain.CategoryReminders))
	if err != nil {
		s.metrics.notifyFailures.Add(ctx, 1)
		s.logger.Warn("failed to schedule reminder", "error", err, "order_id", o.ID)
		return false
	}
	return true
}

func (s *Store) CheckOverdueOrders(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orders.CheckOverdueOrders")
	defer span.End()

	return s.notifyOverdue(ctx, s.GetOverdueOrders())
}

// NotifyOverdue notifies the listed orders that are currently overdue.
func (s *Store) NotifyOverdue(ctx context.Context, ids []string) error {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	now := s.now()
	return s.notifyOverdue(ctx, s.filter(func(o domain.WorkOrder) bool {
		_, ok := want[o.ID]
		return ok && o.Overdue(now)
	}))
}

func (s *Store) notifyOverdue(ctx context.Context, overdue []domain.WorkOrder) error {
	now := s.now()
	var errs []error
	for _, o := range overdue {
		if !s.throttle.Allow("overdue:"+o.ID, now) {
			continue
		}
		err := s.send(ctx, "Overdue order",
			fmt.Sprintf("%s: %s was due at %s", o.ID, o.Title, o.DueAt.Format(time.RFC3339)),
			notificationData(o.ID, domain.CategoryOverdueOrders))
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) send(ctx context.Context, title, body string, data map[string]string) error {
	if err := s.gateway.SendLocal(ctx, title, body, data); err != nil {
		s.metrics.notifyFailures.Add(ctx, 1)
		s.logger.Warn("failed to send notification", "error", err, "order_id", data["orderId"], "category", data["category"])
		return fmt.Errorf("notify %s: %w", data["orderId"], err)
	}
	return nil
}

func (s *Store) filter(keep func(domain.WorkOrder) bool) []domain.WorkOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.WorkOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (s *Store) indexLocked(id string) int {
	for i := range s.orders {
		if s.orders[i].ID == id {
			return i
		}
	}
	return -1
}

func validateNewOrder(in domain.NewWorkOrder) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidOrder)
	case in.DueAt.IsZero():
		return fmt.Errorf("%w: dueAt is required", ErrInvalidOrder)
	case !in.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidOrder, in.Priority)
	case in.EstimatedDistanceKm < 0, in.Cost < 0:
		return fmt.Errorf("%w: distance and cost must not be negative", ErrInvalidOrder)
	}
	return nil
}

func notificationData(orderID, category string) map[string]string {
	return map[string]string{"orderId": orderID, "category": category}
}

func formatID(seq int) string {
	return fmt.Sprintf("ORD-%03d", seq)
}

func maxSequence(orders []domain.WorkOrder) int {
	highest := 0
	for _, o := range orders {
		n, err := strconv.Atoi(strings.TrimPrefix(o.ID, "ORD-"))
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

type actorKey struct{}

// WithActor attributes notes written during ctx to actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return defaultActor
}

type storeMetrics struct {
	created         metric.Int64Counter
	transitions     metric.Int64Counter
	persistFailures metric.Int64Counter
	notifyFailures  metric.Int64Counter
}

func newStoreMetrics(s *Store) storeMetrics {
	meter := otel.Meter("orders/store")

	created, _ := meter.Int64Counter("workorders.created",
		metric.WithDescription("Work orders created."))
	transitions, _ := meter.Int64Counter("workorders.transitions",
		metric.WithDescription("Work order status changes."))
	persistFailures, _ := meter.Int64Counter("workorders.persist.failures",
		metric.WithDescription("Failed reads and writes of the order document."))
	notifyFailures, _ := meter.Int64Counter("workorders.notify.failures",
		metric.WithDescription("Gateway calls that returned an error."))

	_, _ = meter.Int64ObservableGauge("workorders.overdue",
		metric.WithDescription("Pending work orders past their due time."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.GetStatistics().Overdue))
			return nil
		}),
	)

	return storeMetrics{
		created:         created,
		transitions:     transitions,
		persistFailures: persistFailures,
		notifyFailures:  notifyFailures,
	}
}
