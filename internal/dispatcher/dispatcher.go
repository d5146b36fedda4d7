// Package dispatcher turns notification events from Kafka into push
// deliveries, holding scheduled ones until their trigger time.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fleetorders/internal/domain"
)

type Toggles interface {
	Enabled(ctx context.Context, category string) bool
}

type pushRequest struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Dispatcher struct {
	pushServiceURL string
	httpClient     *http.Client
	toggles        Toggles
	logger         *slog.Logger
	now            func() time.Time

	deliveries metric.Int64Counter

	mu      sync.Mutex
	pending map[string]*time.Timer
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(pushServiceURL string, client *http.Client, toggles Toggles, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pushServiceURL: pushServiceURL,
		httpClient:     client,
		toggles:        toggles,
		logger:         logger,
		now:            time.Now,
		pending:        make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.deliveries, _ = otel.Meter("dispatcher").Int64Counter("dispatcher.deliveries",
		metric.WithDescription("Notification deliveries, by kind and outcome."))
	return d
}

func (d *Dispatcher) Handle(ctx context.Context, payload []byte) error {
	var event domain.NotificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal notification event: %w", err)
	}

	switch event.Kind {
	case domain.NotificationKindSend:
		return d.deliver(ctx, event)
	case domain.NotificationKindSchedule:
		return d.schedule(ctx, event)
	case domain.NotificationKindCancelAll:
		n := d.cancelAll()
		d.logger.Info("scheduled notifications cancelled", "count", n, "event_id", event.ID)
		return nil
	}
	return fmt.Errorf("unknown notification kind %q", event.Kind)
}

func (d *Dispatcher) schedule(ctx context.Context, event domain.NotificationEvent) error {
	if event.TriggerAt == nil {
		return fmt.Errorf("schedule event %s has no trigger_at", event.ID)
	}

	delay := event.TriggerAt.Sub(d.now())
	if delay <= 0 {
		return d.deliver(ctx, event)
	}

	detached := context.WithoutCancel(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.pending[event.ID]; ok {
		old.Stop()
	}
	d.pending[event.ID] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		_, ok := d.pending[event.ID]
		delete(d.pending, event.ID)
		d.mu.Unlock()
		if !ok {
			return
		}
		if err := d.deliver(detached, event); err != nil {
			d.logger.Error("scheduled notification failed", "error", err, "event_id", event.ID)
		}
	})

	d.logger.Info("notification scheduled", "event_id", event.ID, "order_id", event.Data["orderId"], "trigger_at", event.TriggerAt)
	return nil
}

func (d *Dispatcher) cancelAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.pending)
	for id, t := range d.pending {
		t.Stop()
		delete(d.pending, id)
	}
	return n
}

func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) Close() {
	if n := d.cancelAll(); n > 0 {
		d.logger.Warn("dropping held notifications", "count", n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event domain.NotificationEvent) error {
	category := event.Data["category"]
	if !d.toggles.Enabled(ctx, category) {
		d.record(ctx, event.Kind, "suppressed")
		d.logger.Info("notification suppressed by settings", "event_id", event.ID, "category", category)
		return nil
	}

	if err := d.sendPush(ctx, pushRequest{Title: event.Title, Body: event.Body, Data: event.Data}); err != nil {
		d.record(ctx, event.Kind, "error")
		return fmt.Errorf("deliver %s: %w", event.ID, err)
	}

	d.record(ctx, event.Kind, "delivered")
	d.logger.Info("notification delivered", "event_id", event.ID, "order_id", event.Data["orderId"], "category", category)
	return nil
}

func (d *Dispatcher) sendPush(ctx context.Context, body pushRequest) error {
	if d.pushServiceURL == "" {
		return errors.New("push service url not configured")
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.pushServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, kind domain.NotificationKind, outcome string) {
	d.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
