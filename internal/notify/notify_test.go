package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/fleetorders/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestThrottle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("disabled throttle allows repeats", func(t *testing.T) {
		th := NewThrottle(0)
		assert.True(t, th.Allow("overdue:ORD-001", now))
		assert.True(t, th.Allow("overdue:ORD-001", now))

		var nilThrottle *Throttle
		assert.True(t, nilThrottle.Allow("overdue:ORD-001", now))
	})

	t.Run("suppresses repeats inside the window", func(t *testing.T) {
		th := NewThrottle(time.Hour)
		assert.True(t, th.Allow("overdue:ORD-001", now))
		assert.False(t, th.Allow("overdue:ORD-001", now.Add(59*time.Minute)))
		assert.True(t, th.Allow("overdue:ORD-002", now.Add(time.Minute)))
		assert.True(t, th.Allow("overdue:ORD-001", now.Add(time.Hour)))
	})
}

func TestLocalGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("holds future notifications until cancelled", func(t *testing.T) {
		g := NewLocalGateway(discardLogger())

		require.NoError(t, g.Schedule(ctx, "Reminder", "ORD-001 due in 1h", time.Now().Add(time.Hour), nil))
		require.NoError(t, g.Schedule(ctx, "Reminder", "ORD-002 due in 1h", time.Now().Add(2*time.Hour), nil))
		assert.Equal(t, 2, g.Pending())

		require.NoError(t, g.CancelAll(ctx))
		assert.Equal(t, 0, g.Pending())
	})

	t.Run("delivers past trigger times immediately", func(t *testing.T) {
		g := NewLocalGateway(discardLogger())

		require.NoError(t, g.Schedule(ctx, "Reminder", "late", time.Now().Add(-time.Minute), nil))
		assert.Equal(t, 0, g.Pending())
	})

	t.Run("fires due timers", func(t *testing.T) {
		g := NewLocalGateway(discardLogger())

		require.NoError(t, g.Schedule(ctx, "Reminder", "soon", time.Now().Add(10*time.Millisecond), nil))
		assert.Eventually(t, func() bool { return g.Pending() == 0 }, time.Second, 5*time.Millisecond)
	})
}

type recordingPublisher struct {
	keys   []string
	events []domain.NotificationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.events = append(p.events, event.(domain.NotificationEvent))
	return nil
}

func TestKafkaGateway(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("publishes one event per call keyed by order", func(t *testing.T) {
		pub := &recordingPublisher{}
		g := NewKafkaGateway(pub)
		g.now = func() time.Time { return fixed }

		data := map[string]string{"orderId": "ORD-003", "category": domain.CategoryOverdueOrders}
		require.NoError(t, g.SendLocal(ctx, "Overdue order", "ORD-003 is overdue", data))
		require.NoError(t, g.Schedule(ctx, "Reminder", "ORD-001 due in 1h", fixed.Add(time.Hour), data))
		require.NoError(t, g.CancelAll(ctx))

		require.Len(t, pub.events, 3)
		assert.Equal(t, []string{"ORD-003", "ORD-003", pub.events[2].ID}, pub.keys)

		assert.Equal(t, domain.NotificationKindSend, pub.events[0].Kind)
		assert.Nil(t, pub.events[0].TriggerAt)
		assert.Equal(t, fixed, pub.events[0].CreatedAt)

		assert.Equal(t, domain.NotificationKindSchedule, pub.events[1].Kind)
		require.NotNil(t, pub.events[1].TriggerAt)
		assert.Equal(t, fixed.Add(time.Hour), *pub.events[1].TriggerAt)

		assert.Equal(t, domain.NotificationKindCancelAll, pub.events[2].Kind)
		assert.NotEqual(t, pub.events[0].ID, pub.events[1].ID)
	})

	t.Run("wraps publish errors", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("broker down")}
		g := NewKafkaGateway(pub)

		err := g.SendLocal(ctx, "t", "b", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, pub.err)
		assert.Contains(t, err.Error(), "publish send notification")
	})
}
