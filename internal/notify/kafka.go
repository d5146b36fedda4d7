package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/fleetorders/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// KafkaGateway publishes each call as a NotificationEvent.
type KafkaGateway struct {
	publisher Publisher
	now       func() time.Time
}

func NewKafkaGateway(publisher Publisher) *KafkaGateway {
	return &KafkaGateway{
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (g *KafkaGateway) SendLocal(ctx context.Context, title, body string, data map[string]string) error {
	return g.publish(ctx, g.event(domain.NotificationKindSend, title, body, data))
}

func (g *KafkaGateway) Schedule(ctx context.Context, title, body string, at time.Time, data map[string]string) error {
	event := g.event(domain.NotificationKindSchedule, title, body, data)
	at = at.UTC()
	event.TriggerAt = &at
	return g.publish(ctx, event)
}

func (g *KafkaGateway) CancelAll(ctx context.Context) error {
	return g.publish(ctx, g.event(domain.NotificationKindCancelAll, "", "", nil))
}

func (g *KafkaGateway) event(kind domain.NotificationKind, title, body string, data map[string]string) domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: g.now(),
	}
}

func (g *KafkaGateway) publish(ctx context.Context, event domain.NotificationEvent) error {
	key := event.Data["orderId"]
	if key == "" {
		key = event.ID
	}
	if err := g.publisher.Publish(ctx, key, event); err != nil {
		return fmt.Errorf("publish %s notification: %w", event.Kind, err)
	}
	return nil
}
