package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LocalGateway delivers notifications to the process log. Scheduled
// notifications are held in memory and are lost on restart.
type LocalGateway struct {
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	pending map[int]*time.Timer
}

func NewLocalGateway(logger *slog.Logger) *LocalGateway {
	return &LocalGateway{
		logger:  logger,
		pending: make(map[int]*time.Timer),
	}
}

func (g *LocalGateway) SendLocal(_ context.Context, title, body string, data map[string]string) error {
	g.deliver(title, body, data)
	return nil
}

func (g *LocalGateway) Schedule(_ context.Context, title, body string, at time.Time, data map[string]string) error {
	delay := time.Until(at)
	if delay <= 0 {
		g.deliver(title, body, data)
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++
	g.pending[id] = time.AfterFunc(delay, func() {
		g.mu.Lock()
		_, ok := g.pending[id]
		delete(g.pending, id)
		g.mu.Unlock()
		if ok {
			g.deliver(title, body, data)
		}
	})

	g.logger.Debug("notification scheduled", "title", title, "at", at)
	return nil
}

func (g *LocalGateway) CancelAll(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, t := range g.pending {
		t.Stop()
		delete(g.pending, id)
	}
	g.logger.Info("scheduled notifications cancelled")
	return nil
}

func (g *LocalGateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *LocalGateway) deliver(title, body string, data map[string]string) {
	g.logger.Info("notification delivered", "title", title, "body", body, "order_id", data["orderId"], "category", data["category"])
}
