// Package notify defines the sink the order core writes notifications to.
package notify

import (
	"context"
	"time"
)

//go:generate mockgen -source=gateway.go -destination=mocks/gateway_mock.go -package=mock_notify

type Gateway interface {
	SendLocal(ctx context.Context, title, body string, data map[string]string) error
	Schedule(ctx context.Context, title, body string, at time.Time, data map[string]string) error
	CancelAll(ctx context.Context) error
}
