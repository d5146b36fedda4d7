package domain

import "time"

type NotificationKind string

const (
	NotificationKindSend      NotificationKind = "send"
	NotificationKindSchedule  NotificationKind = "schedule"
	NotificationKindCancelAll NotificationKind = "cancel_all"
)

// NotificationEvent is the wire form of a single gateway call.
type NotificationEvent struct {
	ID        string            `json:"id"`
	Kind      NotificationKind  `json:"kind"`
	Title     string            `json:"title,omitempty"`
	Body      string            `json:"body,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	TriggerAt *time.Time        `json:"trigger_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
