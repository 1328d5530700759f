package models

const (
	NotificationPromoted        = "promoted"
	NotificationPositionChanged = "position_changed"
)

// Notification is the payload delivered to a waiting client over the
// realtime channel. Delivery is at-least-once; consumers must treat a
// duplicate "promoted" as idempotent.
type Notification struct {
	Type     string `json:"type"`
	EventID  string `json:"event_id"`
	Position int    `json:"position,omitempty"`
}
