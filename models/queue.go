package models

import (
	"time"
)

type QueueEntry struct {
	EventID  string    `json:"event_id"`
	ClientID string    `json:"client_id"`
	JoinedAt time.Time `json:"joined_at"`
	Position int       `json:"position"` // 1-based rank, recomputed, never stored
	Status   string    `json:"status"`   // waiting, promoted, expired, exited
}

type Session struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	GrantedAt int64  `json:"granted_at"` // unix seconds
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

func (s *Session) ExpiredAt(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

func (s *Session) Duration(now time.Time) time.Duration {
	return time.Duration(now.Unix()-s.GrantedAt) * time.Second
}

// EntryResult is the gate's answer to a requestEntry call: either an active
// session or a queue rank with a wait estimate.
type EntryResult struct {
	Admitted             bool     `json:"admitted"`
	Session              *Session `json:"session,omitempty"`
	QueuePosition        int      `json:"queue_position,omitempty"`
	EstimatedWaitMinutes float64  `json:"estimated_wait_minutes,omitempty"`
}

// EstimateWaitMinutes projects how long a client at the given rank waits
// before promotion: the historical average session duration, divided across
// the concurrent slots ahead of them.
func EstimateWaitMinutes(avgSessionSeconds float64, position, maxConcurrent int) float64 {
	if position <= 0 || maxConcurrent <= 0 {
		return 0
	}
	if avgSessionSeconds <= 0 {
		avgSessionSeconds = 60 // no samples yet, assume a minute per session
	}
	return avgSessionSeconds * float64(position) / float64(maxConcurrent) / 60
}
