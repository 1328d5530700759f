package models

import (
	"time"
)

type Event struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Venue         string    `json:"venue"`
	VenueCapacity int       `json:"venue_capacity"`
	StartTime     time.Time `json:"start_time"`
	Status        string    `json:"status"` // draft, published, started, ended
}

// GateConfig is the operator-tunable admission configuration for one event.
// The gate treats these as read-only inputs per call.
type GateConfig struct {
	MaxConcurrentUsers int           `json:"max_concurrent_users"`
	SessionTimeout     time.Duration `json:"session_timeout"`
	CheckoutTimeout    time.Duration `json:"checkout_timeout"`
}

func (e *Event) Published() bool {
	return e.Status == "published" || e.Status == "started"
}
