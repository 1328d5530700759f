package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type TicketTier struct {
	ID                       string          `json:"id"`
	EventID                  string          `json:"event_id"`
	Name                     string          `json:"name"`
	Price                    decimal.Decimal `json:"price"`
	OrderIndex               int             `json:"order_index"`
	TotalTickets             int             `json:"total_tickets"`
	AvailableInventory       int             `json:"available_inventory"`
	ReservedInventory        int             `json:"reserved_inventory"`
	SoldInventory            int             `json:"sold_inventory"`
	IsActive                 bool            `json:"is_active"`
	HideUntilPreviousSoldOut bool            `json:"hide_until_previous_sold_out"`
}

// ConsistentCounts reports whether the conservation invariant holds:
// total = available + reserved + sold.
func (t *TicketTier) ConsistentCounts() bool {
	return t.TotalTickets == t.AvailableInventory+t.ReservedInventory+t.SoldInventory &&
		t.AvailableInventory >= 0
}

// VisibleTiers filters tiers by the cascading visibility rule: a tier is
// visible iff it is active and either does not hide behind its predecessor,
// sits first in the order, or the immediately preceding tier (by order index)
// has no available inventory. The lookback is a single step, not transitive.
func VisibleTiers(tiers []TicketTier) []TicketTier {
	sorted := make([]TicketTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OrderIndex < sorted[j].OrderIndex
	})

	visible := []TicketTier{}
	for i, tier := range sorted {
		if !tier.IsActive {
			continue
		}
		if tier.HideUntilPreviousSoldOut && i > 0 && sorted[i-1].AvailableInventory != 0 {
			continue
		}
		visible = append(visible, tier)
	}
	return visible
}

const (
	ReservationPending   = "pending"
	ReservationCommitted = "committed"
	ReservationReleased  = "released"
)

// Reservation is a temporary hold on one tier's inventory, scoped to a
// checkout attempt. Pending holds either commit into sold inventory or flow
// back to available on release/expiry.
type Reservation struct {
	ID        string    `json:"id"`
	TierID    string    `json:"tier_id"`
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
