package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibleTiers_CascadingRule(t *testing.T) {
	tests := []struct {
		name     string
		tiers    []TicketTier
		expected []string
	}{
		{
			name: "VIP unlocks once GA sells out",
			tiers: []TicketTier{
				{ID: "ga", OrderIndex: 0, AvailableInventory: 0, IsActive: true},
				{ID: "vip", OrderIndex: 1, AvailableInventory: 50, IsActive: true, HideUntilPreviousSoldOut: true},
			},
			expected: []string{"ga", "vip"},
		},
		{
			name: "VIP hidden while GA has inventory",
			tiers: []TicketTier{
				{ID: "ga", OrderIndex: 0, AvailableInventory: 5, IsActive: true},
				{ID: "vip", OrderIndex: 1, AvailableInventory: 50, IsActive: true, HideUntilPreviousSoldOut: true},
			},
			expected: []string{"ga"},
		},
		{
			name: "lookback is a single step, not transitive",
			tiers: []TicketTier{
				{ID: "early", OrderIndex: 0, AvailableInventory: 10, IsActive: true},
				{ID: "ga", OrderIndex: 1, AvailableInventory: 0, IsActive: true},
				{ID: "vip", OrderIndex: 2, AvailableInventory: 50, IsActive: true, HideUntilPreviousSoldOut: true},
			},
			expected: []string{"early", "ga", "vip"},
		},
		{
			name: "first tier never hides behind a predecessor",
			tiers: []TicketTier{
				{ID: "ga", OrderIndex: 0, AvailableInventory: 10, IsActive: true, HideUntilPreviousSoldOut: true},
			},
			expected: []string{"ga"},
		},
		{
			name: "inactive tiers are never visible",
			tiers: []TicketTier{
				{ID: "ga", OrderIndex: 0, AvailableInventory: 10, IsActive: false},
				{ID: "vip", OrderIndex: 1, AvailableInventory: 50, IsActive: true},
			},
			expected: []string{"vip"},
		},
		{
			name: "input order does not matter",
			tiers: []TicketTier{
				{ID: "vip", OrderIndex: 1, AvailableInventory: 50, IsActive: true, HideUntilPreviousSoldOut: true},
				{ID: "ga", OrderIndex: 0, AvailableInventory: 3, IsActive: true},
			},
			expected: []string{"ga"},
		},
		{
			name:     "empty input",
			tiers:    []TicketTier{},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			visible := VisibleTiers(tt.tiers)
			ids := make([]string, len(visible))
			for i, tier := range visible {
				ids[i] = tier.ID
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestTicketTier_ConsistentCounts(t *testing.T) {
	tier := TicketTier{TotalTickets: 100, AvailableInventory: 70, ReservedInventory: 20, SoldInventory: 10}
	assert.True(t, tier.ConsistentCounts())

	tier.ReservedInventory = 25
	assert.False(t, tier.ConsistentCounts())

	tier = TicketTier{TotalTickets: 0, AvailableInventory: -5, ReservedInventory: 5, SoldInventory: 0}
	assert.False(t, tier.ConsistentCounts())
}

func TestEstimateWaitMinutes(t *testing.T) {
	// 5 minute average sessions, 10 concurrent slots: rank 20 waits ~10 minutes.
	assert.InDelta(t, 10.0, EstimateWaitMinutes(300, 20, 10), 0.001)

	// No samples yet falls back to one minute per session.
	assert.InDelta(t, 0.5, EstimateWaitMinutes(0, 5, 10), 0.001)

	assert.Equal(t, 0.0, EstimateWaitMinutes(300, 0, 10))
	assert.Equal(t, 0.0, EstimateWaitMinutes(300, 3, 0))
}

func TestSession_ExpiredAt(t *testing.T) {
	now := time.Now()
	session := Session{
		ID:        "sess_abc",
		ClientID:  "client-1",
		GrantedAt: now.Unix(),
		ExpiresAt: now.Add(10 * time.Minute).Unix(),
	}

	assert.False(t, session.ExpiredAt(now))
	assert.False(t, session.ExpiredAt(now.Add(9*time.Minute)))
	assert.True(t, session.ExpiredAt(now.Add(10*time.Minute)))
	assert.Equal(t, 5*time.Minute, session.Duration(now.Add(5*time.Minute)))
}

func TestReservation_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	reservation := Reservation{
		ID:        "res_123",
		TierID:    "tier-1",
		EventID:   "event-1",
		SessionID: "sess_abc",
		Quantity:  2,
		Status:    ReservationPending,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}

	data, err := json.Marshal(reservation)
	require.NoError(t, err)

	var decoded Reservation
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, reservation.ID, decoded.ID)
	assert.Equal(t, reservation.Quantity, decoded.Quantity)
	assert.WithinDuration(t, reservation.ExpiresAt, decoded.ExpiresAt, time.Second)
}

func TestTicketTier_PriceDecimal(t *testing.T) {
	tier := TicketTier{ID: "vip", Price: decimal.RequireFromString("149.50")}

	data, err := json.Marshal(tier)
	require.NoError(t, err)

	var decoded TicketTier
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, tier.Price.Equal(decoded.Price))
}
