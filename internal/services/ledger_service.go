package services

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ticket-admission/config"
	"ticket-admission/internal/status"
	"ticket-admission/models"
	"ticket-admission/monitoring"
)

// TierStore is the persistence collaborator for tiers and reservations. Its
// mutating operations are atomic conditional updates: the availability check
// and the decrement happen in one statement, never as separate round trips.
type TierStore interface {
	GateEvent(ctx context.Context, eventID string) (*models.Event, models.GateConfig, error)
	TiersByEvent(ctx context.Context, eventID string) ([]models.TicketTier, error)
	TierByID(ctx context.Context, tierID string) (*models.TicketTier, error)

	// CreateReservation conditionally moves quantity from available to
	// reserved and inserts the pending reservation in the same transaction.
	// Fails with InsufficientInventoryError carrying the remaining count.
	CreateReservation(ctx context.Context, tierID, sessionID string, quantity int, expiresAt time.Time) (*models.Reservation, error)

	// CommitReservation moves a pending hold to sold. Committing twice
	// returns the prior result; committing a released hold is a no-op.
	CommitReservation(ctx context.Context, reservationID string) (*models.Reservation, error)

	// ReleaseReservation returns a pending hold to available. Releasing a
	// committed or already-released hold is a no-op.
	ReleaseReservation(ctx context.Context, reservationID string) (*models.Reservation, error)

	PendingBySession(ctx context.Context, sessionID string) ([]models.Reservation, error)
	PendingExpiredBefore(ctx context.Context, cutoff time.Time) ([]models.Reservation, error)

	// SaveTiers transactionally reconciles an event's tier configuration:
	// updates preserve reserved/sold counts, removals of tiers holding
	// inventory are rejected with ErrTierHasInventory.
	SaveTiers(ctx context.Context, eventID string, tiers []models.TicketTier) error
}

// TierConfigInput is one tier row of an operator's configuration save.
type TierConfigInput struct {
	ID                       string          `json:"id"`
	Name                     string          `json:"name"`
	Price                    decimal.Decimal `json:"price"`
	OrderIndex               int             `json:"order_index"`
	TotalTickets             int             `json:"total_tickets"`
	IsActive                 bool            `json:"is_active"`
	HideUntilPreviousSoldOut bool            `json:"hide_until_previous_sold_out"`
}

// LedgerService is the final authority preventing oversell. It owns tier
// visibility, reservation lifecycle, and the capacity cross-check at
// configuration time.
type LedgerService struct {
	store   TierStore
	monitor *monitoring.Monitor
	config  *config.Config

	now func() time.Time
}

func NewLedgerService(store TierStore, monitor *monitoring.Monitor, cfg *config.Config) *LedgerService {
	return &LedgerService{
		store:   store,
		monitor: monitor,
		config:  cfg,
		now:     time.Now,
	}
}

func (s *LedgerService) track(operation, result string) {
	if s.monitor != nil {
		s.monitor.TrackLedgerOperation(operation, result)
	}
}

// GetVisibleTiers returns the event's tiers in order, filtered by the
// cascading visibility rule.
func (s *LedgerService) GetVisibleTiers(ctx context.Context, eventID string) ([]models.TicketTier, error) {
	if _, _, err := s.store.GateEvent(ctx, eventID); err != nil {
		return nil, err
	}
	tiers, err := s.store.TiersByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return models.VisibleTiers(tiers), nil
}

// Reserve places a hold on quantity tickets of one tier for the session's
// checkout attempt. The hold auto-releases at the event's checkout-timeout
// horizon if neither committed nor cancelled.
func (s *LedgerService) Reserve(ctx context.Context, tierID, sessionID string, quantity int) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive, got %d", quantity)
	}

	tier, err := s.store.TierByID(ctx, tierID)
	if err != nil {
		s.track("reserve", "error")
		return nil, err
	}

	_, gcfg, err := s.store.GateEvent(ctx, tier.EventID)
	if err != nil {
		s.track("reserve", "error")
		return nil, err
	}

	reservation, err := s.store.CreateReservation(ctx, tierID, sessionID, quantity, s.now().Add(gcfg.CheckoutTimeout))
	if err != nil {
		s.track("reserve", "rejected")
		return nil, err
	}

	slog.Info("reservation created",
		"reservation_id", reservation.ID, "tier_id", tierID, "quantity", quantity, "session_id", sessionID)
	s.track("reserve", "success")
	return reservation, nil
}

// Commit converts the hold into a sale. Idempotent by reservation id:
// retrying after an ambiguous failure returns the prior result.
func (s *LedgerService) Commit(ctx context.Context, reservationID string) (*models.Reservation, error) {
	reservation, err := s.store.CommitReservation(ctx, reservationID)
	if err != nil {
		s.track("commit", "error")
		return nil, err
	}
	s.track("commit", "success")
	return reservation, nil
}

// Release cancels the hold, returning its quantity to the available pool.
// No-op on committed or already-released reservations.
func (s *LedgerService) Release(ctx context.Context, reservationID string) (*models.Reservation, error) {
	reservation, err := s.store.ReleaseReservation(ctx, reservationID)
	if err != nil {
		s.track("release", "error")
		return nil, err
	}
	s.track("release", "success")
	return reservation, nil
}

// ReleaseBySession returns every pending hold of a dead session. Called by
// the session sweep so a lost lease cannot strand reserved inventory.
func (s *LedgerService) ReleaseBySession(ctx context.Context, sessionID string) (int, error) {
	pending, err := s.store.PendingBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, reservation := range pending {
		if _, err := s.store.ReleaseReservation(ctx, reservation.ID); err != nil {
			log.Printf("Error releasing reservation %s: %v", reservation.ID, err)
			continue
		}
		released++
	}
	return released, nil
}

// SweepExpired releases pending reservations past their checkout deadline.
func (s *LedgerService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.PendingExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}

	released := 0
	for _, reservation := range expired {
		if _, err := s.store.ReleaseReservation(ctx, reservation.ID); err != nil {
			log.Printf("Error releasing expired reservation %s: %v", reservation.ID, err)
			continue
		}
		released++
		s.track("expire", "success")
	}
	return released, nil
}

// AvailabilitySummary is the operator's unfiltered view: every tier with its
// full counts plus event-level totals. Visibility rules do not apply here.
func (s *LedgerService) AvailabilitySummary(ctx context.Context, eventID string) (map[string]any, error) {
	event, _, err := s.store.GateEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	tiers, err := s.store.TiersByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	totalAvailable, totalReserved, totalSold := 0, 0, 0
	for _, tier := range tiers {
		totalAvailable += tier.AvailableInventory
		totalReserved += tier.ReservedInventory
		totalSold += tier.SoldInventory
	}

	return map[string]any{
		"event_id":        event.ID,
		"venue_capacity":  event.VenueCapacity,
		"tiers":           tiers,
		"total_available": totalAvailable,
		"total_reserved":  totalReserved,
		"total_sold":      totalSold,
	}, nil
}

// SweepLoop runs SweepExpired on a ticker.
func (s *LedgerService) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			released, err := s.SweepExpired(ctx)
			if err != nil {
				log.Printf("Error sweeping expired reservations: %v", err)
				continue
			}
			if released > 0 {
				log.Printf("Released %d expired reservations", released)
			}
		case <-ctx.Done():
			log.Println("Reservation expiry sweep stopping")
			return
		}
	}
}

// SaveTierConfig validates and persists an operator's tier configuration.
// The capacity cross-check happens here, before persistence, and rejects the
// whole save: no partial tier creation.
func (s *LedgerService) SaveTierConfig(ctx context.Context, eventID string, inputs []TierConfigInput) ([]models.TicketTier, error) {
	event, _, err := s.store.GateEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, input := range inputs {
		if input.TotalTickets < 0 {
			return nil, fmt.Errorf("tier %q has negative total_tickets", input.Name)
		}
		total += input.TotalTickets
	}
	if event.VenueCapacity > 0 && total > event.VenueCapacity {
		s.track("configure", "rejected")
		return nil, &status.CapacityExceededError{
			VenueCapacity:  event.VenueCapacity,
			RequestedTotal: total,
		}
	}

	tiers := make([]models.TicketTier, len(inputs))
	for i, input := range inputs {
		tiers[i] = models.TicketTier{
			ID:                       input.ID,
			EventID:                  eventID,
			Name:                     input.Name,
			Price:                    input.Price,
			OrderIndex:               input.OrderIndex,
			TotalTickets:             input.TotalTickets,
			IsActive:                 input.IsActive,
			HideUntilPreviousSoldOut: input.HideUntilPreviousSoldOut,
		}
	}

	if err := s.store.SaveTiers(ctx, eventID, tiers); err != nil {
		s.track("configure", "error")
		return nil, err
	}

	s.track("configure", "success")
	return s.store.TiersByEvent(ctx, eventID)
}
