package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"ticket-admission/config"
	"ticket-admission/internal/status"
	"ticket-admission/models"
	"ticket-admission/utils"
)

// Store is the dbx-backed persistence collaborator. Inventory mutations are
// single conditional UPDATE statements, so the availability check and the
// decrement can never be split across round trips.
type Store struct {
	app core.App
	cfg *config.Config
}

func New(app core.App, cfg *config.Config) *Store {
	return &Store{app: app, cfg: cfg}
}

type eventRow struct {
	ID                     string `db:"id"`
	Name                   string `db:"name"`
	Venue                  string `db:"venue"`
	VenueCapacity          int    `db:"venue_capacity"`
	StartAt                int64  `db:"start_at"`
	Status                 string `db:"status"`
	MaxConcurrentUsers     int    `db:"max_concurrent_users"`
	SessionTimeoutMinutes  int    `db:"session_timeout_minutes"`
	CheckoutTimeoutMinutes int    `db:"checkout_timeout_minutes"`
}

type tierRow struct {
	ID                       string  `db:"id"`
	EventID                  string  `db:"event_id"`
	Name                     string  `db:"name"`
	Price                    float64 `db:"price"`
	OrderIndex               int     `db:"order_index"`
	TotalTickets             int     `db:"total_tickets"`
	AvailableInventory       int     `db:"available_inventory"`
	ReservedInventory        int     `db:"reserved_inventory"`
	SoldInventory            int     `db:"sold_inventory"`
	IsActive                 bool    `db:"is_active"`
	HideUntilPreviousSoldOut bool    `db:"hide_until_previous_sold_out"`
}

type reservationRow struct {
	ID        string `db:"id"`
	TierID    string `db:"tier_id"`
	EventID   string `db:"event_id"`
	SessionID string `db:"session_id"`
	Quantity  int    `db:"quantity"`
	Status    string `db:"status"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (r tierRow) toModel() models.TicketTier {
	return models.TicketTier{
		ID:                       r.ID,
		EventID:                  r.EventID,
		Name:                     r.Name,
		Price:                    decimal.NewFromFloat(r.Price),
		OrderIndex:               r.OrderIndex,
		TotalTickets:             r.TotalTickets,
		AvailableInventory:       r.AvailableInventory,
		ReservedInventory:        r.ReservedInventory,
		SoldInventory:            r.SoldInventory,
		IsActive:                 r.IsActive,
		HideUntilPreviousSoldOut: r.HideUntilPreviousSoldOut,
	}
}

func (r reservationRow) toModel() models.Reservation {
	return models.Reservation{
		ID:        r.ID,
		TierID:    r.TierID,
		EventID:   r.EventID,
		SessionID: r.SessionID,
		Quantity:  r.Quantity,
		Status:    r.Status,
		CreatedAt: time.Unix(r.CreatedAt, 0),
		ExpiresAt: time.Unix(r.ExpiresAt, 0),
	}
}

// GateEvent loads one published event and its gate configuration. Columns
// left at zero fall back to the process-wide defaults.
func (s *Store) GateEvent(ctx context.Context, eventID string) (*models.Event, models.GateConfig, error) {
	var row eventRow
	err := s.app.DB().
		Select("id", "name", "venue", "venue_capacity", "start_at", "status",
			"max_concurrent_users", "session_timeout_minutes", "checkout_timeout_minutes").
		From("events").
		Where(dbx.HashExp{"id": eventID}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.GateConfig{}, status.ErrEventNotFound
	}
	if err != nil {
		return nil, models.GateConfig{}, fmt.Errorf("load event %s: %w", eventID, err)
	}

	event := &models.Event{
		ID:            row.ID,
		Name:          row.Name,
		Venue:         row.Venue,
		VenueCapacity: row.VenueCapacity,
		StartTime:     time.Unix(row.StartAt, 0),
		Status:        row.Status,
	}
	if !event.Published() {
		return nil, models.GateConfig{}, status.ErrEventNotFound
	}

	gcfg := models.GateConfig{
		MaxConcurrentUsers: row.MaxConcurrentUsers,
		SessionTimeout:     time.Duration(row.SessionTimeoutMinutes) * time.Minute,
		CheckoutTimeout:    time.Duration(row.CheckoutTimeoutMinutes) * time.Minute,
	}
	if gcfg.MaxConcurrentUsers <= 0 {
		gcfg.MaxConcurrentUsers = s.cfg.MaxConcurrentUsers
	}
	if gcfg.SessionTimeout <= 0 {
		gcfg.SessionTimeout = s.cfg.SessionTimeout
	}
	if gcfg.CheckoutTimeout <= 0 {
		gcfg.CheckoutTimeout = s.cfg.CheckoutTimeout
	}
	return event, gcfg, nil
}

func (s *Store) TiersByEvent(ctx context.Context, eventID string) ([]models.TicketTier, error) {
	rows := []tierRow{}
	err := s.app.DB().
		Select("id", "event_id", "name", "price", "order_index", "total_tickets",
			"available_inventory", "reserved_inventory", "sold_inventory",
			"is_active", "hide_until_previous_sold_out").
		From("ticket_tiers").
		Where(dbx.HashExp{"event_id": eventID}).
		OrderBy("order_index ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("load tiers for event %s: %w", eventID, err)
	}

	tiers := make([]models.TicketTier, len(rows))
	for i, row := range rows {
		tiers[i] = row.toModel()
	}
	return tiers, nil
}

func (s *Store) TierByID(ctx context.Context, tierID string) (*models.TicketTier, error) {
	row, err := s.tierByID(ctx, s.app.DB(), tierID)
	if err != nil {
		return nil, err
	}
	tier := row.toModel()
	return &tier, nil
}

func (s *Store) tierByID(ctx context.Context, db dbx.Builder, tierID string) (*tierRow, error) {
	var row tierRow
	err := db.
		Select("id", "event_id", "name", "price", "order_index", "total_tickets",
			"available_inventory", "reserved_inventory", "sold_inventory",
			"is_active", "hide_until_previous_sold_out").
		From("ticket_tiers").
		Where(dbx.HashExp{"id": tierID}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tier %s: %w", tierID, err)
	}
	return &row, nil
}

// CreateReservation holds quantity tickets: one conditional UPDATE moves the
// count from available to reserved, guarded by "available >= quantity" in
// the WHERE clause, and the pending reservation row lands in the same
// transaction. Zero rows affected means insufficient inventory (or an
// inactive/missing tier), reported with the remaining count.
func (s *Store) CreateReservation(ctx context.Context, tierID, sessionID string, quantity int, expiresAt time.Time) (*models.Reservation, error) {
	var reservation models.Reservation

	err := s.app.RunInTransaction(func(txApp core.App) error {
		result, err := txApp.DB().NewQuery(`
			UPDATE ticket_tiers
			SET available_inventory = available_inventory - {:quantity},
			    reserved_inventory = reserved_inventory + {:quantity}
			WHERE id = {:tier} AND is_active = TRUE AND available_inventory >= {:quantity}
		`).Bind(dbx.Params{"quantity": quantity, "tier": tierID}).
			WithContext(ctx).
			Execute()
		if err != nil {
			return fmt.Errorf("reserve on tier %s: %w", tierID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			row, err := s.tierByID(ctx, txApp.DB(), tierID)
			if err != nil {
				return err
			}
			remaining := row.AvailableInventory
			if !row.IsActive {
				remaining = 0
			}
			return &status.InsufficientInventoryError{
				TierID:    tierID,
				Requested: quantity,
				Remaining: remaining,
			}
		}

		row, err := s.tierByID(ctx, txApp.DB(), tierID)
		if err != nil {
			return err
		}

		now := time.Now()
		reservation = models.Reservation{
			ID:        utils.NewReservationID(),
			TierID:    tierID,
			EventID:   row.EventID,
			SessionID: sessionID,
			Quantity:  quantity,
			Status:    models.ReservationPending,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}

		_, err = txApp.DB().NewQuery(`
			INSERT INTO reservations (id, tier_id, event_id, session_id, quantity, status, created_at, expires_at)
			VALUES ({:id}, {:tier}, {:event}, {:session}, {:quantity}, {:status}, {:created}, {:expires})
		`).Bind(dbx.Params{
			"id":       reservation.ID,
			"tier":     reservation.TierID,
			"event":    reservation.EventID,
			"session":  reservation.SessionID,
			"quantity": reservation.Quantity,
			"status":   reservation.Status,
			"created":  now.Unix(),
			"expires":  expiresAt.Unix(),
		}).WithContext(ctx).Execute()
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// CommitReservation flips pending to committed and moves the quantity from
// reserved to sold. The status flip is conditional on "status = pending", so
// a double commit finds zero affected rows and returns the prior state.
func (s *Store) CommitReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.finishReservation(ctx, reservationID, models.ReservationCommitted, `
		UPDATE ticket_tiers
		SET reserved_inventory = reserved_inventory - {:quantity},
		    sold_inventory = sold_inventory + {:quantity}
		WHERE id = {:tier}
	`)
}

// ReleaseReservation flips pending to released and returns the quantity from
// reserved to available. No-op (returning current state) on committed or
// already-released reservations.
func (s *Store) ReleaseReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.finishReservation(ctx, reservationID, models.ReservationReleased, `
		UPDATE ticket_tiers
		SET reserved_inventory = reserved_inventory - {:quantity},
		    available_inventory = available_inventory + {:quantity}
		WHERE id = {:tier}
	`)
}

func (s *Store) finishReservation(ctx context.Context, reservationID, targetStatus, countMove string) (*models.Reservation, error) {
	var reservation models.Reservation

	err := s.app.RunInTransaction(func(txApp core.App) error {
		var row reservationRow
		err := txApp.DB().
			Select("id", "tier_id", "event_id", "session_id", "quantity", "status", "created_at", "expires_at").
			From("reservations").
			Where(dbx.HashExp{"id": reservationID}).
			WithContext(ctx).
			One(&row)
		if errors.Is(err, sql.ErrNoRows) {
			return status.ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("load reservation %s: %w", reservationID, err)
		}

		result, err := txApp.DB().NewQuery(`
			UPDATE reservations SET status = {:target}
			WHERE id = {:id} AND status = {:pending}
		`).Bind(dbx.Params{
			"target":  targetStatus,
			"id":      reservationID,
			"pending": models.ReservationPending,
		}).WithContext(ctx).Execute()
		if err != nil {
			return fmt.Errorf("update reservation %s: %w", reservationID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Already committed or released: idempotent no-op, counts untouched.
			reservation = row.toModel()
			return nil
		}

		_, err = txApp.DB().NewQuery(countMove).Bind(dbx.Params{
			"quantity": row.Quantity,
			"tier":     row.TierID,
		}).WithContext(ctx).Execute()
		if err != nil {
			return fmt.Errorf("move counts for reservation %s: %w", reservationID, err)
		}

		row.Status = targetStatus
		reservation = row.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (s *Store) PendingBySession(ctx context.Context, sessionID string) ([]models.Reservation, error) {
	return s.pendingWhere(ctx, dbx.HashExp{"session_id": sessionID, "status": models.ReservationPending})
}

func (s *Store) PendingExpiredBefore(ctx context.Context, cutoff time.Time) ([]models.Reservation, error) {
	return s.pendingWhere(ctx, dbx.NewExp("status = {:status} AND expires_at <= {:cutoff}", dbx.Params{
		"status": models.ReservationPending,
		"cutoff": cutoff.Unix(),
	}))
}

func (s *Store) pendingWhere(ctx context.Context, condition dbx.Expression) ([]models.Reservation, error) {
	rows := []reservationRow{}
	err := s.app.DB().
		Select("id", "tier_id", "event_id", "session_id", "quantity", "status", "created_at", "expires_at").
		From("reservations").
		Where(condition).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("load pending reservations: %w", err)
	}

	reservations := make([]models.Reservation, len(rows))
	for i, row := range rows {
		reservations[i] = row.toModel()
	}
	return reservations, nil
}

// SaveTiers reconciles the event's tier rows against the desired
// configuration in one transaction. Existing tiers keep their reserved and
// sold counts; available is re-derived from the new total. Tiers holding any
// sold or reserved inventory cannot be removed, only deactivated.
func (s *Store) SaveTiers(ctx context.Context, eventID string, tiers []models.TicketTier) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		existing := []tierRow{}
		err := txApp.DB().
			Select("id", "event_id", "name", "price", "order_index", "total_tickets",
				"available_inventory", "reserved_inventory", "sold_inventory",
				"is_active", "hide_until_previous_sold_out").
			From("ticket_tiers").
			Where(dbx.HashExp{"event_id": eventID}).
			WithContext(ctx).
			All(&existing)
		if err != nil {
			return fmt.Errorf("load tiers for event %s: %w", eventID, err)
		}

		existingByID := make(map[string]tierRow, len(existing))
		for _, row := range existing {
			existingByID[row.ID] = row
		}

		kept := map[string]bool{}
		for _, tier := range tiers {
			price, _ := tier.Price.Float64()

			if row, ok := existingByID[tier.ID]; ok {
				committed := row.ReservedInventory + row.SoldInventory
				if tier.TotalTickets < committed {
					return fmt.Errorf("tier %s total %d is below its committed inventory %d",
						tier.ID, tier.TotalTickets, committed)
				}
				_, err := txApp.DB().NewQuery(`
					UPDATE ticket_tiers
					SET name = {:name}, price = {:price}, order_index = {:order},
					    total_tickets = {:total},
					    available_inventory = {:total} - reserved_inventory - sold_inventory,
					    is_active = {:active},
					    hide_until_previous_sold_out = {:hide}
					WHERE id = {:id}
				`).Bind(dbx.Params{
					"name":   tier.Name,
					"price":  price,
					"order":  tier.OrderIndex,
					"total":  tier.TotalTickets,
					"active": tier.IsActive,
					"hide":   tier.HideUntilPreviousSoldOut,
					"id":     tier.ID,
				}).WithContext(ctx).Execute()
				if err != nil {
					return fmt.Errorf("update tier %s: %w", tier.ID, err)
				}
				kept[tier.ID] = true
				continue
			}

			id := tier.ID
			if id == "" {
				code, err := utils.GenerateCode(8)
				if err != nil {
					return err
				}
				id = "tier_" + strings.ToLower(code)
			}
			_, err := txApp.DB().NewQuery(`
				INSERT INTO ticket_tiers
					(id, event_id, name, price, order_index, total_tickets,
					 available_inventory, reserved_inventory, sold_inventory,
					 is_active, hide_until_previous_sold_out)
				VALUES ({:id}, {:event}, {:name}, {:price}, {:order}, {:total},
					{:total}, 0, 0, {:active}, {:hide})
			`).Bind(dbx.Params{
				"id":     id,
				"event":  eventID,
				"name":   tier.Name,
				"price":  price,
				"order":  tier.OrderIndex,
				"total":  tier.TotalTickets,
				"active": tier.IsActive,
				"hide":   tier.HideUntilPreviousSoldOut,
			}).WithContext(ctx).Execute()
			if err != nil {
				return fmt.Errorf("insert tier %s: %w", tier.Name, err)
			}
			kept[id] = true
		}

		for _, row := range existing {
			if kept[row.ID] {
				continue
			}
			if row.ReservedInventory > 0 || row.SoldInventory > 0 {
				return status.ErrTierHasInventory
			}
			_, err := txApp.DB().NewQuery(`DELETE FROM ticket_tiers WHERE id = {:id}`).
				Bind(dbx.Params{"id": row.ID}).
				WithContext(ctx).
				Execute()
			if err != nil {
				return fmt.Errorf("delete tier %s: %w", row.ID, err)
			}
		}
		return nil
	})
}
