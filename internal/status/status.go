package status

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound       = errors.New("gate: event not found or not published")
	ErrTierNotFound        = errors.New("ledger: ticket tier not found")
	ErrReservationNotFound = errors.New("ledger: reservation not found")
	ErrSessionExpired      = errors.New("session: session expired or not found")
	ErrTierHasInventory    = errors.New("ledger: tier with sold or reserved inventory cannot be deleted")
)

// InsufficientInventoryError reports a failed reservation together with the
// quantity that was still available at the instant of the atomic check, so
// the caller can re-prompt instead of retrying blindly.
type InsufficientInventoryError struct {
	TierID    string
	Requested int
	Remaining int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("ledger: tier %s has %d tickets available, requested %d", e.TierID, e.Remaining, e.Requested)
}

// CapacityExceededError rejects a tier configuration whose totals exceed the
// venue capacity. The whole save is rolled back.
type CapacityExceededError struct {
	VenueCapacity  int
	RequestedTotal int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("ledger: tier totals %d exceed venue capacity %d", e.RequestedTotal, e.VenueCapacity)
}
