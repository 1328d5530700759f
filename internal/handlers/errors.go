package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"

	"ticket-admission/internal/status"
)

// apiError translates domain errors into HTTP responses. Unknown errors stay
// opaque 400s so internals never leak through the API surface.
func apiError(err error) error {
	var insufficient *status.InsufficientInventoryError
	if errors.As(err, &insufficient) {
		return apis.NewApiError(http.StatusConflict, insufficient.Error(), map[string]any{
			"tier_id":   insufficient.TierID,
			"requested": insufficient.Requested,
			"remaining": insufficient.Remaining,
		})
	}

	var exceeded *status.CapacityExceededError
	if errors.As(err, &exceeded) {
		return apis.NewBadRequestError(exceeded.Error(), map[string]any{
			"venue_capacity":  exceeded.VenueCapacity,
			"requested_total": exceeded.RequestedTotal,
		})
	}

	switch {
	case errors.Is(err, status.ErrEventNotFound),
		errors.Is(err, status.ErrTierNotFound),
		errors.Is(err, status.ErrReservationNotFound):
		return apis.NewNotFoundError(err.Error(), nil)
	case errors.Is(err, status.ErrSessionExpired):
		return apis.NewApiError(http.StatusGone, "Session expired, re-enter through the gate", nil)
	case errors.Is(err, status.ErrTierHasInventory):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	}
	return apis.NewBadRequestError("Request failed", err)
}
