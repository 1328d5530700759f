package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-admission/internal/services"
)

type LedgerHandler struct {
	app    *pocketbase.PocketBase
	ledger *services.LedgerService
}

func NewLedgerHandler(app *pocketbase.PocketBase, ledger *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{app: app, ledger: ledger}
}

// Tiers handles GET /api/v1/events/{eventId}/tiers: the storefront's view,
// already filtered by the cascading visibility rule.
func (h *LedgerHandler) Tiers(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("eventId is required", nil)
	}

	tiers, err := h.ledger.GetVisibleTiers(e.Request.Context(), eventID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"tiers": tiers})
}

// Reserve handles POST /api/v1/reservations.
func (h *LedgerHandler) Reserve(e *core.RequestEvent) error {
	var req struct {
		TierID    string `json:"tier_id"`
		SessionID string `json:"session_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.TierID == "" || req.SessionID == "" {
		return apis.NewBadRequestError("tier_id and session_id are required", nil)
	}
	if req.Quantity <= 0 {
		return apis.NewBadRequestError("quantity must be positive", nil)
	}

	reservation, err := h.ledger.Reserve(e.Request.Context(), req.TierID, req.SessionID, req.Quantity)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusCreated, reservation)
}

// Commit handles POST /api/v1/reservations/{reservationId}/commit. Retrying
// a commit after an ambiguous failure returns the prior result.
func (h *LedgerHandler) Commit(e *core.RequestEvent) error {
	reservationID := e.Request.PathValue("reservationId")
	if reservationID == "" {
		return apis.NewBadRequestError("reservationId is required", nil)
	}

	reservation, err := h.ledger.Commit(e.Request.Context(), reservationID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, reservation)
}

// Release handles POST /api/v1/reservations/{reservationId}/release.
func (h *LedgerHandler) Release(e *core.RequestEvent) error {
	reservationID := e.Request.PathValue("reservationId")
	if reservationID == "" {
		return apis.NewBadRequestError("reservationId is required", nil)
	}

	reservation, err := h.ledger.Release(e.Request.Context(), reservationID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, reservation)
}

// Availability handles GET /api/v1/admin/events/{eventId}/availability: the
// operator's unfiltered counts, bound behind superuser auth in the router.
func (h *LedgerHandler) Availability(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("eventId is required", nil)
	}

	summary, err := h.ledger.AvailabilitySummary(e.Request.Context(), eventID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, summary)
}

// SaveTiers handles PUT /api/v1/events/{eventId}/tiers: the operator's tier
// configuration save, validated against venue capacity before anything is
// persisted.
func (h *LedgerHandler) SaveTiers(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("eventId is required", nil)
	}

	var req struct {
		Tiers []services.TierConfigInput `json:"tiers"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	tiers, err := h.ledger.SaveTierConfig(e.Request.Context(), eventID, req.Tiers)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"tiers": tiers})
}
