package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-admission/internal/services"
)

type SessionHandler struct {
	app      *pocketbase.PocketBase
	sessions *services.SessionService
}

func NewSessionHandler(app *pocketbase.PocketBase, sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{app: app, sessions: sessions}
}

// Renew handles POST /api/v1/sessions/renew. A lease past its expiry cannot
// be renewed; the client re-enters through the gate.
func (h *SessionHandler) Renew(e *core.RequestEvent) error {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.SessionID == "" {
		return apis.NewBadRequestError("session_id is required", nil)
	}

	session, err := h.sessions.Renew(e.Request.Context(), req.SessionID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, session)
}

// Release handles POST /api/v1/sessions/release: explicit early exit, also
// called by the storefront when checkout completes.
func (h *SessionHandler) Release(e *core.RequestEvent) error {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.SessionID == "" {
		return apis.NewBadRequestError("session_id is required", nil)
	}

	if err := h.sessions.Release(e.Request.Context(), req.SessionID); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]string{"message": "Session released"})
}
