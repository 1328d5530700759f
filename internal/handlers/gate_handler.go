package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-admission/internal/services"
)

type GateHandler struct {
	app  *pocketbase.PocketBase
	gate *services.GateService
}

func NewGateHandler(app *pocketbase.PocketBase, gate *services.GateService) *GateHandler {
	return &GateHandler{app: app, gate: gate}
}

// clientID prefers the authenticated record id and falls back to the id the
// client supplied. Anonymous browsing before login is allowed at the gate.
func clientID(e *core.RequestEvent, supplied string) string {
	if e.Auth != nil {
		return e.Auth.Id
	}
	return supplied
}

// Enter handles POST /api/v1/gate/enter.
func (h *GateHandler) Enter(e *core.RequestEvent) error {
	var req struct {
		EventID  string `json:"event_id"`
		ClientID string `json:"client_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	client := clientID(e, req.ClientID)
	if req.EventID == "" || client == "" {
		return apis.NewBadRequestError("event_id and client_id are required", nil)
	}

	result, err := h.gate.RequestEntry(e.Request.Context(), req.EventID, client)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, result)
}

// Exit handles POST /api/v1/gate/exit.
func (h *GateHandler) Exit(e *core.RequestEvent) error {
	var req struct {
		EventID  string `json:"event_id"`
		ClientID string `json:"client_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	client := clientID(e, req.ClientID)
	if req.EventID == "" || client == "" {
		return apis.NewBadRequestError("event_id and client_id are required", nil)
	}

	if err := h.gate.ExitGate(e.Request.Context(), req.EventID, client); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]string{"message": "Exited"})
}

// Status handles GET /api/v1/gate/status. This is the polling fallback for
// clients whose realtime channel dropped.
func (h *GateHandler) Status(e *core.RequestEvent) error {
	eventID := e.Request.URL.Query().Get("event_id")
	client := clientID(e, e.Request.URL.Query().Get("client_id"))
	if eventID == "" || client == "" {
		return apis.NewBadRequestError("event_id and client_id are required", nil)
	}

	entry, err := h.gate.QueueStatus(e.Request.Context(), eventID, client)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, entry)
}
