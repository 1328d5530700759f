package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"ticket-admission/internal/services"
)

type AdminHandler struct {
	app      *pocketbase.PocketBase
	gate     *services.GateService
	sessions *services.SessionService
	redis    *redis.Client
}

func NewAdminHandler(app *pocketbase.PocketBase, gate *services.GateService, sessions *services.SessionService, redisClient *redis.Client) *AdminHandler {
	return &AdminHandler{app: app, gate: gate, sessions: sessions, redis: redisClient}
}

// GateDashboard handles GET /api/v1/admin/gate-dashboard. The route is bound
// behind superuser auth in the router setup.
func (h *AdminHandler) GateDashboard(e *core.RequestEvent) error {
	dashboard, err := h.gate.GateDashboard(e.Request.Context())
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"events": dashboard})
}

// ForceExpire handles POST /api/v1/admin/force-expire: an operator's manual
// sweep of one event's stale sessions, for incident response.
func (h *AdminHandler) ForceExpire(e *core.RequestEvent) error {
	var req struct {
		EventID string `json:"event_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	expired, err := h.sessions.ExpireStale(e.Request.Context(), req.EventID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"expired": expired})
}
