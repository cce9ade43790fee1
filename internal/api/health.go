package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service readiness.
type HealthHandler struct {
	*Handler
	db               Pinger
	oracleConfigured bool
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(base *Handler, db Pinger, oracleConfigured bool) *HealthHandler {
	return &HealthHandler{Handler: base, db: db, oracleConfigured: oracleConfigured}
}

// RegisterRoutes registers the health route on the /api router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health pings the database. The oracle only affects the reported mode since
// the writing engine keeps working on fallback answers.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	oracle := "configured"
	if !h.oracleConfigured {
		oracle = "fallback"
	}

	if err := h.db.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unavailable",
			"database": "unreachable",
			"oracle":   oracle,
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
		"oracle":   oracle,
	})
}
