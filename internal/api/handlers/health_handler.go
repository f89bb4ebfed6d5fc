package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/citedoc/internal/services"
)

type StatsSource interface {
	Snapshot(ctx context.Context) (*services.Stats, error)
}

type HealthHandler struct {
	stats   StatsSource
	service string
	version string
}

func NewHealthHandler(stats StatsSource, service, version string) *HealthHandler {
	return &HealthHandler{stats: stats, service: service, version: version}
}

// Info lists the service endpoints.
func (h *HealthHandler) Info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": h.service,
		"version": h.version,
		"endpoints": map[string]string{
			"health":    "GET /health",
			"stats":     "GET /stats",
			"metrics":   "GET /metrics",
			"upload":    "POST /api/documents/upload",
			"documents": "GET /api/documents",
			"query":     "POST /api/chat/query",
			"rebuild":   "POST /api/index/rebuild",
		},
	})
}

// Health reports liveness only.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
