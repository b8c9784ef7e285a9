package handler

import (
	"context"
	"net/http"
	"time"
)

// DatabasePinger defines the interface for checking database connectivity
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db DatabasePinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db DatabasePinger) *HealthHandler {
	return &HealthHandler{db: db}
}

var startTime = time.Now()

// GetHealth handles GET /health
func GetHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
	})
}

// GetLiveness handles GET /health/live
func GetLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// GetReadiness handles GET /health/ready and checks database connectivity
func (h *HealthHandler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
