// Package api provides the HTTP admin and diagnostic endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/chatrelay/internal/diagnostics"
	"github.com/ashureev/chatrelay/internal/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Pinger checks backing storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RateLimits exposes per-user limiter state.
type RateLimits interface {
	Stats(userID string) ratelimit.Stats
	Reset(userID string)
}

// Handler serves the /api routes.
type Handler struct {
	db            Pinger
	limits        RateLimits
	stats         *diagnostics.Collector
	healthTimeout time.Duration
}

// NewHandler creates a new Handler.
func NewHandler(db Pinger, limits RateLimits, stats *diagnostics.Collector) *Handler {
	return &Handler{
		db:            db,
		limits:        limits,
		stats:         stats,
		healthTimeout: 5 * time.Second,
	}
}

// RegisterRoutes registers the /api routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)
		r.Get("/ratelimit/{userID}", h.RateLimitStats)
		r.Post("/ratelimit/{userID}/reset", h.ResetRateLimit)
	})
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, status)
}

// Stats returns a diagnostics snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.stats.Collect(r.Context()))
}

// RateLimitStats returns one user's limiter state.
func (h *Handler) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		Error(w, http.StatusBadRequest, "user id required")
		return
	}
	JSON(w, http.StatusOK, h.limits.Stats(userID))
}

// ResetRateLimit clears one user's limiter state.
func (h *Handler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		Error(w, http.StatusBadRequest, "user id required")
		return
	}
	h.limits.Reset(userID)
	slog.Info("Rate limit reset", "user_id", userID)
	JSON(w, http.StatusOK, map[string]string{"status": "reset", "user_id": userID})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
