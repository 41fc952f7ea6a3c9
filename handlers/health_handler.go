package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/audit-query/repositories"
	"github.com/upb/audit-query/services/query"
	"github.com/upb/audit-query/utils"
	"go.uber.org/zap"
)

// Version is reported by the status endpoint
var Version = "0.1.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse represents the status endpoint response
type StatusResponse struct {
	Version     string      `json:"version"`
	Environment string      `json:"environment"`
	Driver      string      `json:"driver"`
	Query       query.Stats `json:"query"`
}

// StoreChecker checks metadata store connectivity
type StoreChecker interface {
	HealthCheck(ctx context.Context) error
}

// Pinger is implemented by optional dependencies such as the Redis cursor cache
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsProvider reports query service statistics
type StatsProvider interface {
	GetStats() query.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	store    StoreChecker
	payloads repositories.PayloadReader
	cache    Pinger
	stats    StatsProvider
	env      string
	driver   string
	logger   *zap.Logger
}

// HealthOption configures optional HealthHandler dependencies
type HealthOption func(*HealthHandler)

// WithCursorCache adds a cursor cache connectivity check to readiness
func WithCursorCache(cache Pinger) HealthOption {
	return func(h *HealthHandler) { h.cache = cache }
}

// WithStatus enables the status endpoint
func WithStatus(stats StatsProvider, environment, driver string) HealthOption {
	return func(h *HealthHandler) {
		h.stats = stats
		h.env = environment
		h.driver = driver
	}
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(store StoreChecker, payloads repositories.PayloadReader, logger *zap.Logger, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		store:    store,
		payloads: payloads,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that the store, the payload file and the cursor cache are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.store == nil {
		checks["database"] = "not_initialized"
		allHealthy = false
	} else if err := h.store.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.payloads == nil {
		checks["payload_store"] = "not_initialized"
		allHealthy = false
	} else {
		checks["payload_store"] = "healthy"
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			// A cold cache only costs a seek, so readiness is not affected
			h.logger.Warn("cursor cache health check failed", zap.Error(err))
			checks["cursor_cache"] = "degraded"
		} else {
			checks["cursor_cache"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version:     Version,
		Environment: h.env,
		Driver:      h.driver,
	}
	if h.stats != nil {
		response.Query = h.stats.GetStats()
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}
