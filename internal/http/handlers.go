// Package http serves the process status surface: a readiness probe and a
// JSON view of every shard.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/shard"
)

const healthCheckTimeout = 2 * time.Second

// ShardStatus reports the state of the local shards. *shard.Manager
// implements it.
type ShardStatus interface {
	Ready() bool
	Stats() shard.ManagerStats
}

// HealthChecker reports whether a dependency is reachable. *database.DB
// implements it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	shards ShardStatus
	db     HealthChecker
	logger *zap.Logger
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Shards   string `json:"shards"`
	Database string `json:"database,omitempty"`
}

// NewHandlers creates the handlers. db may be nil when session persistence
// is disabled.
func NewHandlers(shards ShardStatus, db HealthChecker, logger *zap.Logger) *Handlers {
	return &Handlers{
		shards: shards,
		db:     db,
		logger: logger,
	}
}

// HealthHandler answers 200 once every shard is Ready and the database, if
// any, responds. Otherwise it answers 503.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Shards: "ready"}
	status := http.StatusOK

	if !h.shards.Ready() {
		resp.Status = "unavailable"
		resp.Shards = "not_ready"
		status = http.StatusServiceUnavailable
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.Health(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	h.writeJSON(w, status, resp)
}

// ShardsHandler returns the shard, cache and bus counters.
func (h *Handlers) ShardsHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.shards.Stats())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
