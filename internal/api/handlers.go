package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightpost/newsletter/internal/directory"
	"github.com/brightpost/newsletter/internal/engine"
	"github.com/brightpost/newsletter/internal/repository/postgres"
)

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	store     *postgres.Store
	engine    *engine.Engine
	directory *directory.Directory
	lists     engine.ListProvider

	db        *sql.DB
	redis     *redis.Client
	startTime time.Time
}

// NewHandlers creates the handler set. redis may be nil when rate limiting
// is disabled.
func NewHandlers(store *postgres.Store, eng *engine.Engine, dir *directory.Directory, db *sql.DB, rdb *redis.Client) *Handlers {
	return &Handlers{
		store:     store,
		engine:    eng,
		directory: dir,
		db:        db,
		redis:     rdb,
		startTime: time.Now(),
	}
}

// SetListProvider enables resolving list_ids through an external list
// service. A nil provider leaves list_ids as opaque labels.
func (h *Handlers) SetListProvider(p engine.ListProvider) {
	h.lists = p
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HandleHealth reports process and dependency health. Always HTTP 200; the
// status field carries degradation.
//
//	GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	overall := "healthy"

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			checks["database"] = "down"
			overall = "unhealthy"
		} else {
			checks["database"] = "up"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			if overall == "healthy" {
				overall = "degraded"
			}
		} else {
			checks["redis"] = "up"
		}
	} else {
		checks["redis"] = "not_configured"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": overall,
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
		"checks": checks,
	})
}
