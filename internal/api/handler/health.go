package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
)

// DBPinger checks database connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	db      DBPinger
	version string
}

// NewHealthHandler creates a new HealthHandler. A nil db reports the
// in-memory store.
func NewHealthHandler(db DBPinger, version string) *HealthHandler {
	return &HealthHandler{
		db:      db,
		version: version,
	}
}

type databaseStatus struct {
	Mode      string `json:"mode"`
	Connected bool   `json:"connected"`
}

type healthData struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Database databaseStatus `json:"database"`
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	data := healthData{
		Status:   "healthy",
		Version:  h.version,
		Database: databaseStatus{Mode: "memory", Connected: true},
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		data.Database.Mode = "postgres"
		if err := h.db.Ping(ctx); err != nil {
			data.Status = "degraded"
			data.Database.Connected = false
			response.Success(w, http.StatusServiceUnavailable, data, requestID)
			return
		}
	}

	response.Success(w, http.StatusOK, data, requestID)
}
