package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/scheduler"
)

// SweepRunner runs one expiry sweep.
type SweepRunner interface {
	Sweep(ctx context.Context) (scheduler.Result, error)
}

// SweepHandler handles POST /cron/sweep behind the bearer token middleware.
type SweepHandler struct {
	sweeper SweepRunner
}

// NewSweepHandler creates a new SweepHandler.
func NewSweepHandler(sweeper SweepRunner) *SweepHandler {
	return &SweepHandler{sweeper: sweeper}
}

// ServeHTTP runs a sweep and reports the counts. When any step failed the
// response is a 500 whose details still carry the counts of rows that did
// change.
func (h *SweepHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		slog.Warn("api: sweep finished with errors", "error", err, "requestId", requestID)
		response.ErrWithDetails(w, http.StatusInternalServerError, response.CodeInternal, "Sweep finished with errors", res, requestID)
		return
	}
	response.Success(w, http.StatusOK, res, requestID)
}
