package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/api/validation"
	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/entitlement"
	"github.com/daap14/pagelease/internal/plan"
)

// EntitlementReader reads the derived entitlement for a fingerprint.
type EntitlementReader interface {
	Get(ctx context.Context, fingerprint string) (entitlement.View, error)
}

// UsageCounter counts a fingerprint's deployments by status.
type UsageCounter interface {
	Usage(ctx context.Context, fingerprint string) (deployment.Usage, error)
}

type entitlementResponse struct {
	entitlement.View
	Usage           deployment.Usage `json:"usage"`
	FreeActiveLimit *int             `json:"freeActiveLimit"`
	Offers          []plan.Offer     `json:"offers"`
}

// EntitlementHandler handles GET /entitlements/{fingerprint}.
type EntitlementHandler struct {
	entitlements EntitlementReader
	usage        UsageCounter
	policy       plan.Policy
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(entitlements EntitlementReader, usage UsageCounter, policy plan.Policy) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements, usage: usage, policy: policy}
}

// Get returns the derived tier, both horizons and the deployment counts.
// The active limit is reported only for free fingerprints.
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	fp := strings.TrimSpace(chi.URLParam(r, "fingerprint"))
	if fieldErrors := validation.Fingerprint("fingerprint", fp); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Input validation failed", fieldErrors, requestID)
		return
	}

	view, err := h.entitlements.Get(r.Context(), fp)
	if err != nil {
		writeServiceError(w, err, "get entitlement", requestID)
		return
	}

	usage, err := h.usage.Usage(r.Context(), fp)
	if err != nil {
		writeServiceError(w, err, "count deployments", requestID)
		return
	}

	resp := entitlementResponse{View: view, Usage: usage, Offers: plan.Offers(plan.TierBusiness)}
	if view.Tier == plan.TierFree && h.policy.FreeActiveLimit > 0 {
		limit := h.policy.FreeActiveLimit
		resp.FreeActiveLimit = &limit
	}
	response.Success(w, http.StatusOK, resp, requestID)
}
