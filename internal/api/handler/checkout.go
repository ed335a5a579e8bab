package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/api/validation"
	"github.com/daap14/pagelease/internal/checkout"
	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/plan"
)

// CheckoutCreator opens hosted payment pages.
type CheckoutCreator interface {
	ForTier(ctx context.Context, fingerprint string, tier plan.Tier, months int) (checkout.Session, error)
	ForDeployment(ctx context.Context, fingerprint string, deploymentID uuid.UUID, months int) (checkout.Session, error)
}

// OwnedDeploymentReader resolves a deployment owned by a fingerprint.
type OwnedDeploymentReader interface {
	GetOwned(ctx context.Context, id uuid.UUID, fingerprint string) (*deployment.Deployment, error)
}

type tierCheckoutRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,fingerprint"`
	Tier        string `json:"tier" validate:"required,oneof=supporter business"`
	Months      int    `json:"months" validate:"required,oneof=3 6"`
}

type extendCheckoutRequest struct {
	DeploymentID string `json:"deploymentId" validate:"required,uuid"`
	Months       int    `json:"months" validate:"required,oneof=3 6"`
}

// CheckoutHandler handles the Stripe checkout endpoints.
type CheckoutHandler struct {
	sessions    CheckoutCreator
	deployments OwnedDeploymentReader
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(sessions CheckoutCreator, deployments OwnedDeploymentReader) *CheckoutHandler {
	return &CheckoutHandler{sessions: sessions, deployments: deployments}
}

// Tier handles POST /checkout/tier.
func (h *CheckoutHandler) Tier(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req tierCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidJSON, "Request body must be valid JSON", requestID)
		return
	}
	if fieldErrors := validation.Struct(req); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Input validation failed", fieldErrors, requestID)
		return
	}

	tier, _ := plan.ParseTier(req.Tier)
	session, err := h.sessions.ForTier(r.Context(), req.Fingerprint, tier, req.Months)
	if err != nil {
		writeServiceError(w, err, "create checkout session", requestID)
		return
	}
	response.Success(w, http.StatusOK, session, requestID)
}

// Extend handles POST /checkout/extend. The deployment must belong to the
// caller's fingerprint and must not be deleted.
func (h *CheckoutHandler) Extend(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	fp := middleware.GetFingerprint(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req extendCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidJSON, "Request body must be valid JSON", requestID)
		return
	}
	if fieldErrors := validation.Struct(req); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Input validation failed", fieldErrors, requestID)
		return
	}

	id, err := uuid.Parse(req.DeploymentID)
	if err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidID, "deploymentId must be a valid UUID", requestID)
		return
	}
	d, err := h.deployments.GetOwned(r.Context(), id, fp)
	if err != nil {
		writeServiceError(w, err, "get deployment", requestID)
		return
	}
	if d.Status == deployment.StatusDeleted {
		response.Err(w, http.StatusConflict, response.CodeInvalidState, "Deployment is deleted", requestID)
		return
	}

	session, err := h.sessions.ForDeployment(r.Context(), fp, d.ID, req.Months)
	if err != nil {
		writeServiceError(w, err, "create checkout session", requestID)
		return
	}
	response.Success(w, http.StatusOK, session, requestID)
}
