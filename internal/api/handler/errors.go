package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/checkout"
	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/entitlement"
	"github.com/daap14/pagelease/internal/payment"
)

// writeServiceError maps engine sentinels onto API error codes. Anything
// unrecognised is logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, err error, action, requestID string) {
	switch {
	case errors.Is(err, deployment.ErrNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "Deployment not found", requestID)
	case errors.Is(err, payment.ErrNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "Payment not found. If you just paid, wait a minute and retry", requestID)
	case errors.Is(err, deployment.ErrInvalidState):
		response.Err(w, http.StatusConflict, response.CodeInvalidState, err.Error(), requestID)
	case errors.Is(err, deployment.ErrQuotaExceeded):
		response.Err(w, http.StatusTooManyRequests, response.CodeQuotaExceeded, "Free tier active deployment limit reached", requestID)
	case errors.Is(err, payment.ErrMonthsMismatch):
		response.Err(w, http.StatusConflict, response.CodeMonthsMismatch, err.Error(), requestID)
	case errors.Is(err, payment.ErrNotPaid):
		response.Err(w, http.StatusUnprocessableEntity, response.CodeNotPaid, "Payment not confirmed as paid yet", requestID)
	case errors.Is(err, deployment.ErrPublishFailed):
		slog.Warn("api: publish failed", "error", err, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, response.CodePublishFailed, "Publishing the site failed", requestID)
	case errors.Is(err, deployment.ErrInvalidRequest),
		errors.Is(err, deployment.ErrInvalidMonths),
		errors.Is(err, entitlement.ErrInvalidFingerprint),
		errors.Is(err, entitlement.ErrInvalidMonths),
		errors.Is(err, entitlement.ErrUnsupportedTier),
		errors.Is(err, payment.ErrInvalidEvent),
		errors.Is(err, payment.ErrInvalidClaim),
		errors.Is(err, checkout.ErrUnsupportedPlan):
		response.Err(w, http.StatusBadRequest, response.CodeValidation, err.Error(), requestID)
	case errors.Is(err, deployment.ErrContention), errors.Is(err, entitlement.ErrContention):
		response.Err(w, http.StatusServiceUnavailable, response.CodeContention, "Too many concurrent updates, retry", requestID)
	case errors.Is(err, checkout.ErrNotConfigured):
		response.Err(w, http.StatusServiceUnavailable, response.CodeNotConfigured, "Checkout is not configured", requestID)
	case errors.Is(err, checkout.ErrSessionFailed):
		slog.Error("api: checkout session failed", "error", err, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, response.CodeCheckoutFailed, "Unable to create checkout session", requestID)
	default:
		slog.Error("api: "+action+" failed", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, response.CodeInternal, "Failed to "+action, requestID)
	}
}
