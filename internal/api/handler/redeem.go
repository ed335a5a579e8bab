package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/api/validation"
	"github.com/daap14/pagelease/internal/auth"
	"github.com/daap14/pagelease/internal/payment"
)

// Claimer attaches a fingerprint to a recorded payment.
type Claimer interface {
	Claim(ctx context.Context, req payment.ClaimRequest) (payment.ApplyResult, error)
}

// redeemRequest is the request body for POST /redeem.
type redeemRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,fingerprint"`
	Reference   string `json:"reference" validate:"required,max=200"`
	Months      int    `json:"months" validate:"omitempty,oneof=3 6"`
	Provider    string `json:"provider" validate:"omitempty,oneof=bmc stripe"`
}

// RedeemHandler handles manual redemption of payments that arrived
// without a fingerprint. Callers present the redemption secret, which is
// distinct from every webhook secret.
type RedeemHandler struct {
	secret string
	claims Claimer
}

// NewRedeemHandler creates a new RedeemHandler.
func NewRedeemHandler(secret string, claims Claimer) *RedeemHandler {
	return &RedeemHandler{secret: strings.TrimSpace(secret), claims: claims}
}

// ServeHTTP handles POST /redeem.
func (h *RedeemHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if h.secret == "" {
		response.Err(w, http.StatusServiceUnavailable, response.CodeNotConfigured, "Redemption is not configured", requestID)
		return
	}
	if !auth.SecretEqual(r.Header.Get("X-Redeem-Secret"), h.secret) {
		response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Invalid redemption secret", requestID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidJSON, "Request body must be valid JSON", requestID)
		return
	}

	req.Fingerprint = strings.TrimSpace(req.Fingerprint)
	req.Reference = strings.TrimSpace(req.Reference)
	if fieldErrors := validation.Struct(req); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Input validation failed", fieldErrors, requestID)
		return
	}

	provider := payment.ProviderBMC
	if p, ok := payment.ParseProvider(req.Provider); ok {
		provider = p
	}

	res, err := h.claims.Claim(r.Context(), payment.ClaimRequest{
		Provider:    provider,
		Reference:   req.Reference,
		Fingerprint: req.Fingerprint,
		Months:      req.Months,
	})
	if err != nil {
		writeServiceError(w, err, "redeem payment", requestID)
		return
	}

	response.Success(w, http.StatusOK, toApplyResponse(res), requestID)
}
