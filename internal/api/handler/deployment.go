package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/api/validation"
	"github.com/daap14/pagelease/internal/deployment"
)

// maxPublishBody bounds the inline site upload.
const maxPublishBody = 8 << 20

// Lifecycle is the deployment surface the API drives.
type Lifecycle interface {
	Publish(ctx context.Context, req deployment.PublishRequest) (*deployment.Deployment, error)
	GetOwned(ctx context.Context, id uuid.UUID, fingerprint string) (*deployment.Deployment, error)
	List(ctx context.Context, fingerprint string, includeDeleted bool) ([]deployment.Deployment, error)
	Usage(ctx context.Context, fingerprint string) (deployment.Usage, error)
	Extend(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
	Archive(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
	Unarchive(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
	Delete(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
}

// publishRequest is the request body for POST /deployments.
type publishRequest struct {
	Name        string            `json:"name" validate:"required,max=100"`
	Files       map[string]string `json:"files" validate:"required,min=1,max=500,dive,keys,sitepath,endkeys"`
	NotifyEmail string            `json:"notifyEmail" validate:"omitempty,email,max=200"`
}

// deploymentResponse is the API representation of a deployment.
type deploymentResponse struct {
	ID             string  `json:"id"`
	Fingerprint    string  `json:"fingerprint"`
	RepoName       string  `json:"repoName"`
	PagesURL       string  `json:"pagesUrl"`
	Status         string  `json:"status"`
	Tier           string  `json:"tier"`
	NotifyEmail    *string `json:"notifyEmail,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
	ExpiresAt      string  `json:"expiresAt"`
	ArchivedAt     *string `json:"archivedAt"`
	DeletedAt      *string `json:"deletedAt"`
	LastExtendedAt *string `json:"lastExtendedAt"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toDeploymentResponse(d *deployment.Deployment) deploymentResponse {
	return deploymentResponse{
		ID:             d.ID.String(),
		Fingerprint:    d.Fingerprint,
		RepoName:       d.RepoName,
		PagesURL:       d.PagesURL,
		Status:         string(d.Status),
		Tier:           string(d.Tier),
		NotifyEmail:    d.NotifyEmail,
		CreatedAt:      formatTime(d.CreatedAt),
		UpdatedAt:      formatTime(d.UpdatedAt),
		ExpiresAt:      formatTime(d.ExpiresAt),
		ArchivedAt:     formatOptionalTime(d.ArchivedAt),
		DeletedAt:      formatOptionalTime(d.DeletedAt),
		LastExtendedAt: formatOptionalTime(d.LastExtendedAt),
	}
}

// DeploymentHandler handles the deployment endpoints. Every route runs
// behind the Fingerprint middleware; deployments owned by another
// fingerprint are reported as not found.
type DeploymentHandler struct {
	lifecycle Lifecycle
}

// NewDeploymentHandler creates a new DeploymentHandler.
func NewDeploymentHandler(lifecycle Lifecycle) *DeploymentHandler {
	return &DeploymentHandler{lifecycle: lifecycle}
}

// Create handles POST /deployments.
func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBody)
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidJSON, "Request body must be valid JSON", requestID)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.NotifyEmail = strings.TrimSpace(req.NotifyEmail)
	if fieldErrors := validation.Struct(req); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Input validation failed", fieldErrors, requestID)
		return
	}

	files := make(map[string][]byte, len(req.Files))
	for path, content := range req.Files {
		files[path] = []byte(content)
	}

	d, err := h.lifecycle.Publish(r.Context(), deployment.PublishRequest{
		Fingerprint: middleware.GetFingerprint(r.Context()),
		Name:        req.Name,
		Files:       files,
		NotifyEmail: req.NotifyEmail,
	})
	if err != nil {
		writeServiceError(w, err, "publish deployment", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toDeploymentResponse(d), requestID)
}

// List handles GET /deployments.
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	includeDeleted := false
	if raw := r.URL.Query().Get("includeDeleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.Err(w, http.StatusBadRequest, response.CodeValidation, "includeDeleted must be a boolean", requestID)
			return
		}
		includeDeleted = v
	}

	list, err := h.lifecycle.List(r.Context(), middleware.GetFingerprint(r.Context()), includeDeleted)
	if err != nil {
		writeServiceError(w, err, "list deployments", requestID)
		return
	}

	items := make([]deploymentResponse, 0, len(list))
	for i := range list {
		items = append(items, toDeploymentResponse(&list[i]))
	}
	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

// GetByID handles GET /deployments/{id}.
func (h *DeploymentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	d, ok := h.owned(w, r)
	if !ok {
		return
	}
	response.Success(w, http.StatusOK, toDeploymentResponse(d), requestID)
}

// Extend handles POST /deployments/{id}/extend.
func (h *DeploymentHandler) Extend(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "extend deployment", h.lifecycle.Extend)
}

// Archive handles POST /deployments/{id}/archive.
func (h *DeploymentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "archive deployment", h.lifecycle.Archive)
}

// Unarchive handles POST /deployments/{id}/unarchive.
func (h *DeploymentHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "unarchive deployment", h.lifecycle.Unarchive)
}

// Delete handles POST /deployments/{id}/delete. Deleting a deployment that
// is already deleted succeeds.
func (h *DeploymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "delete deployment", h.lifecycle.Delete)
}

func (h *DeploymentHandler) command(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, uuid.UUID) (*deployment.Deployment, error)) {
	requestID := middleware.GetRequestID(r.Context())

	owned, ok := h.owned(w, r)
	if !ok {
		return
	}

	d, err := fn(r.Context(), owned.ID)
	if err != nil {
		writeServiceError(w, err, action, requestID)
		return
	}
	response.Success(w, http.StatusOK, toDeploymentResponse(d), requestID)
}

// owned resolves the {id} path parameter to a deployment owned by the
// caller, writing the error response when it cannot.
func (h *DeploymentHandler) owned(w http.ResponseWriter, r *http.Request) (*deployment.Deployment, bool) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidID, "id must be a valid UUID", requestID)
		return nil, false
	}

	d, err := h.lifecycle.GetOwned(r.Context(), id, middleware.GetFingerprint(r.Context()))
	if err != nil {
		writeServiceError(w, err, "get deployment", requestID)
		return nil, false
	}
	return d, true
}
