package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/checkout"
	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/entitlement"
	"github.com/daap14/pagelease/internal/payment"
	"github.com/daap14/pagelease/internal/plan"
	"github.com/daap14/pagelease/internal/scheduler"
)

// --- Helpers ---

func makeChiRequest(method, path string, body []byte, params map[string]string) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	return req, httptest.NewRecorder()
}

// withFingerprint runs req through the Fingerprint middleware and then h.
func withFingerprint(h http.HandlerFunc, req *http.Request, w http.ResponseWriter, fp string) {
	req.Header.Set("X-Fingerprint", fp)
	middleware.Fingerprint(h).ServeHTTP(w, req)
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &env)
	require.NoError(t, err, "failed to parse response body")
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := parseEnvelope(t, w)["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %s", w.Body.String())
	return errObj["code"].(string)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func sampleDeployment(id uuid.UUID, fp string, status deployment.Status) *deployment.Deployment {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	return &deployment.Deployment{
		ID:          id,
		Fingerprint: fp,
		RepoName:    "portfolio-" + id.String()[:8],
		PagesURL:    "https://pages.example/portfolio",
		Status:      status,
		Tier:        plan.TierFree,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(21 * 24 * time.Hour),
	}
}

// --- Mocks ---

type mockLifecycle struct {
	publishFn   func(ctx context.Context, req deployment.PublishRequest) (*deployment.Deployment, error)
	getOwnedFn  func(ctx context.Context, id uuid.UUID, fp string) (*deployment.Deployment, error)
	listFn      func(ctx context.Context, fp string, includeDeleted bool) ([]deployment.Deployment, error)
	usageFn     func(ctx context.Context, fp string) (deployment.Usage, error)
	extendFn    func(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
	archiveFn   func(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
	unarchiveFn func(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
	deleteFn    func(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error)
}

func (m *mockLifecycle) Publish(ctx context.Context, req deployment.PublishRequest) (*deployment.Deployment, error) {
	return m.publishFn(ctx, req)
}

func (m *mockLifecycle) GetOwned(ctx context.Context, id uuid.UUID, fp string) (*deployment.Deployment, error) {
	return m.getOwnedFn(ctx, id, fp)
}

func (m *mockLifecycle) List(ctx context.Context, fp string, includeDeleted bool) ([]deployment.Deployment, error) {
	return m.listFn(ctx, fp, includeDeleted)
}

func (m *mockLifecycle) Usage(ctx context.Context, fp string) (deployment.Usage, error) {
	return m.usageFn(ctx, fp)
}

func (m *mockLifecycle) Extend(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error) {
	return m.extendFn(ctx, id)
}

func (m *mockLifecycle) Archive(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error) {
	return m.archiveFn(ctx, id)
}

func (m *mockLifecycle) Unarchive(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error) {
	return m.unarchiveFn(ctx, id)
}

func (m *mockLifecycle) Delete(ctx context.Context, id uuid.UUID) (*deployment.Deployment, error) {
	return m.deleteFn(ctx, id)
}

type mockEntitlements struct {
	getFn func(ctx context.Context, fp string) (entitlement.View, error)
}

func (m *mockEntitlements) Get(ctx context.Context, fp string) (entitlement.View, error) {
	return m.getFn(ctx, fp)
}

type mockApplier struct {
	applyFn func(ctx context.Context, ev payment.Event) (payment.ApplyResult, error)
	calls   int
}

func (m *mockApplier) Apply(ctx context.Context, ev payment.Event) (payment.ApplyResult, error) {
	m.calls++
	return m.applyFn(ctx, ev)
}

type mockClaimer struct {
	claimFn func(ctx context.Context, req payment.ClaimRequest) (payment.ApplyResult, error)
}

func (m *mockClaimer) Claim(ctx context.Context, req payment.ClaimRequest) (payment.ApplyResult, error) {
	return m.claimFn(ctx, req)
}

type mockSweeper struct {
	sweepFn func(ctx context.Context) (scheduler.Result, error)
}

func (m *mockSweeper) Sweep(ctx context.Context) (scheduler.Result, error) {
	return m.sweepFn(ctx)
}

type mockCheckout struct {
	forTierFn       func(ctx context.Context, fp string, tier plan.Tier, months int) (checkout.Session, error)
	forDeploymentFn func(ctx context.Context, fp string, id uuid.UUID, months int) (checkout.Session, error)
}

func (m *mockCheckout) ForTier(ctx context.Context, fp string, tier plan.Tier, months int) (checkout.Session, error) {
	return m.forTierFn(ctx, fp, tier, months)
}

func (m *mockCheckout) ForDeployment(ctx context.Context, fp string, id uuid.UUID, months int) (checkout.Session, error) {
	return m.forDeploymentFn(ctx, fp, id, months)
}
