package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	specpkg "github.com/daap14/pagelease/api"
	"github.com/daap14/pagelease/internal/api"
	"github.com/daap14/pagelease/internal/auth"
	"github.com/daap14/pagelease/internal/checkout"
	"github.com/daap14/pagelease/internal/database"
	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/entitlement"
	"github.com/daap14/pagelease/internal/payment"
	"github.com/daap14/pagelease/internal/plan"
	"github.com/daap14/pagelease/internal/publisher"
	"github.com/daap14/pagelease/internal/scheduler"
)

const (
	testCronToken = "cron-token"
	testBMCSecret = "bmc-secret"
)

// openAPISpec is the minimal structure needed to extract paths from the document.
type openAPISpec struct {
	Paths map[string]map[string]interface{} `json:"paths"`
}

// newTestRouter wires the in-memory engines the same way the server does
// without a database.
func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	policy := plan.DefaultPolicy()
	entitlements := entitlement.NewStore(entitlement.NewMemoryRepository())
	manager := deployment.NewManager(deployment.NewMemoryRepository(), publisher.LogPublisher{BaseURL: "https://pages.example"}, entitlements, policy)
	reconciler := payment.NewReconciler(payment.NewMemoryRepository(), database.Passthrough{}, entitlements, manager)

	cron, err := auth.NewStaticToken(testCronToken, 4)
	require.NoError(t, err)

	return api.NewRouter(api.RouterDeps{
		Version:          "test",
		OpenAPISpec:      specpkg.OpenAPISpec,
		Policy:           policy,
		Lifecycle:        manager,
		Entitlements:     entitlements,
		Payments:         reconciler,
		Claims:           reconciler,
		Sweeper:          scheduler.New(manager, nil, 0),
		Checkout:         checkout.NewService("", "https://site.example"),
		CronToken:        cron,
		RedeemSecret:     "redeem-secret",
		BMCWebhookSecret: testBMCSecret,
	})
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestOpenAPIDocument_RoutesCoverAllPaths(t *testing.T) {
	t.Parallel()

	specJSON, err := yaml.YAMLToJSON(specpkg.OpenAPISpec)
	require.NoError(t, err, "embedded OpenAPI document must convert to JSON")

	var spec openAPISpec
	err = yaml.Unmarshal(specJSON, &spec)
	require.NoError(t, err, "OpenAPI JSON must unmarshal")

	specRoutes := extractSpecRoutes(t, spec)
	require.NotEmpty(t, specRoutes, "OpenAPI document should define at least one route")

	chiRoutes := extractChiRoutes(t, newTestRouter(t))
	require.NotEmpty(t, chiRoutes, "Chi router should have at least one route")

	for _, sr := range specRoutes {
		t.Run(fmt.Sprintf("openapi_%s_%s_has_Chi_route", sr.method, sr.path), func(t *testing.T) {
			assert.Contains(t, chiRoutes, sr, "documented route %s %s not found in Chi router", sr.method, sr.path)
		})
	}

	for _, cr := range chiRoutes {
		t.Run(fmt.Sprintf("Chi_%s_%s_is_documented", cr.method, cr.path), func(t *testing.T) {
			assert.Contains(t, specRoutes, cr, "Chi route %s %s not found in OpenAPI document", cr.method, cr.path)
		})
	}
}

func TestRouter_FreeTierLifecycle(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	owner := map[string]string{"X-Fingerprint": "fp-owner"}
	site := map[string]any{"name": "portfolio", "files": map[string]string{"index.html": "<h1>hi</h1>"}}

	var firstID string
	for i := 0; i < 3; i++ {
		w, env := do(t, r, http.MethodPost, "/deployments", site, owner)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		if i == 0 {
			firstID = env["data"].(map[string]any)["id"].(string)
		}
	}

	w, env := do(t, r, http.MethodPost, "/deployments", site, owner)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "QUOTA_EXCEEDED", env["error"].(map[string]any)["code"])

	// Another fingerprint cannot see or change the deployment.
	w, _ = do(t, r, http.MethodPost, "/deployments/"+firstID+"/archive", nil, map[string]string{"X-Fingerprint": "fp-other"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, r, http.MethodPost, "/deployments/"+firstID+"/archive", nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "archived", env["data"].(map[string]any)["status"])

	// Archiving frees a slot.
	w, _ = do(t, r, http.MethodPost, "/deployments", site, owner)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env = do(t, r, http.MethodGet, "/entitlements/fp-owner", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := env["data"].(map[string]any)
	assert.Equal(t, "free", data["tier"])
	assert.InDelta(t, 3, data["usage"].(map[string]any)["active"], 0)
	assert.InDelta(t, 1, data["usage"].(map[string]any)["archived"], 0)

	w, env = do(t, r, http.MethodPost, "/deployments/"+firstID+"/delete", nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deleted", env["data"].(map[string]any)["status"])

	w, _ = do(t, r, http.MethodPost, "/deployments/"+firstID+"/delete", nil, owner)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodPost, "/deployments/"+firstID+"/unarchive", nil, owner)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = do(t, r, http.MethodGet, "/deployments", nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env["data"], 3)
}

func TestRouter_PaymentLiftsTier(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	fp := "fp-supporter"
	secret := map[string]string{"X-BMC-Secret": testBMCSecret}
	event := map[string]any{"id": "bmc-1", "amount": 3, "status": "succeeded", "metadata": map[string]string{"fingerprint": fp}}

	w, env := do(t, r, http.MethodPost, "/webhooks/bmc", event, secret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "applied", env["data"].(map[string]any)["outcome"])

	w, env = do(t, r, http.MethodPost, "/webhooks/bmc", event, secret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_applied", env["data"].(map[string]any)["outcome"])

	w, env = do(t, r, http.MethodGet, "/entitlements/"+fp, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := env["data"].(map[string]any)
	assert.Equal(t, "supporter", data["tier"])
	assert.NotNil(t, data["supporterUntil"])
	assert.Nil(t, data["freeActiveLimit"])

	site := map[string]any{"name": "shop", "files": map[string]string{"index.html": "x"}}
	for i := 0; i < 4; i++ {
		w, env = do(t, r, http.MethodPost, "/deployments", site, map[string]string{"X-Fingerprint": fp})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	assert.Equal(t, "supporter", env["data"].(map[string]any)["tier"])
}

func TestRouter_Guards(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)

	tests := []struct {
		name     string
		method   string
		path     string
		headers  map[string]string
		wantCode int
	}{
		{"deployments need fingerprint", http.MethodGet, "/deployments", nil, http.StatusUnauthorized},
		{"sweep needs token", http.MethodPost, "/cron/sweep", nil, http.StatusUnauthorized},
		{"sweep wrong token", http.MethodPost, "/cron/sweep", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"sweep", http.MethodPost, "/cron/sweep", map[string]string{"Authorization": "Bearer " + testCronToken}, http.StatusOK},
		{"stripe webhook unconfigured", http.MethodPost, "/webhooks/stripe", nil, http.StatusServiceUnavailable},
		{"checkout rejects unknown tier", http.MethodPost, "/checkout/tier", nil, http.StatusBadRequest},
		{"health", http.MethodGet, "/health", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var body any
			if tt.path == "/checkout/tier" {
				body = map[string]any{"fingerprint": "fp-1", "tier": "gold", "months": 3}
			}
			w, _ := do(t, r, tt.method, tt.path, body, tt.headers)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

type route struct {
	method string
	path   string
}

func sortRoutes(routes []route) {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].path == routes[j].path {
			return routes[i].method < routes[j].method
		}
		return routes[i].path < routes[j].path
	})
}

func extractSpecRoutes(t *testing.T, spec openAPISpec) []route {
	t.Helper()
	var routes []route
	for path, methods := range spec.Paths {
		for method := range methods {
			routes = append(routes, route{method: strings.ToUpper(method), path: path})
		}
	}
	sortRoutes(routes)
	return routes
}

func extractChiRoutes(t *testing.T, r *chi.Mux) []route {
	t.Helper()
	var routes []route
	walkFunc := func(method, routePath string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		// Chi subroutes produce trailing slashes (/deployments/).
		normalized := strings.TrimRight(routePath, "/")
		if normalized == "" {
			normalized = "/"
		}
		routes = append(routes, route{method: method, path: normalized})
		return nil
	}
	require.NoError(t, chi.Walk(r, walkFunc), "chi.Walk should not error")
	sortRoutes(routes)
	return routes
}
