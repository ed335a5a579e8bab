package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/pagelease/internal/api/handler"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		db            handler.DBPinger
		wantCode      int
		wantStatus    string
		wantMode      string
		wantConnected bool
	}{
		{"memory", nil, http.StatusOK, "healthy", "memory", true},
		{"postgres up", &mockPinger{}, http.StatusOK, "healthy", "postgres", true},
		{"postgres down", &mockPinger{err: errors.New("refused")}, http.StatusServiceUnavailable, "degraded", "postgres", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := handler.NewHealthHandler(tt.db, "v1.2.3")
			req, w := makeChiRequest(http.MethodGet, "/health", nil, nil)
			h.ServeHTTP(w, req)

			require.Equal(t, tt.wantCode, w.Code)
			data := parseEnvelope(t, w)["data"].(map[string]any)
			assert.Equal(t, tt.wantStatus, data["status"])
			assert.Equal(t, "v1.2.3", data["version"])
			db := data["database"].(map[string]any)
			assert.Equal(t, tt.wantMode, db["mode"])
			assert.Equal(t, tt.wantConnected, db["connected"])
		})
	}
}

func TestOpenAPI(t *testing.T) {
	t.Parallel()

	spec := []byte("openapi: 3.0.3\ninfo:\n  title: test\n")
	h := handler.NewOpenAPIHandler(spec)

	req, w := makeChiRequest(http.MethodGet, "/openapi.json", nil, nil)
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"openapi":"3.0.3","info":{"title":"test"}}`, w.Body.String())

	req, w = makeChiRequest(http.MethodGet, "/openapi.json?format=yaml", nil, nil)
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Equal(t, string(spec), w.Body.String())
}

func TestOpenAPI_InvalidYAML(t *testing.T) {
	t.Parallel()

	h := handler.NewOpenAPIHandler([]byte("openapi: [unclosed"))
	req, w := makeChiRequest(http.MethodGet, "/openapi.json", nil, nil)
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
