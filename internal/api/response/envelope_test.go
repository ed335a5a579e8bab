package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/pagelease/internal/api/response"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestNewMeta(t *testing.T) {
	meta := response.NewMeta("")
	_, err := uuid.Parse(meta.RequestID)
	assert.NoError(t, err, "requestId should be a valid UUID")

	_, err = time.Parse(time.RFC3339, meta.Timestamp)
	assert.NoError(t, err, "timestamp should be valid RFC3339")

	assert.Equal(t, "req-7", response.NewMeta("req-7").RequestID)
}

func TestSuccess_WritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	response.Success(w, http.StatusCreated, map[string]string{"id": "d1"}, "req-1")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	env := decode(t, w)
	assert.Nil(t, env["error"])
	assert.Equal(t, "d1", env["data"].(map[string]any)["id"])
	meta := env["meta"].(map[string]any)
	assert.Equal(t, "req-1", meta["requestId"])
	assert.NotContains(t, meta, "total")
}

func TestSuccessList_IncludesTotal(t *testing.T) {
	w := httptest.NewRecorder()

	response.SuccessList(w, http.StatusOK, []string{"a", "b"}, 2, "req-2")

	env := decode(t, w)
	assert.Len(t, env["data"], 2)
	assert.InDelta(t, 2, env["meta"].(map[string]any)["total"], 0)
}

func TestErr_WritesErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	response.Err(w, http.StatusConflict, response.CodeInvalidState, "Deployment is deleted", "req-3")

	assert.Equal(t, http.StatusConflict, w.Code)
	env := decode(t, w)
	assert.Nil(t, env["data"])
	apiErr := env["error"].(map[string]any)
	assert.Equal(t, "INVALID_STATE", apiErr["code"])
	assert.Equal(t, "Deployment is deleted", apiErr["message"])
	assert.NotContains(t, apiErr, "details")
}

func TestErrWithDetails_IncludesDetails(t *testing.T) {
	w := httptest.NewRecorder()

	response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Input validation failed",
		[]map[string]string{{"field": "months", "message": "months must be one of: 3, 6"}}, "req-4")

	env := decode(t, w)
	details := env["error"].(map[string]any)["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "months", details[0].(map[string]any)["field"])
}
