package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantcare-engine/internal/config"
)

const contentTypeJSON = "application/json"

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var envelope struct {
		Data HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestHealthHandler_Handle(t *testing.T) {
	handler := NewHealthHandler(config.DefaultConfig(), func(context.Context) error { return nil }, "test")

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	w := httptest.NewRecorder()
	handler.Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeJSON, w.Header().Get("Content-Type"))

	status := decodeHealth(t, w)
	assert.NotEqual(t, statusUnhealthy, status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, statusHealthy, status.Checks["backends"].Status)
	assert.Equal(t, statusHealthy, status.Checks["config"].Status)
}

func TestHealthHandler_FailingProbe(t *testing.T) {
	handler := NewHealthHandler(config.DefaultConfig(), func(context.Context) error {
		return errors.New("connection refused")
	}, "test")

	w := httptest.NewRecorder()
	handler.Handle(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, statusUnhealthy, status.Status)
	assert.Equal(t, "connection refused", status.Checks["backends"].Message)
}

func TestHealthHandler_InvalidConfigIsWarning(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0

	w := httptest.NewRecorder()
	NewHealthHandler(cfg, nil, "test").Handle(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, statusWarning, decodeHealth(t, w).Checks["config"].Status)
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, statusHealthy, overallStatus(map[string]Check{"a": {Status: statusHealthy}}))
	assert.Equal(t, statusWarning, overallStatus(map[string]Check{"a": {Status: statusHealthy}, "b": {Status: statusWarning}}))
	assert.Equal(t, statusUnhealthy, overallStatus(map[string]Check{"a": {Status: statusWarning}, "b": {Status: statusUnhealthy}}))
}
