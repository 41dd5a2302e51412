package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := gin.New()
	NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}).RegisterRoutes(healthy)

	w, env := doJSON(t, healthy, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	w, _ = doJSON(t, healthy, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	degraded := gin.New()
	NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}).RegisterRoutes(degraded)

	w, env = doJSON(t, degraded, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Error.Code)
	assert.Equal(t, "connection refused", env.Error.Details["redis"])
	assert.NotContains(t, env.Error.Details, "postgres")
}
