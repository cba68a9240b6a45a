package health

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmark/config"
	fakestore "docmark/internal/platform/statestore/fake"
	fakequeue "docmark/internal/platform/workqueue/fake"
)

func testHealthConfig() *config.Config {
	cfg := config.Load()
	cfg.Server.Environment = "test"
	return cfg
}

func TestHealthCheckerCreation(t *testing.T) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, fakestore.New(), fakequeue.New())
	require.NotNil(t, healthChecker)
}

func TestHealthStatus(t *testing.T) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, fakestore.New(), fakequeue.New())

	status := healthChecker.GetHealthStatus()

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
	assert.NotZero(t, status.Timestamp)
	assert.NotEmpty(t, status.Uptime)
	assert.True(t, status.Store.Connected)
	assert.True(t, status.Queue.Connected)
	assert.Equal(t, "test", status.System.Environment)
}

func TestHealthHandler(t *testing.T) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, fakestore.New(), fakequeue.New())

	app := fiber.New()
	app.Get("/health", healthChecker.HealthHandler)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestFastHealthHandler(t *testing.T) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, fakestore.New(), fakequeue.New())

	app := fiber.New()
	app.Get("/health/fast", healthChecker.FastHealthHandler)

	req := httptest.NewRequest("GET", "/health/fast", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestLivenessHandler(t *testing.T) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, fakestore.New(), fakequeue.New())

	app := fiber.New()
	app.Get("/health/liveness", healthChecker.LivenessHandler)

	req := httptest.NewRequest("GET", "/health/liveness", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestReadinessHandler(t *testing.T) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, fakestore.New(), fakequeue.New())

	app := fiber.New()
	app.Get("/health/readiness", healthChecker.ReadinessHandler)

	req := httptest.NewRequest("GET", "/health/readiness", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHealthCheckerWithNilDependencies(t *testing.T) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, nil, nil)

	status := healthChecker.GetHealthStatus()

	assert.Equal(t, "unhealthy", status.Status)
	assert.False(t, status.Store.Connected)
	assert.False(t, status.Queue.Connected)
	assert.Equal(t, "state store not initialized", status.Store.Error)
	assert.Equal(t, "work queue not initialized", status.Queue.Error)
}

func BenchmarkHealthStatus(b *testing.B) {
	cfg := testHealthConfig()
	healthChecker := NewHealthChecker(cfg, fakestore.New(), fakequeue.New())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = healthChecker.GetHealthStatus()
	}
}
