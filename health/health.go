package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"docmark/config"
	"docmark/internal/core/ports"
	"docmark/pkg/cache"
)

// HealthChecker reports the health of the backing services the
// orchestrator depends on: the state store, the work queue, and (once
// SetResultCache is called) the Result cache.
type HealthChecker struct {
	config      *config.Config
	store       ports.StateStore
	queue       ports.WorkQueue
	resultCache *cache.Cache
}

// SetResultCache attaches the Result cache so the health endpoint can probe
// its connectivity and surface its hit/miss stats.
func (h *HealthChecker) SetResultCache(c *cache.Cache) {
	h.resultCache = c
}

type HealthStatus struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Store     DependencyInfo `json:"store"`
	Queue     QueueInfo      `json:"queue"`
	Cache     CacheInfo      `json:"cache,omitempty"`
	System    SystemInfo     `json:"system"`
}

type DependencyInfo struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type QueueInfo struct {
	Connected bool             `json:"connected"`
	Stats     ports.QueueStats `json:"stats"`
	Error     string           `json:"error,omitempty"`
}

// CacheInfo reports the Result cache's connectivity and running stats. It
// is left zero-valued when no cache has been attached via SetResultCache.
type CacheInfo struct {
	Connected bool              `json:"connected"`
	Stats     *cache.CacheStats `json:"stats,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type SystemInfo struct {
	Environment string `json:"environment"`
}

var startTime = time.Now()

func NewHealthChecker(cfg *config.Config, store ports.StateStore, queue ports.WorkQueue) *HealthChecker {
	return &HealthChecker{config: cfg, store: store, queue: queue}
}

func (h *HealthChecker) GetHealthStatus() HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "healthy",
		Version:   "1.0.0",
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
		System: SystemInfo{
			Environment: h.config.Server.Environment,
		},
	}

	h.checkStore(ctx, &status)
	h.checkQueue(ctx, &status)
	h.checkCache(ctx, &status)

	if !status.Store.Connected {
		status.Status = "unhealthy"
	}
	if !status.Queue.Connected {
		status.Status = "unhealthy"
	}
	if h.resultCache != nil && !status.Cache.Connected {
		status.Status = "unhealthy"
	}

	return status
}

func (h *HealthChecker) checkStore(ctx context.Context, status *HealthStatus) {
	if h.store == nil {
		status.Store = DependencyInfo{Connected: false, Error: "state store not initialized"}
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := h.store.Ping(storeCtx); err != nil {
		status.Store = DependencyInfo{Connected: false, Error: err.Error()}
		return
	}
	status.Store = DependencyInfo{Connected: true}
}

func (h *HealthChecker) checkQueue(ctx context.Context, status *HealthStatus) {
	if h.queue == nil {
		status.Queue = QueueInfo{Connected: false, Error: "work queue not initialized"}
		return
	}
	queueCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	stats, err := h.queue.Stats(queueCtx)
	if err != nil {
		status.Queue = QueueInfo{Connected: false, Error: err.Error()}
		return
	}
	status.Queue = QueueInfo{Connected: true, Stats: stats}
}

func (h *HealthChecker) checkCache(ctx context.Context, status *HealthStatus) {
	if h.resultCache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if _, err := h.resultCache.Exists(cacheCtx, "health:ping"); err != nil {
		status.Cache = CacheInfo{Connected: false, Error: err.Error()}
		return
	}
	stats := h.resultCache.Stats()
	status.Cache = CacheInfo{Connected: true, Stats: &stats}
}

// Fiber handlers

func (h *HealthChecker) HealthHandler(c *fiber.Ctx) error {
	health := h.GetHealthStatus()

	statusCode := fiber.StatusOK
	if health.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(health)
}

func (h *HealthChecker) ReadinessHandler(c *fiber.Ctx) error {
	health := h.GetHealthStatus()

	if !health.Queue.Connected || !health.Store.Connected {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "store or queue not available",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

func (h *HealthChecker) LivenessHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}

// FastHealthHandler provides a lightweight health check (store ping only).
func (h *HealthChecker) FastHealthHandler(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if h.store == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"reason": "store not initialized",
		})
	}

	if err := h.store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"reason": "store unavailable",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}

func (h *HealthChecker) MetricsHandler(c *fiber.Ctx) error {
	health := h.GetHealthStatus()

	metrics := fiber.Map{
		"docmark_up":                 1,
		"docmark_uptime_seconds":     time.Since(startTime).Seconds(),
		"docmark_queue_pending_jobs": health.Queue.Stats.Pending,
		"docmark_queue_dead_letters": health.Queue.Stats.DeadLetters,
	}
	if health.Cache.Stats != nil {
		metrics["docmark_cache_hits"] = health.Cache.Stats.Hits
		metrics["docmark_cache_misses"] = health.Cache.Stats.Misses
		metrics["docmark_cache_hit_ratio"] = health.Cache.Stats.HitRatio
	}

	return c.JSON(metrics)
}
