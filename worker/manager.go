package worker

import (
	"context"
	"sync"
	"time"

	"docmark/config"
	"docmark/internal/core/ports"
	"docmark/pkg/events"
	"docmark/pkg/logger"
	"docmark/pkg/metrics"
)

// Manager manages a dynamic pool of Workers, scaling the pool up and down
// against the queue's pending depth.
type Manager struct {
	queue        ports.WorkQueue
	orchestrator ports.Orchestrator
	cfg          *config.Config
	log          *logger.Logger
	metrics      *metrics.Metrics

	workers       map[string]*Worker
	workersMutex  sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	scalingTicker *time.Ticker

	minWorkers         int
	maxWorkers         int
	scaleUpThreshold   int64
	scaleDownThreshold int64
	checkInterval      time.Duration
	lastScaleTime      time.Time
	scaleDelay         time.Duration

	eventBus events.EventBus
}

// SetEventBus attaches an optional event bus; every worker the pool spawns
// after this call publishes dead-letter notifications through it.
func (wm *Manager) SetEventBus(bus events.EventBus) {
	wm.eventBus = bus
}

// NewManager creates a new worker pool manager with dynamic scaling.
func NewManager(queue ports.WorkQueue, orchestrator ports.Orchestrator, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	minWorkers := cfg.Worker.MinWorkers
	if minWorkers < 1 {
		minWorkers = 1
	}

	maxWorkers := cfg.Worker.MaxConcurrency
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers * 2
	}

	scaleUpThreshold := cfg.Worker.ScaleUpThreshold
	if scaleUpThreshold <= 0 {
		scaleUpThreshold = int64(maxWorkers * 2)
	}

	scaleDownThreshold := cfg.Worker.ScaleDownThreshold
	if scaleDownThreshold <= 0 {
		scaleDownThreshold = int64(minWorkers)
	}

	checkInterval := cfg.Worker.CheckInterval
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}

	scaleDelay := cfg.Worker.ScaleDelay
	if scaleDelay <= 0 {
		scaleDelay = 30 * time.Second
	}

	return &Manager{
		queue:              queue,
		orchestrator:       orchestrator,
		cfg:                cfg,
		log:                log,
		metrics:            m,
		workers:            make(map[string]*Worker),
		ctx:                ctx,
		cancel:             cancel,
		minWorkers:         minWorkers,
		maxWorkers:         maxWorkers,
		scaleUpThreshold:   scaleUpThreshold,
		scaleDownThreshold: scaleDownThreshold,
		checkInterval:      checkInterval,
		scaleDelay:         scaleDelay,
	}
}

// Start initializes the pool and starts the minimum number of workers.
func (wm *Manager) Start() {
	wm.log.Info().Int("min_workers", wm.minWorkers).Int("max_workers", wm.maxWorkers).Msg("worker manager starting")

	for i := 0; i < wm.minWorkers; i++ {
		wm.addWorker()
	}

	wm.scalingTicker = time.NewTicker(wm.checkInterval)
	wm.wg.Add(1)
	go wm.scalingMonitor()

	wm.log.Info().Int("workers", len(wm.workers)).Msg("worker manager started")
}

// Stop gracefully shuts down all workers.
func (wm *Manager) Stop() {
	wm.log.Info().Msg("worker manager stopping")

	if wm.scalingTicker != nil {
		wm.scalingTicker.Stop()
	}

	wm.cancel()
	wm.wg.Wait()

	wm.workersMutex.Lock()
	var workerWg sync.WaitGroup
	for id, w := range wm.workers {
		workerWg.Add(1)
		go func(id string, w *Worker) {
			defer workerWg.Done()
			w.Stop()
		}(id, w)
	}
	wm.workersMutex.Unlock()

	workerWg.Wait()

	wm.workersMutex.Lock()
	wm.workers = make(map[string]*Worker)
	wm.workersMutex.Unlock()

	wm.log.Info().Msg("worker manager stopped")
}

func (wm *Manager) addWorker() {
	wm.workersMutex.Lock()
	defer wm.workersMutex.Unlock()

	if len(wm.workers) >= wm.maxWorkers {
		return
	}

	w := NewWorker(wm.queue, wm.orchestrator, wm.cfg, wm.log, wm.metrics)
	if wm.eventBus != nil {
		w.SetEventBus(wm.eventBus)
	}
	wm.workers[w.id] = w
	w.Start()
	wm.metrics.SetActiveWorkers(float64(len(wm.workers)))

	wm.log.Info().Str("worker_id", w.id).Int("total", len(wm.workers)).Msg("worker added")
}

func (wm *Manager) removeWorker() {
	wm.workersMutex.Lock()
	defer wm.workersMutex.Unlock()

	if len(wm.workers) <= wm.minWorkers {
		return
	}

	for id, w := range wm.workers {
		delete(wm.workers, id)
		wm.metrics.SetActiveWorkers(float64(len(wm.workers)))
		go func(id string, w *Worker) {
			w.Stop()
		}(id, w)
		return
	}
}

func (wm *Manager) scalingMonitor() {
	defer wm.wg.Done()

	for {
		select {
		case <-wm.ctx.Done():
			return
		case <-wm.scalingTicker.C:
			wm.checkAndScale()
		}
	}
}

func (wm *Manager) checkAndScale() {
	stats, err := wm.queue.Stats(wm.ctx)
	if err != nil {
		wm.log.Error().Err(err).Msg("failed to get queue stats")
		return
	}

	queueLength := stats.Pending
	currentWorkers := wm.getWorkerCount()
	wm.metrics.SetQueueSize("pending", float64(stats.Pending))
	wm.metrics.SetQueueSize("delayed", float64(stats.Delayed))
	wm.metrics.SetQueueSize("dead_letter", float64(stats.DeadLetters))

	if time.Since(wm.lastScaleTime) < wm.scaleDelay {
		return
	}

	if queueLength > wm.scaleUpThreshold && currentWorkers < wm.maxWorkers {
		wm.addWorker()
		wm.lastScaleTime = time.Now()
		wm.log.Info().Int64("queue", queueLength).Int("workers", currentWorkers+1).Msg("scaled up")
		return
	}

	if queueLength < wm.scaleDownThreshold && currentWorkers > wm.minWorkers {
		wm.removeWorker()
		wm.lastScaleTime = time.Now()
		wm.log.Info().Int64("queue", queueLength).Int("workers", currentWorkers-1).Msg("scaled down")
		return
	}
}

func (wm *Manager) getWorkerCount() int {
	wm.workersMutex.RLock()
	defer wm.workersMutex.RUnlock()
	return len(wm.workers)
}

// Stats returns worker pool statistics.
func (wm *Manager) Stats() map[string]interface{} {
	wm.workersMutex.RLock()
	defer wm.workersMutex.RUnlock()

	return map[string]interface{}{
		"active_workers":       len(wm.workers),
		"min_workers":          wm.minWorkers,
		"max_workers":          wm.maxWorkers,
		"scale_up_threshold":   wm.scaleUpThreshold,
		"scale_down_threshold": wm.scaleDownThreshold,
		"check_interval":       wm.checkInterval.String(),
		"scale_delay":          wm.scaleDelay.String(),
	}
}
