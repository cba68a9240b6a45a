package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmark/config"
	"docmark/internal/core/domain"
	"docmark/internal/core/ports"
	fakequeue "docmark/internal/platform/workqueue/fake"
	apperrors "docmark/pkg/errors"
	"docmark/pkg/logger"
	"docmark/pkg/metrics"
)

// fakeOrchestrator implements ports.Orchestrator with scripted per-kind
// errors and call counting, so worker dispatch/retry/dead-letter behavior
// can be exercised without a real state store or queue.
type fakeOrchestrator struct {
	mu          sync.Mutex
	convertErrs []error // consumed in order per HandleConvertWhole call
	callCount   map[ports.WorkItemKind]int
	failed      []ports.WorkItem
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{callCount: make(map[ports.WorkItemKind]int)}
}

func (f *fakeOrchestrator) Submit(ctx context.Context, owner, sourceSpec, name string) (string, error) {
	return "main-1", nil
}

func (f *fakeOrchestrator) HandleConvertWhole(ctx context.Context, item ports.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[ports.KindConvertWhole]++
	if len(f.convertErrs) == 0 {
		return nil
	}
	err := f.convertErrs[0]
	f.convertErrs = f.convertErrs[1:]
	return err
}

func (f *fakeOrchestrator) HandleSplitPdf(ctx context.Context, item ports.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[ports.KindSplitPdf]++
	return nil
}

func (f *fakeOrchestrator) HandleConvertPage(ctx context.Context, item ports.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[ports.KindConvertPage]++
	return nil
}

func (f *fakeOrchestrator) HandleMergePages(ctx context.Context, item ports.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[ports.KindMergePages]++
	return nil
}

func (f *fakeOrchestrator) RetryPage(ctx context.Context, owner, mainID string, pageNumber int) (string, error) {
	return "page-1", nil
}

func (f *fakeOrchestrator) Delete(ctx context.Context, owner, mainID string) error { return nil }

func (f *fakeOrchestrator) FailWorkItem(ctx context.Context, item ports.WorkItem, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, item)
	return nil
}

func (f *fakeOrchestrator) GetJob(ctx context.Context, owner, id string) (*domain.Job, error) {
	return nil, nil
}

func (f *fakeOrchestrator) ListPages(ctx context.Context, owner, mainID string) ([]*domain.Job, error) {
	return nil, nil
}

func (f *fakeOrchestrator) GetResult(ctx context.Context, owner, id string) (*domain.Result, error) {
	return nil, nil
}

func (f *fakeOrchestrator) ListJobs(ctx context.Context, owner string, filter domain.JobFilter, page, size int) ([]*domain.Job, int, error) {
	return nil, 0, nil
}

func testWorkerConfig() *config.Config {
	cfg := config.Load()
	cfg.Worker.MaxConcurrency = 3
	cfg.Worker.MinWorkers = 1
	cfg.Worker.ScaleUpThreshold = 5
	cfg.Worker.ScaleDownThreshold = 1
	cfg.Worker.CheckInterval = 50 * time.Millisecond
	cfg.Worker.ScaleDelay = 100 * time.Millisecond
	cfg.Orchestration.QueueRetryMax = 2
	cfg.Orchestration.QueueRetryBaseDelay = time.Millisecond
	cfg.Orchestration.QueueRetryMultiplier = 2.0
	return cfg
}

func testLoggerAndMetrics(t *testing.T) (*logger.Logger, *metrics.Metrics) {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stdout", TimeFormat: time.RFC3339})
	require.NoError(t, err)
	return log, metrics.New("docmark_worker_test", t.Name())
}

func TestWorkerCreation(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()

	w := NewWorker(q, orch, cfg, log, m)
	require.NotNil(t, w)
	assert.NotEmpty(t, w.id)
	assert.False(t, w.IsRunning())
}

func TestWorkerStartStop(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()

	w := NewWorker(q, orch, cfg, log, m)

	w.Start()
	assert.True(t, w.IsRunning())
	time.Sleep(20 * time.Millisecond)

	w.Stop()
	assert.False(t, w.IsRunning())

	// Double start/stop should not panic.
	w.Start()
	assert.True(t, w.IsRunning())
	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())
}

func TestWorker_DispatchesConvertWholeAndSucceeds(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()

	require.NoError(t, q.Enqueue(context.Background(), ports.WorkItem{Kind: ports.KindConvertWhole, MainID: "main-1"}))

	w := NewWorker(q, orch, cfg, log, m)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return orch.callCount[ports.KindConvertWhole] == 1
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, orch.failed)
	assert.Empty(t, q.DeadLetters)
}

func TestWorker_RetriableErrorRetriesThenExhausts(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()
	orch.convertErrs = []error{
		apperrors.NewFetchFailedError("transient"),
		apperrors.NewFetchFailedError("transient"),
		apperrors.NewFetchFailedError("transient"),
	}

	require.NoError(t, q.Enqueue(context.Background(), ports.WorkItem{Kind: ports.KindConvertWhole, MainID: "main-1"}))

	w := NewWorker(q, orch, cfg, log, m)
	w.Start()
	defer w.Stop()

	// QueueRetryMax=2: first attempt fails+retries, second attempt fails+retries,
	// third attempt fails and hits the exhaustion path (attempt >= max).
	require.Eventually(t, func() bool {
		return len(q.DeadLetters) == 1
	}, 2*time.Second, 5*time.Millisecond)

	orch.mu.Lock()
	defer orch.mu.Unlock()
	assert.Equal(t, 3, orch.callCount[ports.KindConvertWhole])
	assert.Len(t, orch.failed, 1)
}

func TestWorker_NonRetriableErrorDoesNotRetry(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()
	orch.convertErrs = []error{apperrors.NewValidationError("bad input")}

	require.NoError(t, q.Enqueue(context.Background(), ports.WorkItem{Kind: ports.KindConvertWhole, MainID: "main-1"}))

	w := NewWorker(q, orch, cfg, log, m)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return orch.callCount[ports.KindConvertWhole] == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, q.DeadLetters)
	assert.Empty(t, orch.failed)
}

func TestManagerCreation(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()

	manager := NewManager(q, orch, cfg, log, m)
	require.NotNil(t, manager)
	assert.Equal(t, 1, manager.minWorkers)
	assert.Equal(t, 3, manager.maxWorkers)
	assert.Equal(t, int64(5), manager.scaleUpThreshold)
	assert.Equal(t, int64(1), manager.scaleDownThreshold)
}

func TestManagerStartStop(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()

	manager := NewManager(q, orch, cfg, log, m)
	manager.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, manager.getWorkerCount())

	manager.Stop()
	assert.Equal(t, 0, manager.getWorkerCount())
}

func TestManagerStats(t *testing.T) {
	cfg := testWorkerConfig()
	log, m := testLoggerAndMetrics(t)
	q := fakequeue.New()
	orch := newFakeOrchestrator()

	manager := NewManager(q, orch, cfg, log, m)
	manager.Start()
	defer manager.Stop()
	time.Sleep(20 * time.Millisecond)

	stats := manager.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats["active_workers"])
	assert.Equal(t, 1, stats["min_workers"])
	assert.Equal(t, 3, stats["max_workers"])
	assert.Equal(t, int64(5), stats["scale_up_threshold"])
	assert.Equal(t, int64(1), stats["scale_down_threshold"])
}
