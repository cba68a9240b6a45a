// Package worker runs the pool of goroutines that drain the work queue and
// dispatch each envelope to the orchestrator, applying the queue's
// retry/backoff/dead-letter contract around every handler call.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"docmark/config"
	"docmark/internal/core/ports"
	apperrors "docmark/pkg/errors"
	"docmark/pkg/events"
	"docmark/pkg/logger"
	"docmark/pkg/metrics"
)

// Worker drains the queue on a single goroutine and dispatches each
// dequeued envelope to the orchestrator.
type Worker struct {
	id           string
	queue        ports.WorkQueue
	orchestrator ports.Orchestrator
	cfg          *config.Config
	log          *logger.Logger
	metrics      *metrics.Metrics
	events       events.EventBus

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	isRunning    bool
	runningMutex sync.RWMutex
}

// SetEventBus attaches an optional event bus; dead-letter notifications are
// only published once a bus has been set.
func (w *Worker) SetEventBus(bus events.EventBus) {
	w.events = bus
}

func NewWorker(queue ports.WorkQueue, orchestrator ports.Orchestrator, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:           uuid.New().String(),
		queue:        queue,
		orchestrator: orchestrator,
		cfg:          cfg,
		log:          log,
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (w *Worker) Start() {
	w.runningMutex.Lock()
	defer w.runningMutex.Unlock()

	if w.isRunning {
		return
	}

	w.log.Info().Str("worker_id", w.id).Msg("worker starting")
	w.isRunning = true

	w.wg.Add(1)
	go w.workerRoutine()
}

func (w *Worker) Stop() {
	w.runningMutex.Lock()
	if !w.isRunning {
		w.runningMutex.Unlock()
		return
	}
	w.isRunning = false
	w.runningMutex.Unlock()

	w.log.Info().Str("worker_id", w.id).Msg("worker stopping")
	w.cancel()
	w.wg.Wait()
	w.log.Info().Str("worker_id", w.id).Msg("worker stopped")
}

func (w *Worker) IsRunning() bool {
	w.runningMutex.RLock()
	defer w.runningMutex.RUnlock()
	return w.isRunning
}

func (w *Worker) workerRoutine() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		envelope, err := w.queue.Dequeue(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Str("worker_id", w.id).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if envelope == nil {
			continue // poll timeout, nothing ready
		}

		w.processEnvelope(envelope)
	}
}

// processEnvelope dispatches the envelope's item to the matching handler
// and applies the retry/backoff/dead-letter contract: a retriable error
// is rescheduled with exponential backoff up to QueueRetryMax attempts,
// after which the orchestrator's FailWorkItem finalizes the owning job.
// Non-retriable errors finalize immediately (the handler has already
// marked the job failed) and are not retried.
func (w *Worker) processEnvelope(envelope *ports.Envelope) {
	ctx := logger.WithCorrelationID(w.ctx)
	start := time.Now()

	err := w.dispatch(ctx, envelope.Item)
	if err == nil {
		return
	}

	appErr := apperrors.AsAppError(err)
	if !appErr.Retriable() {
		w.log.LogError(ctx, appErr, "handler failed with non-retriable error", map[string]interface{}{
			"worker_id": w.id,
			"kind":      string(envelope.Item.Kind),
			"attempt":   envelope.Attempt,
		})
		return
	}

	if envelope.Attempt >= w.cfg.Orchestration.QueueRetryMax {
		w.log.LogError(ctx, appErr, "retries exhausted, finalizing as failed", map[string]interface{}{
			"worker_id": w.id,
			"kind":      string(envelope.Item.Kind),
			"attempt":   envelope.Attempt,
		})
		if failErr := w.orchestrator.FailWorkItem(ctx, envelope.Item, appErr); failErr != nil {
			w.log.LogError(ctx, failErr, "FailWorkItem failed", nil)
		}
		if dlErr := w.queue.DeadLetter(ctx, envelope, appErr.Error()); dlErr != nil {
			w.log.LogError(ctx, dlErr, "dead-letter enqueue failed", nil)
		}
		if w.events != nil {
			evt := events.NewQueueDeadLetterEvent("worker", envelope.Item.MainID, string(envelope.Item.Kind), appErr.Error())
			if pubErr := w.events.Publish(ctx, evt); pubErr != nil {
				w.log.LogError(ctx, pubErr, "dead-letter event publish failed", nil)
			}
		}
		return
	}

	delay := backoffDelay(w.cfg.Orchestration.QueueRetryBaseDelay, w.cfg.Orchestration.QueueRetryMultiplier, envelope.Attempt)
	if retryErr := w.queue.Retry(ctx, envelope, delay); retryErr != nil {
		w.log.LogError(ctx, retryErr, "failed to schedule retry", nil)
		return
	}
	w.log.Info().
		Str("worker_id", w.id).
		Str("kind", string(envelope.Item.Kind)).
		Int("attempt", envelope.Attempt).
		Dur("delay", delay).
		Dur("elapsed", time.Since(start)).
		Msg("work item rescheduled for retry")
}

// backoffDelay computes base * multiplier^attempt, matching the exponential
// backoff contract (base 60s, multiplier 2, cap 3 retries).
func backoffDelay(base time.Duration, multiplier float64, attempt int) time.Duration {
	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
	}
	return time.Duration(delay)
}

func (w *Worker) dispatch(ctx context.Context, item ports.WorkItem) error {
	switch item.Kind {
	case ports.KindConvertWhole:
		return w.orchestrator.HandleConvertWhole(ctx, item)
	case ports.KindSplitPdf:
		return w.orchestrator.HandleSplitPdf(ctx, item)
	case ports.KindConvertPage, ports.KindRetryPage:
		return w.orchestrator.HandleConvertPage(ctx, item)
	case ports.KindMergePages:
		return w.orchestrator.HandleMergePages(ctx, item)
	default:
		return apperrors.NewValidationError("unknown work item kind: " + string(item.Kind))
	}
}
