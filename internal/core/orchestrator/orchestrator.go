// Package orchestrator implements the core job state machine: the four
// work-item handlers (ConvertWhole, SplitPdf, ConvertPage, MergePages), the
// read operations the HTTP adapter serves, and the retry/delete operations.
// It depends only on the ports package, so it can run against either the
// Redis-backed adapters or the in-memory fakes unchanged.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"docmark/internal/core/domain"
	"docmark/internal/core/ports"
	apperrors "docmark/pkg/errors"
	"docmark/pkg/logger"
	"docmark/pkg/metrics"
)

// collaboratorRetryAttempts/Delay bound the in-call retry wrapped around a
// single Fetch/Split/Convert invocation within one work-item attempt. This
// is deliberately small and fast next to the queue's own cross-redelivery
// backoff (worker.backoffDelay): it only smooths over a transient blip (a
// dropped connection, a momentarily busy converter) before the error ever
// reaches the queue's retry/dead-letter contract.
const collaboratorRetryAttempts = 3

var collaboratorRetryDelay = 200 * time.Millisecond

func withCollaboratorRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(collaboratorRetryAttempts),
		retry.Delay(collaboratorRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// Config holds the orchestrator's tunables, sourced from config.Orchestration.
type Config struct {
	// MinSplitPages is the page count at/above which a PDF is split into
	// per-page jobs instead of converted in one pass (spec.md §4.3.2 step 5).
	MinSplitPages int
	// ResultTTL bounds how long a completed main/merge result stays fetchable.
	ResultTTL time.Duration
	// PageResultTTL bounds how long a single page's result stays cached. It
	// is shorter than ResultTTL since a page result is an implementation
	// detail of a split job: once the merge consumes it, nothing reads the
	// per-page cache entry again.
	PageResultTTL time.Duration
	// MergeDelimiter separates page markdown in the merged document.
	MergeDelimiter string
}

func DefaultConfig() Config {
	return Config{
		MinSplitPages:  2,
		ResultTTL:      24 * time.Hour,
		PageResultTTL:  30 * time.Minute,
		MergeDelimiter: "\n\n---\n\n",
	}
}

// Orchestrator is the sole implementation of ports.Orchestrator.
type Orchestrator struct {
	store      ports.StateStore
	queue      ports.WorkQueue
	fetcher    ports.Fetcher
	splitter   ports.Splitter
	converter  ports.Converter
	normalizer ports.Normalizer
	cfg        Config
	log        *logger.Logger
	metrics    *metrics.Metrics
}

func New(store ports.StateStore, queue ports.WorkQueue, fetcher ports.Fetcher, splitter ports.Splitter, converter ports.Converter, normalizer ports.Normalizer, cfg Config, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:      store,
		queue:      queue,
		fetcher:    fetcher,
		splitter:   splitter,
		converter:  converter,
		normalizer: normalizer,
		cfg:        cfg,
		log:        log,
		metrics:    m,
	}
}

// Submit persists a new main job and enqueues its first work item.
// Spec.md §4.3.1: the call must return within a bounded time, so no
// converter work happens on this path.
func (o *Orchestrator) Submit(ctx context.Context, owner, sourceSpec, name string) (string, error) {
	mainID := uuid.NewString()
	job := &domain.Job{
		ID:         mainID,
		OwnerID:    owner,
		Type:       domain.JobTypeMain,
		Status:     domain.StatusQueued,
		Name:       name,
		SourceSpec: sourceSpec,
		CreatedAt:  time.Now(),
	}
	if err := o.store.PutJob(ctx, job); err != nil {
		return "", apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist main job")
	}
	if err := o.queue.Enqueue(ctx, ports.WorkItem{Kind: ports.KindConvertWhole, MainID: mainID, SourceSpec: sourceSpec}); err != nil {
		return "", apperrors.Wrap(err, apperrors.QueueUnavailableError, "QUEUE_UNAVAILABLE", "enqueue convert_whole")
	}
	return mainID, nil
}

// HandleConvertWhole is the ConvertWhole work-item handler (§4.3.2).
func (o *Orchestrator) HandleConvertWhole(ctx context.Context, item ports.WorkItem) error {
	job, err := o.store.GetJob(ctx, item.MainID)
	if err != nil {
		return nil // job record gone: cancelled, treat as a no-op (§4.3.10)
	}
	if job.Status != domain.StatusQueued && job.Status != domain.StatusProcessing {
		return nil // idempotent skip: already handled by a prior attempt
	}

	o.log.LogJobStart(ctx, job.ID, string(job.Type))
	start := time.Now()

	if job.Status == domain.StatusQueued {
		job.Status = domain.StatusProcessing
		now := time.Now()
		job.StartedAt = &now
		if err := o.store.PutJob(ctx, job); err != nil {
			return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "mark main processing")
		}
	}

	var localPath string
	err = withCollaboratorRetry(ctx, func() error {
		var fetchErr error
		localPath, fetchErr = o.fetcher.Fetch(ctx, job.SourceSpec)
		return fetchErr
	})
	if err != nil {
		appErr := apperrors.Wrap(err, apperrors.FetchFailedError, "FETCH_FAILED", "fetch source")
		return o.reportHandlerError(ctx, job, appErr)
	}
	job.LocalPath = localPath

	mime, sizeBytes, err := sniffDocument(localPath)
	if err != nil {
		appErr := apperrors.Wrap(err, apperrors.InternalError, "INTERNAL_ERROR", "inspect fetched document")
		return o.reportHandlerError(ctx, job, appErr)
	}
	job.DocumentInfo = &domain.DocumentInfo{
		MimeType:         mime,
		SizeBytes:        sizeBytes,
		OriginalFilename: filepath.Base(job.SourceSpec),
	}

	if mime == "application/pdf" {
		var pageCount int
		err := withCollaboratorRetry(ctx, func() error {
			var countErr error
			pageCount, countErr = o.splitter.PageCount(ctx, localPath)
			return countErr
		})
		if err != nil {
			appErr := apperrors.Wrap(err, apperrors.SplitFailedError, "SPLIT_FAILED", "count pdf pages")
			return o.failMain(ctx, job, appErr)
		}
		if pageCount >= o.cfg.MinSplitPages {
			if err := o.store.PutJob(ctx, job); err != nil {
				return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist document info")
			}
			return o.startSplit(ctx, job)
		}
	}

	// Direct conversion path (§4.3.7): no split, convert and finalize inline.
	if err := o.store.PutJob(ctx, job); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist document info")
	}
	err = o.convertDirect(ctx, job, item.Options)
	o.metrics.RecordJobProcessing(string(job.Type), statusLabel(err), time.Since(start), 0)
	o.log.LogJobComplete(ctx, job.ID, time.Since(start), statusLabel(err))
	return err
}

func (o *Orchestrator) convertDirect(ctx context.Context, job *domain.Job, options map[string]string) error {
	var markdown string
	var meta domain.ResultMetadata
	err := withCollaboratorRetry(ctx, func() error {
		var convertErr error
		markdown, meta, convertErr = o.converter.Convert(ctx, job.LocalPath, options)
		return convertErr
	})
	if err != nil {
		appErr := apperrors.Wrap(err, apperrors.ConvertFailedError, "CONVERT_FAILED", "convert document")
		return o.failMain(ctx, job, appErr)
	}
	result := &domain.Result{JobID: job.ID, Markdown: markdown, Metadata: meta, CreatedAt: time.Now()}
	if err := o.store.PutResult(ctx, job.ID, result, o.cfg.ResultTTL); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist result")
	}
	job.Status = domain.StatusCompleted
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
	if err := o.store.PutJob(ctx, job); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "mark main completed")
	}
	return nil
}

// startSplit persists the split job and enqueues SplitPdf (§4.3.3 step 1-2).
func (o *Orchestrator) startSplit(ctx context.Context, main *domain.Job) error {
	splitID := uuid.NewString()
	split := &domain.Job{
		ID:        splitID,
		OwnerID:   main.OwnerID,
		Type:      domain.JobTypeSplit,
		Status:    domain.StatusProcessing,
		ParentID:  main.ID,
		CreatedAt: time.Now(),
	}
	if err := o.store.PutJob(ctx, split); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist split job")
	}
	if err := o.store.AddChild(ctx, main.ID, domain.JobTypeSplit, splitID); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "link split job")
	}
	if err := o.queue.Enqueue(ctx, ports.WorkItem{Kind: ports.KindSplitPdf, MainID: main.ID, LocalPath: main.LocalPath}); err != nil {
		return apperrors.Wrap(err, apperrors.QueueUnavailableError, "QUEUE_UNAVAILABLE", "enqueue split_pdf")
	}
	return nil
}

// HandleSplitPdf is the SplitPdf work-item handler (§4.3.3 steps 3-6).
func (o *Orchestrator) HandleSplitPdf(ctx context.Context, item ports.WorkItem) error {
	main, err := o.store.GetJob(ctx, item.MainID)
	if err != nil {
		return nil
	}
	if main.ChildIDs.SplitID == "" {
		return nil
	}
	split, err := o.store.GetJob(ctx, main.ChildIDs.SplitID)
	if err != nil || split.Status.IsTerminal() {
		return nil // already completed or gone
	}

	var pagePaths []string
	var pageCount int
	err = withCollaboratorRetry(ctx, func() error {
		var splitErr error
		pagePaths, pageCount, splitErr = o.splitter.Split(ctx, item.LocalPath)
		return splitErr
	})
	if err != nil {
		appErr := apperrors.Wrap(err, apperrors.SplitFailedError, "SPLIT_FAILED", "split pdf")
		split.Status = domain.StatusFailed
		split.Error = &domain.JobError{Kind: string(appErr.Type), Message: appErr.Message}
		_ = o.store.PutJob(ctx, split)
		o.metrics.RecordJobError(string(domain.JobTypeSplit), string(appErr.Type))
		return o.failMain(ctx, main, appErr)
	}

	total := pageCount
	main.TotalPages = &total
	main.PagesCompleted = 0
	main.PagesFailed = 0
	if err := o.store.PutJob(ctx, main); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist total pages")
	}

	pages := make([]*domain.Job, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := &domain.Job{
			ID:           uuid.NewString(),
			OwnerID:      main.OwnerID,
			Type:         domain.JobTypePage,
			Status:       domain.StatusQueued,
			ParentID:     main.ID,
			PageNumber:   i,
			PageFilePath: pagePaths[i-1],
			CreatedAt:    time.Now(),
		}
		if err := o.store.PutJob(ctx, page); err != nil {
			return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist page job")
		}
		if err := o.store.AddChild(ctx, main.ID, domain.JobTypePage, page.ID); err != nil {
			return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "link page job")
		}
		pages = append(pages, page)
	}
	// All child records are persisted above before any ConvertPage item is
	// enqueued, so /pages never observes an ID with no backing record.
	for _, page := range pages {
		item := ports.WorkItem{Kind: ports.KindConvertPage, MainID: main.ID, PageJobID: page.ID, PagePath: page.PageFilePath, PageNumber: page.PageNumber}
		if err := o.queue.Enqueue(ctx, item); err != nil {
			return apperrors.Wrap(err, apperrors.QueueUnavailableError, "QUEUE_UNAVAILABLE", "enqueue convert_page")
		}
	}

	split.Status = domain.StatusCompleted
	now := time.Now()
	split.CompletedAt = &now
	return o.store.PutJob(ctx, split)
}

// HandleConvertPage is the ConvertPage work-item handler (§4.3.4).
func (o *Orchestrator) HandleConvertPage(ctx context.Context, item ports.WorkItem) error {
	page, err := o.store.GetJob(ctx, item.PageJobID)
	if err != nil {
		return nil // cancelled
	}
	if page.Status != domain.StatusQueued && page.Status != domain.StatusProcessing {
		return nil // superseded by a retry, or already handled
	}

	// A retriable store error (e.g. PutResult below failing with
	// store_unavailable) can leave the page persisted as Processing when
	// this handler returns. The queue redelivers the item, and the above
	// check admits that Processing state the same way HandleConvertWhole
	// re-enters Processing, so the page is re-converted rather than lost
	// (no lost page, idempotent replay).
	start := time.Now()
	if page.Status == domain.StatusQueued {
		page.Status = domain.StatusProcessing
		page.StartedAt = &start
		if err := o.store.PutJob(ctx, page); err != nil {
			return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "mark page processing")
		}
	}

	var markdown string
	var meta domain.ResultMetadata
	convertErr := withCollaboratorRetry(ctx, func() error {
		var err error
		markdown, meta, err = o.converter.Convert(ctx, item.PagePath, item.Options)
		return err
	})
	success := convertErr == nil
	var appErr *apperrors.AppError
	if success {
		result := &domain.Result{JobID: page.ID, Markdown: markdown, Metadata: meta, CreatedAt: time.Now()}
		if err := o.store.PutResult(ctx, page.ID, result, o.cfg.PageResultTTL); err != nil {
			return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist page result")
		}
		page.Status = domain.StatusCompleted
		page.CharCount = len(markdown)
	} else {
		appErr = apperrors.Wrap(convertErr, apperrors.ConvertFailedError, "CONVERT_FAILED", "convert page")
		page.Status = domain.StatusFailed
		page.Error = &domain.JobError{Kind: string(appErr.Type), Message: appErr.Message}
	}
	completedAt := time.Now()
	page.CompletedAt = &completedAt
	if err := o.store.PutJob(ctx, page); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist page outcome")
	}

	// Cleanup happens regardless of outcome: a failed page's temp file is
	// no more useful than a succeeded one once its result (or error) is
	// recorded.
	_ = os.Remove(item.PagePath)

	o.metrics.RecordJobProcessing(string(domain.JobTypePage), statusLabel(convertErr), time.Since(start), int64(len(markdown)))
	o.log.LogJobComplete(ctx, page.ID, time.Since(start), statusLabel(convertErr))
	if !success {
		o.metrics.RecordJobError(string(domain.JobTypePage), string(appErr.Type))
	}

	if err := o.finalizePageOutcome(ctx, item.MainID, success); err != nil {
		return err
	}
	if !success {
		return appErr
	}
	return nil
}

// finalizePageOutcome is §4.3.4 step 5: the atomic fan-in counter bump and,
// once every page has terminated, the merge-latch CAS.
func (o *Orchestrator) finalizePageOutcome(ctx context.Context, mainID string, success bool) error {
	field := "failed"
	if success {
		field = "completed"
	}
	if _, err := o.store.IncPageCounter(ctx, mainID, field, 1); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "increment page counter")
	}

	main, err := o.store.GetJob(ctx, mainID)
	if err != nil {
		return nil // main deleted mid-flight; nothing left to finalize
	}
	if main.TotalPages == nil || main.PagesCompleted+main.PagesFailed < *main.TotalPages {
		return nil // fan-in incomplete
	}
	return o.tryStartMerge(ctx, main)
}

// tryStartMerge runs the merge-latch CAS and, on a win, persists the merge
// job and enqueues MergePages. Losers are a normal, silent outcome.
func (o *Orchestrator) tryStartMerge(ctx context.Context, main *domain.Job) error {
	mergeID := uuid.NewString()
	won, err := o.store.TryLatchMerge(ctx, main.ID, mergeID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "merge latch cas")
	}
	o.metrics.RecordMergeLatch(won)
	if !won {
		return nil
	}
	merge := &domain.Job{
		ID:        mergeID,
		OwnerID:   main.OwnerID,
		Type:      domain.JobTypeMerge,
		Status:    domain.StatusQueued,
		ParentID:  main.ID,
		CreatedAt: time.Now(),
	}
	if err := o.store.PutJob(ctx, merge); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist merge job")
	}
	if err := o.store.AddChild(ctx, main.ID, domain.JobTypeMerge, mergeID); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "link merge job")
	}
	if err := o.queue.Enqueue(ctx, ports.WorkItem{Kind: ports.KindMergePages, MainID: main.ID}); err != nil {
		return apperrors.Wrap(err, apperrors.QueueUnavailableError, "QUEUE_UNAVAILABLE", "enqueue merge_pages")
	}
	return nil
}

// HandleMergePages is the MergePages work-item handler (§4.3.5).
func (o *Orchestrator) HandleMergePages(ctx context.Context, item ports.WorkItem) error {
	main, err := o.store.GetJob(ctx, item.MainID)
	if err != nil {
		return nil // deleted mid-flight
	}
	if main.ChildIDs.MergeID == "" {
		return nil
	}
	merge, err := o.store.GetJob(ctx, main.ChildIDs.MergeID)
	if err != nil || merge.Status.IsTerminal() {
		return nil
	}
	start := time.Now()

	pages, err := o.store.ListPages(ctx, main.ID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "list pages for merge")
	}

	parts := make([]string, 0, len(pages))
	perPageErrors := map[int]string{}
	for _, page := range pages {
		if page.Status == domain.StatusCompleted {
			result, err := o.store.GetResult(ctx, page.ID)
			if err == nil {
				parts = append(parts, result.Markdown)
				continue
			}
		}
		msg := "page result unavailable"
		if page.Error != nil {
			msg = page.Error.Message
		}
		perPageErrors[page.PageNumber] = msg
		parts = append(parts, fmt.Sprintf("*[Page %d failed to convert: %s]*", page.PageNumber, msg))
	}

	combined := strings.Join(parts, o.cfg.MergeDelimiter)
	normalized, err := o.normalizer.Normalize(ctx, combined)
	if err != nil {
		appErr := apperrors.Wrap(err, apperrors.InternalError, "INTERNAL_ERROR", "normalize merged markdown")
		merge.Status = domain.StatusFailed
		merge.Error = &domain.JobError{Kind: string(appErr.Type), Message: appErr.Message}
		_ = o.store.PutJob(ctx, merge)
		o.metrics.RecordJobError(string(domain.JobTypeMerge), string(appErr.Type))
		return o.failMain(ctx, main, appErr)
	}

	totalPages := len(pages)
	if main.TotalPages != nil {
		totalPages = *main.TotalPages
	}
	meta := domain.ResultMetadata{
		Pages:     totalPages,
		Words:     countWordsFast(normalized),
		SizeBytes: len(normalized),
	}
	if len(perPageErrors) > 0 {
		meta.PerPageErrors = perPageErrors
	}
	result := &domain.Result{JobID: main.ID, Markdown: normalized, Metadata: meta, CreatedAt: time.Now()}
	if err := o.store.PutResult(ctx, main.ID, result, o.cfg.ResultTTL); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist merged result")
	}

	now := time.Now()
	merge.Status = domain.StatusCompleted
	merge.CompletedAt = &now
	if err := o.store.PutJob(ctx, merge); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "mark merge completed")
	}

	main.Status = domain.StatusCompleted
	main.Progress = 100
	main.CompletedAt = &now
	if err := o.store.PutJob(ctx, main); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "mark main completed")
	}
	o.metrics.RecordJobProcessing(string(main.Type), "completed", time.Since(start), int64(len(normalized)))
	o.log.LogJobComplete(ctx, main.ID, time.Since(start), "completed")
	return nil
}

// RetryPage re-queues a single failed page (§4.3.9). It gates strictly on
// the page's own status; see SPEC_FULL.md's open-question note on why a
// completed main is not, by itself, a rejection reason.
func (o *Orchestrator) RetryPage(ctx context.Context, owner, mainID string, pageNumber int) (string, error) {
	main, err := o.store.GetJob(ctx, mainID)
	if err != nil || main.OwnerID != owner {
		return "", apperrors.NewNotFoundError("job")
	}

	pageID, err := o.store.GetCurrentPage(ctx, mainID, pageNumber)
	if err != nil {
		return "", apperrors.NewNotFoundError("page")
	}
	page, err := o.store.GetJob(ctx, pageID)
	if err != nil {
		return "", apperrors.NewNotFoundError("page")
	}
	if page.Status != domain.StatusFailed {
		o.metrics.RecordPageRetry("rejected")
		return "", apperrors.NewConflictError("page is not in a failed state")
	}

	page.Status = domain.StatusSuperseded
	if err := o.store.PutJob(ctx, page); err != nil {
		return "", apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "supersede page")
	}

	newPage := &domain.Job{
		ID:           uuid.NewString(),
		OwnerID:      main.OwnerID,
		Type:         domain.JobTypePage,
		Status:       domain.StatusQueued,
		ParentID:     mainID,
		PageNumber:   pageNumber,
		PageFilePath: page.PageFilePath,
		CreatedAt:    time.Now(),
	}
	if err := o.store.PutJob(ctx, newPage); err != nil {
		return "", apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist retried page")
	}
	if err := o.store.AddChild(ctx, mainID, domain.JobTypePage, newPage.ID); err != nil {
		return "", apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "link retried page")
	}
	if _, err := o.store.IncPageCounter(ctx, mainID, "failed", -1); err != nil {
		return "", apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "decrement failed counter")
	}

	if main.Status == domain.StatusCompleted {
		// The prior merge is stale: clear the latch so the next fan-in
		// completion can win a fresh one, and un-finalize the main.
		if err := o.store.ResetMergeLatch(ctx, mainID); err != nil {
			return "", apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "reset merge latch")
		}
		main.Status = domain.StatusProcessing
		main.CompletedAt = nil
		if err := o.store.PutJob(ctx, main); err != nil {
			return "", apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "reopen main job")
		}
	}

	if err := o.queue.Enqueue(ctx, ports.WorkItem{Kind: ports.KindConvertPage, MainID: mainID, PageJobID: newPage.ID, PagePath: newPage.PageFilePath, PageNumber: pageNumber}); err != nil {
		return "", apperrors.Wrap(err, apperrors.QueueUnavailableError, "QUEUE_UNAVAILABLE", "enqueue retried page")
	}
	o.metrics.RecordPageRetry("accepted")
	return newPage.ID, nil
}

// Delete removes a main job and its whole subtree (§4.3.10).
func (o *Orchestrator) Delete(ctx context.Context, owner, mainID string) error {
	main, err := o.store.GetJob(ctx, mainID)
	if err != nil || main.OwnerID != owner {
		return apperrors.NewNotFoundError("job")
	}
	if main.Type != domain.JobTypeMain {
		return apperrors.NewConflictError("only main jobs can be deleted")
	}
	if err := o.store.DeleteSubtree(ctx, mainID); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "delete subtree")
	}
	return nil
}

// FailWorkItem is invoked by the worker pool once the queue has exhausted
// retries on a retriable error, finally marking the owning job failed.
func (o *Orchestrator) FailWorkItem(ctx context.Context, item ports.WorkItem, cause error) error {
	appErr := apperrors.AsAppError(cause)
	switch item.Kind {
	case ports.KindConvertWhole:
		main, err := o.store.GetJob(ctx, item.MainID)
		if err != nil || main.Status.IsTerminal() {
			return nil
		}
		return o.failMain(ctx, main, appErr)
	case ports.KindSplitPdf:
		main, err := o.store.GetJob(ctx, item.MainID)
		if err != nil || main.Status.IsTerminal() {
			return nil
		}
		if main.ChildIDs.SplitID != "" {
			if split, err := o.store.GetJob(ctx, main.ChildIDs.SplitID); err == nil && !split.Status.IsTerminal() {
				split.Status = domain.StatusFailed
				split.Error = &domain.JobError{Kind: string(appErr.Type), Message: appErr.Message}
				_ = o.store.PutJob(ctx, split)
			}
		}
		return o.failMain(ctx, main, appErr)
	case ports.KindConvertPage, ports.KindRetryPage:
		page, err := o.store.GetJob(ctx, item.PageJobID)
		if err != nil || page.Status.IsTerminal() {
			return nil
		}
		page.Status = domain.StatusFailed
		page.Error = &domain.JobError{Kind: string(appErr.Type), Message: appErr.Message}
		now := time.Now()
		page.CompletedAt = &now
		if err := o.store.PutJob(ctx, page); err != nil {
			return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist exhausted page")
		}
		return o.finalizePageOutcome(ctx, item.MainID, false)
	case ports.KindMergePages:
		main, err := o.store.GetJob(ctx, item.MainID)
		if err != nil || main.Status.IsTerminal() {
			return nil
		}
		if main.ChildIDs.MergeID != "" {
			if merge, err := o.store.GetJob(ctx, main.ChildIDs.MergeID); err == nil && !merge.Status.IsTerminal() {
				merge.Status = domain.StatusFailed
				merge.Error = &domain.JobError{Kind: string(appErr.Type), Message: appErr.Message}
				_ = o.store.PutJob(ctx, merge)
			}
		}
		return o.failMain(ctx, main, appErr)
	}
	return nil
}

// reportHandlerError applies §4.2's split between a retriable error (the
// queue retries the whole work item; the job is left exactly as it was so
// the handler re-enters idempotently) and a permanent one (the job is
// failed immediately, per §4.3.6). Retriable exhaustion is finalized later
// by FailWorkItem, not here.
func (o *Orchestrator) reportHandlerError(ctx context.Context, job *domain.Job, appErr *apperrors.AppError) error {
	if !appErr.Retriable() {
		return o.failMain(ctx, job, appErr)
	}
	return appErr
}

// failMain marks a main job terminally failed, used both by direct handler
// errors (§4.3.6) and by FailWorkItem's exhaustion path.
func (o *Orchestrator) failMain(ctx context.Context, job *domain.Job, appErr *apperrors.AppError) error {
	job.Status = domain.StatusFailed
	job.Error = &domain.JobError{Kind: string(appErr.Type), Message: appErr.Message}
	now := time.Now()
	job.CompletedAt = &now
	if err := o.store.PutJob(ctx, job); err != nil {
		return apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "persist failed main")
	}
	o.metrics.RecordJobError(string(job.Type), string(appErr.Type))
	o.metrics.RecordJobProcessing(string(job.Type), "failed", 0, 0)
	return appErr
}

// GetJob loads a job scoped to owner and fills in computed progress.
func (o *Orchestrator) GetJob(ctx context.Context, owner, id string) (*domain.Job, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, apperrors.NewNotFoundError("job")
	}
	if job.OwnerID != owner {
		return nil, apperrors.NewNotFoundError("job")
	}
	job.Progress = computeProgress(job, o.cfg)
	return job, nil
}

// ListPages returns mainID's current pages in order, after an ownership
// check on the main job.
func (o *Orchestrator) ListPages(ctx context.Context, owner, mainID string) ([]*domain.Job, error) {
	if _, err := o.GetJob(ctx, owner, mainID); err != nil {
		return nil, err
	}
	pages, err := o.store.ListPages(ctx, mainID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "list pages")
	}
	return pages, nil
}

// GetResult returns id's result once completed, per the three-way status
// table in spec.md §6.1 (not ready / failed / expired).
func (o *Orchestrator) GetResult(ctx context.Context, owner, id string) (*domain.Result, error) {
	job, err := o.GetJob(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.StatusCompleted:
		result, err := o.store.GetResult(ctx, id)
		if err != nil {
			return nil, apperrors.NewNotFoundError("result")
		}
		return result, nil
	case domain.StatusFailed:
		if job.Error != nil {
			return nil, apperrors.New(apperrors.ErrorType(job.Error.Kind), "JOB_FAILED", job.Error.Message)
		}
		return nil, apperrors.NewInternalError("job failed")
	default:
		notReady := apperrors.NewValidationError("job has not completed yet")
		notReady.HTTPStatus = http.StatusBadRequest
		return nil, notReady
	}
}

// ListJobs returns owner's jobs matching filter, with computed progress.
func (o *Orchestrator) ListJobs(ctx context.Context, owner string, filter domain.JobFilter, page, size int) ([]*domain.Job, int, error) {
	jobs, total, err := o.store.ListJobsByOwner(ctx, owner, filter, page, size)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.StoreUnavailableError, "STORE_UNAVAILABLE", "list jobs")
	}
	for _, job := range jobs {
		job.Progress = computeProgress(job, o.cfg)
	}
	return jobs, total, nil
}

// computeProgress derives the 0-100 percentage from persisted status and
// counters (§4.3.8); it is never itself persisted as the source of truth.
func computeProgress(job *domain.Job, cfg Config) int {
	switch job.Status {
	case domain.StatusCompleted:
		return 100
	case domain.StatusFailed, domain.StatusCancelled:
		return job.Progress
	}
	if job.Type != domain.JobTypeMain {
		return job.Progress
	}
	if job.TotalPages == nil {
		if job.Status == domain.StatusQueued {
			return 0
		}
		return 50 // opaque mid-flight state for the direct-conversion path
	}
	total := *job.TotalPages
	if total <= 0 {
		return job.Progress
	}
	fraction := float64(job.PagesCompleted+job.PagesFailed) / float64(total)
	progress := 10 + int(70*fraction)
	if progress > 99 {
		progress = 99 // 100 is reserved for the merge-completed transition
	}
	return progress
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}

// sniffDocument reports a fetched file's MIME type and size without
// depending on the Converter port, so the split decision doesn't require a
// full conversion attempt.
func sniffDocument(path string) (mime string, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat fetched document: %w", err)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("detect mime type: %w", err)
	}
	return mtype.String(), info.Size(), nil
}

func countWordsFast(s string) int {
	return len(strings.Fields(s))
}
