// Package ports defines the interfaces the Orchestrator depends on: the
// two architectural ports (StateStore, WorkQueue) and the three opaque
// collaborators (Fetcher, Splitter, Converter) the source spec treats as
// black boxes. The Orchestrator itself is exposed as a port too, so the
// HTTP adapter depends only on an interface.
package ports

import (
	"context"
	"time"

	"docmark/internal/core/domain"
)

// StateStore is the single source of truth for job, page, and result
// records, scoped by owner.
type StateStore interface {
	PutJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// AddChild atomically appends childID to parentID's child list for the
	// given kind. For page children the page_number is read off the
	// already-persisted child record to keep the ordered-current index.
	AddChild(ctx context.Context, parentID string, kind domain.JobType, childID string) error

	// IncPageCounter atomically adjusts job:{mainID}:counter:{field} by
	// delta and returns the new value. field is "completed" or "failed".
	IncPageCounter(ctx context.Context, mainID, field string, delta int) (int, error)

	// ListPages returns the current page record for each page_number of
	// mainID, ordered by page_number.
	ListPages(ctx context.Context, mainID string) ([]*domain.Job, error)

	// SetCurrentPage updates the page_number -> current page job id index,
	// used by ListPages and RetryPage lookups. Overwritten on retry.
	SetCurrentPage(ctx context.Context, mainID string, pageNumber int, pageJobID string) error
	GetCurrentPage(ctx context.Context, mainID string, pageNumber int) (string, error)

	PutResult(ctx context.Context, jobID string, result *domain.Result, ttl time.Duration) error
	GetResult(ctx context.Context, jobID string) (*domain.Result, error)

	// DeleteSubtree removes main, split, all pages (current and
	// superseded), merge, and all results atomically from the consumer's
	// perspective (invariant I6).
	DeleteSubtree(ctx context.Context, mainID string) error

	ListJobsByOwner(ctx context.Context, owner string, filter domain.JobFilter, page, size int) ([]*domain.Job, int, error)

	// TryLatchMerge performs the merge-latch CAS: sets job:{mainID}:merge_latch
	// from unset to mergeID. Returns true iff this call won the latch.
	TryLatchMerge(ctx context.Context, mainID, mergeID string) (bool, error)
	GetMergeLatch(ctx context.Context, mainID string) (string, error)
	// ResetMergeLatch clears the latch so a page retry on an already-merged
	// main can win a fresh one (§4.3.9: "merge re-runs").
	ResetMergeLatch(ctx context.Context, mainID string) error

	Ping(ctx context.Context) error
}

// WorkItemKind tags the five work item variants §4.2 defines.
type WorkItemKind string

const (
	KindConvertWhole WorkItemKind = "convert_whole"
	KindSplitPdf     WorkItemKind = "split_pdf"
	KindConvertPage  WorkItemKind = "convert_page"
	KindMergePages   WorkItemKind = "merge_pages"
	KindRetryPage    WorkItemKind = "retry_page"
)

// WorkItem is the tagged-variant payload dispatched through the queue.
// Only the fields relevant to Kind are populated.
type WorkItem struct {
	Kind WorkItemKind `json:"kind"`
	// MainID is set on every variant.
	MainID string `json:"main_id"`

	// ConvertWhole
	SourceSpec string            `json:"source_spec,omitempty"`
	Options    map[string]string `json:"options,omitempty"`

	// SplitPdf
	LocalPath string `json:"local_path,omitempty"`

	// ConvertPage / RetryPage
	PageJobID         string `json:"page_job_id,omitempty"`
	PagePath          string `json:"page_path,omitempty"`
	PageNumber        int    `json:"page_number,omitempty"`
	OriginalPageJobID string `json:"original_page_job_id,omitempty"`

	// MergePages has no extra fields beyond MainID.
}

// Envelope wraps a WorkItem with queue bookkeeping.
type Envelope struct {
	ID         string    `json:"id"`
	Item       WorkItem  `json:"item"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueStats reports depth for health and metrics endpoints.
type QueueStats struct {
	Pending     int64 `json:"pending"`
	Delayed     int64 `json:"delayed"`
	DeadLetters int64 `json:"dead_letters"`
}

// WorkQueue is the at-least-once, typed FIFO dispatch contract.
type WorkQueue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	// Dequeue blocks up to the implementation's poll timeout waiting for
	// work, returning (nil, nil) on a timeout with nothing ready.
	Dequeue(ctx context.Context) (*Envelope, error)
	// Retry reschedules envelope after delay, incrementing its attempt.
	Retry(ctx context.Context, envelope *Envelope, delay time.Duration) error
	// DeadLetter records an exhausted-retry item as terminal.
	DeadLetter(ctx context.Context, envelope *Envelope, reason string) error
	Stats(ctx context.Context) (QueueStats, error)
	Close() error
}

// Fetcher downloads sourceSpec (file path, URL, or storage reference) to a
// local path. Out of scope per spec.md §1 — specified only by contract.
type Fetcher interface {
	Fetch(ctx context.Context, sourceSpec string) (localPath string, err error)
}

// Splitter decomposes a PDF into per-page files.
type Splitter interface {
	// PageCount is a cheap page-count-only probe, used by the orchestrator
	// to decide whether a document meets the split threshold before
	// committing to an actual split.
	PageCount(ctx context.Context, localPath string) (int, error)
	Split(ctx context.Context, localPath string) (pagePaths []string, pageCount int, err error)
}

// Converter is the black-box markdown converter.
type Converter interface {
	Convert(ctx context.Context, path string, options map[string]string) (markdown string, meta domain.ResultMetadata, err error)
}

// Normalizer validates and normalizes the markdown assembled at merge time.
type Normalizer interface {
	Normalize(ctx context.Context, markdown string) (string, error)
}

// Orchestrator is the primary port the HTTP adapter and the worker pool
// both depend on.
type Orchestrator interface {
	Submit(ctx context.Context, owner, sourceSpec, name string) (string, error)

	HandleConvertWhole(ctx context.Context, item WorkItem) error
	HandleSplitPdf(ctx context.Context, item WorkItem) error
	HandleConvertPage(ctx context.Context, item WorkItem) error
	HandleMergePages(ctx context.Context, item WorkItem) error

	RetryPage(ctx context.Context, owner, mainID string, pageNumber int) (string, error)
	Delete(ctx context.Context, owner, mainID string) error

	// FailWorkItem is called by the worker pool when the queue has
	// exhausted retries for a retriable error; it marks the owning job
	// (and, where required, its main) permanently failed.
	FailWorkItem(ctx context.Context, item WorkItem, cause error) error

	GetJob(ctx context.Context, owner, id string) (*domain.Job, error)
	ListPages(ctx context.Context, owner, mainID string) ([]*domain.Job, error)
	GetResult(ctx context.Context, owner, id string) (*domain.Result, error)
	ListJobs(ctx context.Context, owner string, filter domain.JobFilter, page, size int) ([]*domain.Job, int, error)
}
