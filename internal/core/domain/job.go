// Package domain holds the sum type over the four job kinds the
// orchestrator drives (main, split, page, merge) plus the Result and
// OwnerScope concepts. A single Job struct covers all four kinds with a
// common header and kind-specific fields left zero where they don't apply;
// serialization happens only at the state-store boundary.
package domain

import "time"

type JobType string

const (
	JobTypeMain  JobType = "main"
	JobTypeSplit JobType = "split"
	JobTypePage  JobType = "page"
	JobTypeMerge JobType = "merge"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
	// StatusSuperseded only ever applies to page jobs replaced by a retry.
	StatusSuperseded JobStatus = "superseded"
)

// IsTerminal reports whether a status never transitions again except via
// an explicit retry that replaces the record (invariant I1).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSuperseded:
		return true
	default:
		return false
	}
}

// ChildIDs is the parent's authoritative membership list (Design Notes:
// "store ownership one-way in the state store: the parent's child list is
// the authoritative membership"). PageIDs retains every page job ever
// created for the parent, including superseded retried replacements.
type ChildIDs struct {
	SplitID string   `json:"split_id,omitempty"`
	PageIDs []string `json:"page_ids,omitempty"`
	MergeID string   `json:"merge_id,omitempty"`
}

// DocumentInfo is derived once, after Fetch, for a main job.
type DocumentInfo struct {
	MimeType         string `json:"mime_type"`
	SizeBytes        int64  `json:"size_bytes"`
	OriginalFilename string `json:"original_filename,omitempty"`
}

// JobError records a classified failure on a job record. Kind is one of
// the taxonomy constants in pkg/errors.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is the common record for main, split, page, and merge jobs.
type Job struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Type     JobType   `json:"type"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Name     string    `json:"name,omitempty"`

	// ParentID is present iff Type != main. It is a back-reference used
	// only for lookups; the parent's ChildIDs is the authoritative list.
	ParentID string `json:"parent_id,omitempty"`

	// PageNumber (>=1) and PageFilePath are present iff Type == page.
	PageNumber   int    `json:"page_number,omitempty"`
	PageFilePath string `json:"page_file_path,omitempty"`
	CharCount    int    `json:"char_count,omitempty"`

	// SourceSpec and LocalPath only matter for main/split jobs mid-flight.
	SourceSpec string `json:"source_spec,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`

	// Main-job-only bookkeeping.
	TotalPages     *int          `json:"total_pages,omitempty"`
	PagesCompleted int           `json:"pages_completed"`
	PagesFailed    int           `json:"pages_failed"`
	ChildIDs       ChildIDs      `json:"child_ids,omitempty"`
	DocumentInfo   *DocumentInfo `json:"document_info,omitempty"`

	Error *JobError `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep-enough copy for read-modify-write callers so a
// caller mutating the returned job never corrupts another goroutine's view.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.ChildIDs.PageIDs = append([]string(nil), j.ChildIDs.PageIDs...)
	if j.TotalPages != nil {
		tp := *j.TotalPages
		clone.TotalPages = &tp
	}
	if j.DocumentInfo != nil {
		di := *j.DocumentInfo
		clone.DocumentInfo = &di
	}
	if j.Error != nil {
		e := *j.Error
		clone.Error = &e
	}
	return &clone
}

// ResultMetadata aggregates over one page's or the whole document's markdown.
type ResultMetadata struct {
	Pages         int            `json:"pages,omitempty"`
	Words         int            `json:"words"`
	SizeBytes     int            `json:"size_bytes"`
	Format        string         `json:"format,omitempty"`
	Title         string         `json:"title,omitempty"`
	Author        string         `json:"author,omitempty"`
	PerPageErrors map[int]string `json:"per_page_errors,omitempty"`
}

// Result is stored only for main and page jobs (invariant I5: only when
// the owning job's status is completed).
type Result struct {
	JobID     string         `json:"job_id"`
	Markdown  string         `json:"markdown"`
	Metadata  ResultMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// JobFilter narrows ListJobsByOwner / ListJobs to a type and/or status.
// Zero values mean "any".
type JobFilter struct {
	Type   JobType
	Status JobStatus
}

func (f JobFilter) Matches(j *Job) bool {
	if f.Type != "" && j.Type != f.Type {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	return true
}
