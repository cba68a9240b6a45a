// Package http is the primary HTTP adapter: it translates the REST surface
// into calls against ports.Orchestrator and renders AppError failures as
// the error envelope every client sees.
package http

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"docmark/internal/core/domain"
	"docmark/internal/core/ports"
	"docmark/internal/platform/collaborators"
	apperrors "docmark/pkg/errors"
	"docmark/pkg/security"
	"docmark/pkg/validator"
)

// Handler serves the job submission and inspection endpoints against a
// single ports.Orchestrator.
type Handler struct {
	orchestrator ports.Orchestrator
	fetcher      *collaborators.LocalFetcher
	validator    *validator.Validator
	validation   *validator.Config
}

func NewHandler(orchestrator ports.Orchestrator, fetcher *collaborators.LocalFetcher, v *validator.Validator, validation *validator.Config) *Handler {
	return &Handler{orchestrator: orchestrator, fetcher: fetcher, validator: v, validation: validation}
}

// SetupRoutes mounts every §6.1 endpoint under app, gated behind auth.
func SetupRoutes(app *fiber.App, h *Handler, verifier *security.Verifier) {
	api := app.Group("/", verifier.Middleware())

	api.Post("/upload", h.Upload)
	api.Post("/convert", h.Convert)
	api.Get("/jobs", h.ListJobs)
	api.Get("/jobs/:id", h.GetJob)
	api.Get("/jobs/:id/result", h.GetResult)
	api.Get("/jobs/:id/pages", h.ListPages)
	api.Get("/jobs/:id/pages/:n/status", h.PageStatus)
	api.Get("/jobs/:id/pages/:n/result", h.PageResult)
	api.Post("/jobs/:id/pages/:n/retry", h.RetryPage)
	api.Delete("/jobs/:id", h.DeleteJob)
}

// Upload handles POST /upload: a multipart file becomes the source spec for
// a new main job (spec.md §6.1).
func (h *Handler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file is required")
	}

	if verr := h.validator.ValidateFile(file, h.validation); verr != nil {
		return apperrors.Wrap(verr, apperrors.ValidationError, "VALIDATION_FAILED", verr.Error())
	}

	localPath, err := h.saveUpload(c, file)
	if err != nil {
		return apperrors.Wrap(err, apperrors.InternalError, "INTERNAL_ERROR", "persist upload")
	}

	name := c.FormValue("name", file.Filename)
	return h.submit(c, localPath, name)
}

// convertRequest is the JSON body accepted by POST /convert when the
// source is not a multipart upload.
type convertRequest struct {
	SourceType string            `json:"source_type" validate:"required,oneof=url path"`
	Source     string            `json:"source" validate:"required"`
	Name       string            `json:"name"`
	Options    map[string]string `json:"options,omitempty"`
}

// Convert handles POST /convert: either a JSON body naming a URL/path
// source, or a multipart file identical to /upload.
func (h *Handler) Convert(c *fiber.Ctx) error {
	if file, err := c.FormFile("file"); err == nil {
		if verr := h.validator.ValidateFile(file, h.validation); verr != nil {
			return apperrors.Wrap(verr, apperrors.ValidationError, "VALIDATION_FAILED", verr.Error())
		}
		localPath, err := h.saveUpload(c, file)
		if err != nil {
			return apperrors.Wrap(err, apperrors.InternalError, "INTERNAL_ERROR", "persist upload")
		}
		return h.submit(c, localPath, c.FormValue("name", file.Filename))
	}

	var req convertRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body")
	}
	if req.Source == "" {
		return apperrors.NewValidationError("source is required")
	}
	if req.SourceType == "url" {
		if verr := h.validator.ValidateSourceURL(req.Source); verr != nil {
			return apperrors.Wrap(verr, apperrors.ValidationError, "VALIDATION_FAILED", verr.Error())
		}
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(req.Source)
	}
	return h.submit(c, req.Source, name)
}

// saveUpload persists an incoming multipart file under the fetcher's work
// directory so it can be handed to the orchestrator as a local source spec.
func (h *Handler) saveUpload(c *fiber.Ctx, file *multipart.FileHeader) (string, error) {
	localPath := h.fetcher.SaveUpload(file.Filename)
	if err := c.SaveFile(file, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

func (h *Handler) submit(c *fiber.Ctx, sourceSpec, name string) error {
	owner := security.OwnerID(c)
	jobID, err := h.orchestrator.Submit(c.Context(), owner, sourceSpec, name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"job_id":     jobID,
		"status":     string(domain.StatusQueued),
		"created_at": time.Now(),
		"message":    "accepted",
	})
}

// GetJob handles GET /jobs/{id}.
func (h *Handler) GetJob(c *fiber.Ctx) error {
	owner := security.OwnerID(c)
	job, err := h.orchestrator.GetJob(c.Context(), owner, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(jobStatusResponse(job))
}

type jobResponse struct {
	ID             string           `json:"id"`
	Type           domain.JobType   `json:"type"`
	Status         domain.JobStatus `json:"status"`
	Progress       int              `json:"progress"`
	Name           string           `json:"name,omitempty"`
	TotalPages     *int             `json:"total_pages,omitempty"`
	PagesCompleted int              `json:"pages_completed"`
	PagesFailed    int              `json:"pages_failed"`
	Error          *domain.JobError `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

func jobStatusResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:             job.ID,
		Type:           job.Type,
		Status:         job.Status,
		Progress:       job.Progress,
		Name:           job.Name,
		TotalPages:     job.TotalPages,
		PagesCompleted: job.PagesCompleted,
		PagesFailed:    job.PagesFailed,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
	}
}

// GetResult handles GET /jobs/{id}/result.
func (h *Handler) GetResult(c *fiber.Ctx) error {
	owner := security.OwnerID(c)
	job, err := h.orchestrator.GetJob(c.Context(), owner, c.Params("id"))
	if err != nil {
		return err
	}
	if job.Status == domain.StatusFailed {
		if job.Error != nil {
			return apperrors.New(apperrors.ErrorType(job.Error.Kind), job.Error.Kind, job.Error.Message)
		}
		return apperrors.NewInternalError("job failed")
	}
	if !job.Status.IsTerminal() {
		notReady := apperrors.NewValidationError("result not ready")
		notReady.HTTPStatus = fiber.StatusBadRequest
		return notReady
	}

	result, err := h.orchestrator.GetResult(c.Context(), owner, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"markdown": result.Markdown,
		"metadata": result.Metadata,
	})
}

// ListPages handles GET /jobs/{id}/pages.
func (h *Handler) ListPages(c *fiber.Ctx) error {
	owner := security.OwnerID(c)
	mainID := c.Params("id")
	main, err := h.orchestrator.GetJob(c.Context(), owner, mainID)
	if err != nil {
		return err
	}
	pages, err := h.orchestrator.ListPages(c.Context(), owner, mainID)
	if err != nil {
		return err
	}

	type pageEntry struct {
		PageNumber int              `json:"page_number"`
		JobID      string           `json:"job_id"`
		Status     domain.JobStatus `json:"status"`
		URL        string           `json:"url"`
	}
	entries := make([]pageEntry, 0, len(pages))
	for _, p := range pages {
		entries = append(entries, pageEntry{
			PageNumber: p.PageNumber,
			JobID:      p.ID,
			Status:     p.Status,
			URL:        fmt.Sprintf("/jobs/%s/pages/%d/result", mainID, p.PageNumber),
		})
	}

	return c.JSON(fiber.Map{
		"total_pages":     derefInt(main.TotalPages),
		"pages_completed": main.PagesCompleted,
		"pages_failed":    main.PagesFailed,
		"pages":           entries,
	})
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func (h *Handler) findPage(c *fiber.Ctx) (*domain.Job, error) {
	owner := security.OwnerID(c)
	mainID := c.Params("id")
	pageNumber, err := strconv.Atoi(c.Params("n"))
	if err != nil {
		return nil, apperrors.NewValidationError("page number must be an integer")
	}
	pages, err := h.orchestrator.ListPages(c.Context(), owner, mainID)
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.PageNumber == pageNumber {
			return p, nil
		}
	}
	return nil, apperrors.NewNotFoundError("page")
}

// PageStatus handles GET /jobs/{id}/pages/{n}/status.
func (h *Handler) PageStatus(c *fiber.Ctx) error {
	page, err := h.findPage(c)
	if err != nil {
		return err
	}
	return c.JSON(jobStatusResponse(page))
}

// PageResult handles GET /jobs/{id}/pages/{n}/result.
func (h *Handler) PageResult(c *fiber.Ctx) error {
	owner := security.OwnerID(c)
	page, err := h.findPage(c)
	if err != nil {
		return err
	}
	if !page.Status.IsTerminal() {
		notReady := apperrors.NewValidationError("page result not ready")
		notReady.HTTPStatus = fiber.StatusBadRequest
		return notReady
	}
	result, err := h.orchestrator.GetResult(c.Context(), owner, page.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"markdown": result.Markdown,
		"metadata": result.Metadata,
	})
}

// RetryPage handles POST /jobs/{id}/pages/{n}/retry.
func (h *Handler) RetryPage(c *fiber.Ctx) error {
	owner := security.OwnerID(c)
	mainID := c.Params("id")
	pageNumber, err := strconv.Atoi(c.Params("n"))
	if err != nil {
		return apperrors.NewValidationError("page number must be an integer")
	}
	newJobID, err := h.orchestrator.RetryPage(c.Context(), owner, mainID, pageNumber)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"new_job_id": newJobID})
}

// DeleteJob handles DELETE /jobs/{id}.
func (h *Handler) DeleteJob(c *fiber.Ctx) error {
	owner := security.OwnerID(c)
	if err := h.orchestrator.Delete(c.Context(), owner, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(c *fiber.Ctx) error {
	owner := security.OwnerID(c)
	filter := domain.JobFilter{
		Type:   domain.JobType(c.Query("job_type")),
		Status: domain.JobStatus(c.Query("status")),
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "20"))

	jobs, total, err := h.orchestrator.ListJobs(c.Context(), owner, filter, page, pageSize)
	if err != nil {
		return err
	}
	entries := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		entries = append(entries, jobStatusResponse(j))
	}
	return c.JSON(fiber.Map{
		"jobs":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
