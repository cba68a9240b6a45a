package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmark/internal/core/domain"
	"docmark/internal/core/ports"
	"docmark/internal/platform/collaborators"
	apperrors "docmark/pkg/errors"
	"docmark/pkg/security"
	"docmark/pkg/validator"
)

// fakeOrchestrator implements ports.Orchestrator against an in-memory job
// map, so the HTTP layer can be exercised without Redis.
type fakeOrchestrator struct {
	jobs      map[string]*domain.Job
	results   map[string]*domain.Result
	submitErr error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{jobs: map[string]*domain.Job{}, results: map[string]*domain.Result{}}
}

func (f *fakeOrchestrator) Submit(_ context.Context, owner, sourceSpec, name string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	id := "job-1"
	f.jobs[id] = &domain.Job{ID: id, OwnerID: owner, Type: domain.JobTypeMain, Status: domain.StatusQueued, Name: name, SourceSpec: sourceSpec, CreatedAt: time.Now()}
	return id, nil
}

func (f *fakeOrchestrator) HandleConvertWhole(context.Context, ports.WorkItem) error { return nil }
func (f *fakeOrchestrator) HandleSplitPdf(context.Context, ports.WorkItem) error     { return nil }
func (f *fakeOrchestrator) HandleConvertPage(context.Context, ports.WorkItem) error  { return nil }
func (f *fakeOrchestrator) HandleMergePages(context.Context, ports.WorkItem) error   { return nil }

func (f *fakeOrchestrator) RetryPage(_ context.Context, _, _ string, _ int) (string, error) {
	return "job-retry", nil
}

func (f *fakeOrchestrator) Delete(_ context.Context, _, mainID string) error {
	delete(f.jobs, mainID)
	return nil
}

func (f *fakeOrchestrator) FailWorkItem(context.Context, ports.WorkItem, error) error { return nil }

func (f *fakeOrchestrator) GetJob(_ context.Context, _, id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job")
	}
	return job, nil
}

func (f *fakeOrchestrator) ListPages(_ context.Context, _, _ string) ([]*domain.Job, error) {
	return nil, nil
}

func (f *fakeOrchestrator) GetResult(_ context.Context, _, id string) (*domain.Result, error) {
	result, ok := f.results[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("result")
	}
	return result, nil
}

func (f *fakeOrchestrator) ListJobs(_ context.Context, _ string, _ domain.JobFilter, page, size int) ([]*domain.Job, int, error) {
	var jobs []*domain.Job
	for _, j := range f.jobs {
		jobs = append(jobs, j)
	}
	return jobs, len(jobs), nil
}

const testSigningKey = "test-signing-key-at-least-16b"

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return "Bearer " + signed
}

func newTestApp(t *testing.T, orch ports.Orchestrator) *fiber.App {
	t.Helper()
	workDir := t.TempDir()
	fetcher := collaborators.NewLocalFetcher(workDir, 5*time.Second)
	validation := validator.DefaultConfig()
	handler := NewHandler(orch, fetcher, validator.New(validation), validation)
	verifier := security.NewVerifier(security.DefaultAuthConfig(testSigningKey))

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			appErr := apperrors.AsAppError(err)
			return c.Status(appErr.HTTPStatus).JSON(apperrors.NewErrorResponse(appErr))
		},
	})
	SetupRoutes(app, handler, verifier)
	return app
}

func TestUpload(t *testing.T) {
	t.Run("missing auth header is rejected", func(t *testing.T) {
		app := newTestApp(t, newFakeOrchestrator())
		req := httptest.NewRequest("POST", "/upload", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("valid upload is accepted", func(t *testing.T) {
		app := newTestApp(t, newFakeOrchestrator())

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="report.pdf"`)
		h.Set("Content-Type", "application/pdf")
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 test content"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", bearerToken(t, "owner-1"))

		resp, err := app.Test(req)
		require.NoError(t, err)
		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if resp.StatusCode != 201 {
			t.Fatalf("unexpected status %d: %s", resp.StatusCode, respBody)
		}

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(respBody, &result))
		assert.Equal(t, "job-1", result["job_id"])
		assert.Equal(t, "queued", result["status"])
	})

	t.Run("missing file is a validation error", func(t *testing.T) {
		app := newTestApp(t, newFakeOrchestrator())
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", bearerToken(t, "owner-1"))

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 422, resp.StatusCode)
	})

	t.Run("disallowed extension is rejected", func(t *testing.T) {
		app := newTestApp(t, newFakeOrchestrator())
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "malware.exe")
		require.NoError(t, err)
		_, err = part.Write([]byte("MZ"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", bearerToken(t, "owner-1"))

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 422, resp.StatusCode)
	})
}

func TestConvertWithURLSource(t *testing.T) {
	app := newTestApp(t, newFakeOrchestrator())

	reqBody, err := json.Marshal(map[string]string{
		"source_type": "url",
		"source":      "https://example.com/doc.pdf",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/convert", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t, "owner-1"))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
}

func TestGetJob(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.jobs["job-1"] = &domain.Job{ID: "job-1", OwnerID: "owner-1", Type: domain.JobTypeMain, Status: domain.StatusProcessing, CreatedAt: time.Now()}
	app := newTestApp(t, orch)

	req := httptest.NewRequest("GET", "/jobs/job-1", nil)
	req.Header.Set("Authorization", bearerToken(t, "owner-1"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "processing", result["status"])

	t.Run("unknown job is not found", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/jobs/missing", nil)
		req.Header.Set("Authorization", bearerToken(t, "owner-1"))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)
	})
}

func TestGetResult(t *testing.T) {
	t.Run("not ready yet", func(t *testing.T) {
		orch := newFakeOrchestrator()
		orch.jobs["job-1"] = &domain.Job{ID: "job-1", Status: domain.StatusProcessing}
		app := newTestApp(t, orch)

		req := httptest.NewRequest("GET", "/jobs/job-1/result", nil)
		req.Header.Set("Authorization", bearerToken(t, "owner-1"))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("failed job surfaces its classified error", func(t *testing.T) {
		orch := newFakeOrchestrator()
		orch.jobs["job-1"] = &domain.Job{ID: "job-1", Status: domain.StatusFailed, Error: &domain.JobError{Kind: "fetch_failed", Message: "could not reach source"}}
		app := newTestApp(t, orch)

		req := httptest.NewRequest("GET", "/jobs/job-1/result", nil)
		req.Header.Set("Authorization", bearerToken(t, "owner-1"))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
	})

	t.Run("completed job returns markdown", func(t *testing.T) {
		orch := newFakeOrchestrator()
		orch.jobs["job-1"] = &domain.Job{ID: "job-1", Status: domain.StatusCompleted}
		orch.results["job-1"] = &domain.Result{JobID: "job-1", Markdown: "# hello", Metadata: domain.ResultMetadata{Words: 1}}
		app := newTestApp(t, orch)

		req := httptest.NewRequest("GET", "/jobs/job-1/result", nil)
		req.Header.Set("Authorization", bearerToken(t, "owner-1"))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, "# hello", result["markdown"])
	})
}

func TestDeleteJob(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.jobs["job-1"] = &domain.Job{ID: "job-1", Status: domain.StatusCompleted}
	app := newTestApp(t, orch)

	req := httptest.NewRequest("DELETE", "/jobs/job-1", nil)
	req.Header.Set("Authorization", bearerToken(t, "owner-1"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}

