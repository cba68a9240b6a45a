package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmark/internal/core/domain"
	"docmark/internal/core/orchestrator"
	fakestore "docmark/internal/platform/statestore/fake"
	fakequeue "docmark/internal/platform/workqueue/fake"
	"docmark/pkg/logger"
	"docmark/pkg/metrics"
)

type passthroughFetcher struct{}

func (passthroughFetcher) Fetch(_ context.Context, sourceSpec string) (string, error) {
	return sourceSpec, nil
}

type singlePageSplitter struct{}

func (singlePageSplitter) PageCount(_ context.Context, _ string) (int, error) { return 1, nil }
func (singlePageSplitter) Split(_ context.Context, _ string) ([]string, int, error) {
	return []string{"page-1"}, 1, nil
}

type echoConverter struct{}

func (echoConverter) Convert(_ context.Context, path string, _ map[string]string) (string, domain.ResultMetadata, error) {
	return "content of " + path, domain.ResultMetadata{Words: 3}, nil
}

type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(_ context.Context, markdown string) (string, error) {
	return markdown, nil
}

func newTestCLI(t *testing.T) *CLI {
	t.Helper()
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)
	m := metrics.New("docmark_cli_test", "cli")

	store := fakestore.New()
	queue := fakequeue.New()
	cfg := orchestrator.DefaultConfig()
	orch := orchestrator.New(store, queue, passthroughFetcher{}, singlePageSplitter{}, echoConverter{}, passthroughNormalizer{}, cfg, log, m)
	return NewCLI(orch)
}

func runCommand(t *testing.T, cli *CLI, args ...string) (string, error) {
	t.Helper()
	cmd := cli.GetRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSubmitAndStatus(t *testing.T) {
	cli := newTestCLI(t)

	out, err := runCommand(t, cli, "submit", "doc.pdf", "--owner", "owner-1", "--name", "report")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(out), "job_id:"))
	jobID := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "job_id:"))

	statusOut, err := runCommand(t, cli, "status", jobID, "--owner", "owner-1")
	require.NoError(t, err)

	var job map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(statusOut), &job))
	assert.Equal(t, jobID, job["id"])
}

func TestSubmitRequiresOwner(t *testing.T) {
	cli := newTestCLI(t)
	_, err := runCommand(t, cli, "submit", "doc.pdf")
	assert.Error(t, err)
}

func TestListJobs(t *testing.T) {
	cli := newTestCLI(t)

	_, err := runCommand(t, cli, "submit", "doc.pdf", "--owner", "owner-2")
	require.NoError(t, err)

	out, err := runCommand(t, cli, "list", "--owner", "owner-2")
	require.NoError(t, err)
	assert.Contains(t, out, "total: 1")
}

func TestDelete(t *testing.T) {
	cli := newTestCLI(t)

	out, err := runCommand(t, cli, "submit", "doc.pdf", "--owner", "owner-3")
	require.NoError(t, err)
	jobID := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "job_id:"))

	_, err = runCommand(t, cli, "delete", jobID, "--owner", "owner-3")
	require.NoError(t, err)

	_, err = runCommand(t, cli, "status", jobID, "--owner", "owner-3")
	assert.Error(t, err)
}
