package collaborators

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalFetcher implements ports.Fetcher. sourceSpec is either an existing
// local path (the upload-then-submit path, where the HTTP adapter has
// already written the multipart file to workDir) or an http(s) URL, per
// spec.md's constraint that URL sources must be HTTP(S).
type LocalFetcher struct {
	workDir    string
	httpClient *http.Client
}

func NewLocalFetcher(workDir string, timeout time.Duration) *LocalFetcher {
	return &LocalFetcher{
		workDir:    workDir,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (f *LocalFetcher) Fetch(ctx context.Context, sourceSpec string) (string, error) {
	if u, err := url.Parse(sourceSpec); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return f.fetchURL(ctx, u)
	}
	if _, err := os.Stat(sourceSpec); err == nil {
		return sourceSpec, nil
	}
	return "", fmt.Errorf("source %q is neither a reachable local path nor an http(s) URL", sourceSpec)
}

func (f *LocalFetcher) fetchURL(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", u, resp.StatusCode)
	}

	ext := filepath.Ext(u.Path)
	localPath := filepath.Join(f.workDir, fmt.Sprintf("fetch-%s%s", uuid.NewString(), ext))

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("write fetched body: %w", err)
	}
	return localPath, nil
}

// sniffExtension gives a fetched multipart file a sensible extension
// before it's handed to Fetch.
func sniffExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ".bin"
	}
	return ext
}

// SaveUpload reserves a local path under workDir named after the uploaded
// filename's extension. The HTTP adapter writes the multipart file to this
// path, then passes it to Fetch (or directly to Submit) as the source spec.
func (f *LocalFetcher) SaveUpload(filename string) string {
	return filepath.Join(f.workDir, fmt.Sprintf("upload-%s%s", uuid.NewString(), sniffExtension(filename)))
}
