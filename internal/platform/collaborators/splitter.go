package collaborators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFSplitter implements ports.Splitter with pdfcpu, replacing the
// teacher's mutool/pymupdf shell-outs with an in-process Go library.
type PDFSplitter struct {
	workDir string
}

func NewPDFSplitter(workDir string) *PDFSplitter {
	return &PDFSplitter{workDir: workDir}
}

// PageCount opens localPath just far enough to report its page count,
// without writing any split output.
func (s *PDFSplitter) PageCount(_ context.Context, localPath string) (int, error) {
	conf := model.NewDefaultConfiguration()
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	count, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return count, nil
}

// Split writes one single-page PDF per page of localPath into a fresh
// subdirectory of workDir and returns the resulting paths in page order.
func (s *PDFSplitter) Split(_ context.Context, localPath string) ([]string, int, error) {
	conf := model.NewDefaultConfiguration()

	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open pdf: %w", err)
	}
	pageCount, err := api.PageCount(f, conf)
	f.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("page count: %w", err)
	}
	if pageCount == 0 {
		return nil, 0, fmt.Errorf("pdf has no pages")
	}

	outDir, err := os.MkdirTemp(s.workDir, "split-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create split dir: %w", err)
	}

	if err := api.SplitFile(localPath, outDir, 1, conf); err != nil {
		return nil, 0, fmt.Errorf("split pdf: %w", err)
	}

	pagePaths, err := orderedSplitOutputs(outDir, pageCount)
	if err != nil {
		return nil, 0, err
	}
	return pagePaths, pageCount, nil
}

// orderedSplitOutputs resolves pdfcpu's "<base>_N.pdf" split output naming
// convention into a page-ordered slice.
func orderedSplitOutputs(dir string, pageCount int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read split dir: %w", err)
	}

	byPage := make(map[int]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base := strings.TrimSuffix(name, filepath.Ext(name))
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(base[idx+1:])
		if err != nil {
			continue
		}
		byPage[n] = filepath.Join(dir, name)
	}

	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		path, ok := byPage[i]
		if !ok {
			return nil, fmt.Errorf("split output missing page %d", i)
		}
		pages = append(pages, path)
	}
	return pages, nil
}
