package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aristath/crew/internal/workflow"
	"go.uber.org/zap"
)

// FileGateway keeps one JSON document per workflow under
// <dir>/workflows/<id>.json and exports results to
// <dir>/results/<id>_results.json.
type FileGateway struct {
	dir    string
	logger *zap.Logger
}

// NewFileGateway creates the workflows and results directories under dir.
func NewFileGateway(dir string, logger *zap.Logger) (*FileGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{"workflows", "results"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return &FileGateway{dir: dir, logger: logger}, nil
}

func (g *FileGateway) workflowPath(id string) string {
	return filepath.Join(g.dir, "workflows", id+".json")
}

func (g *FileGateway) resultsPath(id string) string {
	return filepath.Join(g.dir, "results", id+"_results.json")
}

// Save writes the workflow document through a temp file and rename.
func (g *FileGateway) Save(ctx context.Context, w *workflow.Workflow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDocument(w)
	if err != nil {
		return err
	}
	return writeFileAtomic(g.workflowPath(w.ID), data)
}

// Load reads one workflow document.
func (g *FileGateway) Load(ctx context.Context, id string) (*workflow.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(g.workflowPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}
	return decodeDocument(id, data)
}

// LoadAll reads every *.json document. Unreadable documents are logged and
// skipped so one corrupt file does not hide the rest.
func (g *FileGateway) LoadAll(ctx context.Context) ([]*workflow.Workflow, error) {
	paths, err := filepath.Glob(filepath.Join(g.dir, "workflows", "*.json"))
	if err != nil {
		return nil, err
	}

	var workflows []*workflow.Workflow
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		data, err := os.ReadFile(path)
		if err != nil {
			g.logger.Warn("skipping unreadable workflow file", zap.String("path", path), zap.Error(err))
			continue
		}
		w, err := decodeDocument(id, data)
		if err != nil {
			g.logger.Warn("skipping malformed workflow file", zap.String("path", path), zap.Error(err))
			continue
		}
		workflows = append(workflows, w)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})
	return workflows, nil
}

// WriteResults writes the completed task results and returns the file path.
func (g *FileGateway) WriteResults(ctx context.Context, w *workflow.Workflow) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := encodeResults(w)
	if err != nil {
		return "", err
	}
	path := g.resultsPath(w.ID)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Close is a no-op.
func (g *FileGateway) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
