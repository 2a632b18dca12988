// Package trace persists per-step navigation records.
package trace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

const (
	rejectionsDir = "rejections"
	runDirLayout  = "20060102_150405"
)

// FileTracer writes a run into its own timestamped directory:
//
//	step_01.png
//	step_01_action.json
//	rejections/step_02_rejected_action.json
//	bbox/step_01_bbox.png
type FileTracer struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]int
}

var _ schemas.Tracer = (*FileTracer)(nil)

// NewFileTracer creates <base>/<UTC timestamp> and returns a tracer writing into it.
func NewFileTracer(base string, now time.Time, logger *zap.Logger) (*FileTracer, error) {
	dir := filepath.Join(base, now.UTC().Format(runDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	return &FileTracer{
		dir:    dir,
		logger: logger.Named("trace").With(zap.String("dir", dir)),
		seen:   make(map[string]int),
	}, nil
}

// Dir returns the run directory.
func (t *FileTracer) Dir() string {
	return t.dir
}

// Record writes the event as indented JSON. Repeated kinds within a step get
// a numeric suffix instead of overwriting the earlier record.
func (t *FileTracer) Record(ctx context.Context, event schemas.TraceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Kind, err)
	}

	sub := ""
	if event.Kind == schemas.TraceRejection {
		sub = rejectionsDir
	}
	name := t.uniqueName(sub, fmt.Sprintf("step_%02d_%s", event.Step, event.Kind), ".json")
	return t.write(filepath.Join(sub, name), data)
}

// SaveImage writes a PNG. The step screenshot lands at the top of the run
// directory, named images go into a subdirectory of the same name.
func (t *FileTracer) SaveImage(ctx context.Context, step int, name string, png []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return t.write(fmt.Sprintf("step_%02d.png", step), png)
	}
	return t.write(filepath.Join(name, fmt.Sprintf("step_%02d_%s.png", step, name)), png)
}

func (t *FileTracer) uniqueName(sub, stem, ext string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := filepath.Join(sub, stem)
	t.seen[key]++
	if n := t.seen[key]; n > 1 {
		return fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	return stem + ext
}

func (t *FileTracer) write(rel string, data []byte) error {
	path := filepath.Join(t.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(rel), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	t.logger.Debug("Trace artifact written.", zap.String("file", rel), zap.Int("bytes", len(data)))
	return nil
}
