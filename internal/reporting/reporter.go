// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// Reporter writes run results to an output.
type Reporter interface {
	// Write renders a single result.
	Write(result *schemas.ReleaseResult) error
	// Close finalizes the report and closes any underlying file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format. An empty path or "stdout" writes to
// os.Stdout.
func New(format, outputPath string) (Reporter, error) {
	if outputPath == "" || outputPath == "stdout" {
		return NewForStream(format, os.Stdout)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	r, err := NewWithWriter(format, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewForStream creates a reporter on w that leaves w open when closed.
func NewForStream(format string, w io.Writer) (Reporter, error) {
	return NewWithWriter(format, &nopWriteCloser{w})
}

// NewWithWriter creates a reporter that takes ownership of w.
func NewWithWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch format {
	case "json":
		return &JSONReporter{w: w}, nil
	case "text":
		return &TextReporter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// JSONReporter writes each result as an indented JSON document.
type JSONReporter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func (r *JSONReporter) Write(result *schemas.ReleaseResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	return r.w.Close()
}

// TextReporter writes a short human readable summary.
type TextReporter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func (r *TextReporter) Write(result *schemas.ReleaseResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", result.Repository)
	fmt.Fprintf(&b, "Version:    %s\n", orUnknown(result.LatestRelease.Version))
	fmt.Fprintf(&b, "Tag:        %s\n", orUnknown(result.LatestRelease.Tag))
	fmt.Fprintf(&b, "Author:     %s\n", orUnknown(result.LatestRelease.Author))
	if v := result.Verification; v != nil {
		fmt.Fprintf(&b, "API tag:    %s (tag match: %t, author match: %t)\n", v.APITag, v.TagMatches, v.AuthorMatches)
	}
	if _, err := io.WriteString(r.w, b.String()); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error {
	return r.w.Close()
}

func orUnknown(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
