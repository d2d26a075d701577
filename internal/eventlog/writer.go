package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink accepts events. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Writer appends events to an NDJSON file. Every Append opens the file in
// append mode, writes exactly one line, syncs, and closes, so a crash never
// leaves more than the line being written incomplete and external tailers
// see each event as soon as Append returns. Appends are serialised.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter returns a Writer for path. The file and its parent directory are
// created on the first Append.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the log file path.
func (w *Writer) Path() string { return w.path }

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "file" }

// Append writes ev as one line.
func (w *Writer) Append(_ context.Context, ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: marshal %s: %w", ev.Type, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("eventlog: create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", w.path, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("eventlog: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("eventlog: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("eventlog: close: %w", err)
	}
	return nil
}

var _ Sink = (*Writer)(nil)
