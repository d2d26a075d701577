// Package timeline streams the event log to WebSocket clients: first every
// event at or after the requested time, then each new event as it is
// appended.
package timeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MrWong99/micscribe/internal/eventlog"
)

// DefaultPollInterval is how often a [Tailer] re-reads the log even without a
// file system notification.
const DefaultPollInterval = time.Second

// Tailer follows an NDJSON event log. It is used by one goroutine.
type Tailer struct {
	path   string
	since  int64
	offset int64
	poll   time.Duration
}

// NewTailer returns a Tailer for path that skips events before sinceMs.
func NewTailer(path string, sinceMs int64, poll time.Duration) *Tailer {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Tailer{path: filepath.Clean(path), since: sinceMs, poll: poll}
}

// Run calls fn for every existing record and then for each record appended
// later, until ctx is cancelled or fn returns an error. File system
// notifications trigger reads immediately; a polling ticker covers platforms
// or directories where notifications are unavailable.
func (t *Tailer) Run(ctx context.Context, fn func(eventlog.Record) error) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if w, err := fsnotify.NewWatcher(); err != nil {
		slog.Warn("timeline: fsnotify unavailable, polling only", "err", err)
	} else {
		defer w.Close()
		if err := w.Add(filepath.Dir(t.path)); err != nil {
			slog.Warn("timeline: cannot watch log directory, polling only", "dir", filepath.Dir(t.path), "err", err)
		} else {
			events, errs = w.Events, w.Errors
		}
	}

	if err := t.flush(fn); err != nil {
		return err
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != t.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := t.flush(fn); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("timeline: watcher error", "err", err)
		case <-ticker.C:
			if err := t.flush(fn); err != nil {
				return err
			}
		}
	}
}

// flush delivers every complete line appended since the last call.
func (t *Tailer) flush(fn func(eventlog.Record) error) error {
	recs, off, err := eventlog.ReadFrom(t.path, t.offset, t.since)
	if err != nil {
		slog.Warn("timeline: read log", "path", t.path, "err", err)
		return nil
	}
	t.offset = off
	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
