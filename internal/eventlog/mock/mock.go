// Package mock provides an in-memory [eventlog.Sink] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/micscribe/internal/eventlog"
)

// Sink records appended events. Set Err to make Append fail.
type Sink struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Append and the event is not recorded.
	Err error

	// Events holds every successfully appended event in order.
	Events []eventlog.Event
}

// Append records ev unless Err is set.
func (s *Sink) Append(_ context.Context, ev eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Events = append(s.Events, ev)
	return nil
}

// Snapshot returns a copy of the recorded events. Thread-safe.
func (s *Sink) Snapshot() []eventlog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventlog.Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// Types returns the etype of every recorded event in order. Thread-safe.
func (s *Sink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Events))
	for i, ev := range s.Events {
		out[i] = ev.Type
	}
	return out
}

// Ensure Sink implements eventlog.Sink at compile time.
var _ eventlog.Sink = (*Sink)(nil)
