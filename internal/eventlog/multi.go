package eventlog

import (
	"context"
	"log/slog"

	"github.com/MrWong99/micscribe/internal/observe"
)

// named is implemented by sinks that report a name for logs and metrics.
type named interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return "unknown"
}

// Multi fans every event out to a primary sink and any number of mirrors.
// Only the primary's error is returned; mirror failures are logged and
// counted so that a broken mirror never loses an event from the primary log.
type Multi struct {
	primary Sink
	mirrors []Sink
	metrics *observe.Metrics
}

// NewMulti creates a Multi. Nil mirrors are ignored.
func NewMulti(primary Sink, mirrors ...Sink) *Multi {
	m := &Multi{primary: primary}
	for _, s := range mirrors {
		if s != nil {
			m.mirrors = append(m.mirrors, s)
		}
	}
	return m
}

// WithMetrics records written events and write errors on met.
func (m *Multi) WithMetrics(met *observe.Metrics) *Multi {
	m.metrics = met
	return m
}

// Append writes ev to the primary, then to every mirror.
func (m *Multi) Append(ctx context.Context, ev Event) error {
	if err := m.primary.Append(ctx, ev); err != nil {
		if m.metrics != nil {
			m.metrics.RecordEventWriteError(ctx, sinkName(m.primary))
		}
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordEventWritten(ctx, ev.Type)
	}
	for _, s := range m.mirrors {
		if err := s.Append(ctx, ev); err != nil {
			slog.Warn("eventlog: mirror append failed", "sink", sinkName(s), "etype", ev.Type, "err", err)
			if m.metrics != nil {
				m.metrics.RecordEventWriteError(ctx, sinkName(s))
			}
		}
	}
	return nil
}

var _ Sink = (*Multi)(nil)
