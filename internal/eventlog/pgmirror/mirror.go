// Package pgmirror mirrors micscribe events into PostgreSQL so they can be
// queried alongside other session data. The NDJSON file written by
// eventlog.Writer stays authoritative; the mirror is best effort.
//
// Usage:
//
//	m, err := pgmirror.New(ctx, dsn)
//	if err != nil { … }
//	defer m.Close()
//	sink := eventlog.NewMulti(writer, m)
package pgmirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/micscribe/internal/eventlog"
)

const ddlEvents = `
CREATE TABLE IF NOT EXISTS micscribe_events (
    id          BIGSERIAL    PRIMARY KEY,
    session_dir TEXT         NOT NULL DEFAULT '',
    t           BIGINT       NOT NULL,
    etype       TEXT         NOT NULL,
    payload     JSONB        NOT NULL DEFAULT '{}',
    inserted_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_micscribe_events_t
    ON micscribe_events (t);

CREATE INDEX IF NOT EXISTS idx_micscribe_events_session_t
    ON micscribe_events (session_dir, t);
`

// Migrate creates the events table and its indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlEvents); err != nil {
		return fmt.Errorf("pgmirror: migrate: %w", err)
	}
	return nil
}

// Mirror is an eventlog.Sink that inserts each event as a row. Safe for
// concurrent use.
type Mirror struct {
	pool       *pgxpool.Pool
	sessionDir string
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithSessionDir tags every row with the session directory so several
// sessions can share one table.
func WithSessionDir(dir string) Option {
	return func(m *Mirror) { m.sessionDir = dir }
}

// New connects to dsn, verifies the connection, and runs [Migrate].
func New(ctx context.Context, dsn string, opts ...Option) (*Mirror, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgmirror: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgmirror: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgmirror: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	m := &Mirror{pool: pool}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Name identifies the sink in logs and metrics.
func (m *Mirror) Name() string { return "postgres" }

// Append inserts ev.
func (m *Mirror) Append(ctx context.Context, ev eventlog.Event) error {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pgmirror: marshal payload: %w", err)
	}

	const q = `
		INSERT INTO micscribe_events (session_dir, t, etype, payload)
		VALUES ($1, $2, $3, $4)`
	if _, err := m.pool.Exec(ctx, q, m.sessionDir, ev.T, ev.Type, data); err != nil {
		return fmt.Errorf("pgmirror: insert %s: %w", ev.Type, err)
	}
	return nil
}

// Since returns mirrored events with t >= sinceMs for the mirror's session,
// oldest first.
func (m *Mirror) Since(ctx context.Context, sinceMs int64) ([]eventlog.Event, error) {
	const q = `
		SELECT t, etype, payload
		FROM   micscribe_events
		WHERE  session_dir = $1 AND t >= $2
		ORDER  BY t, id`

	rows, err := m.pool.Query(ctx, q, m.sessionDir, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("pgmirror: query: %w", err)
	}
	defer rows.Close()

	var out []eventlog.Event
	for rows.Next() {
		var (
			ev  eventlog.Event
			raw []byte
		)
		if err := rows.Scan(&ev.T, &ev.Type, &raw); err != nil {
			return nil, fmt.Errorf("pgmirror: scan: %w", err)
		}
		if err := json.Unmarshal(raw, &ev.Payload); err != nil {
			return nil, fmt.Errorf("pgmirror: decode payload: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmirror: rows: %w", err)
	}
	return out, nil
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.pool.Ping(ctx)
}

// Close releases the connection pool.
func (m *Mirror) Close() {
	m.pool.Close()
}

var _ eventlog.Sink = (*Mirror)(nil)
