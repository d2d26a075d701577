package timeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/micscribe/internal/eventlog"
	"github.com/MrWong99/micscribe/internal/observe"
)

// writeTimeout bounds a single WebSocket message write.
const writeTimeout = 5 * time.Second

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics tracks connected clients on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) { h.poll = d }
}

// WithOriginPatterns sets the cross-origin hosts allowed to connect.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// Handler upgrades GET /timeline?since=<epoch_ms> to a WebSocket and sends
// every matching event line as one text message.
type Handler struct {
	path    func() string
	metrics *observe.Metrics
	poll    time.Duration
	origins []string
}

// New creates a Handler. path is called per connection so the log location
// can follow the active session.
func New(path func() string, opts ...Option) *Handler {
	h := &Handler{path: path, poll: DefaultPollInterval}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "since must be a non-negative integer (epoch milliseconds)", http.StatusBadRequest)
			return
		}
		since = v
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("timeline: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	if h.metrics != nil {
		h.metrics.TimelineSubscribers.Add(r.Context(), 1)
		defer h.metrics.TimelineSubscribers.Add(context.WithoutCancel(r.Context()), -1)
	}

	// Clients only listen; CloseRead handles their close frame and cancels
	// ctx when they go away.
	ctx := conn.CloseRead(r.Context())
	tail := NewTailer(h.path(), since, h.poll)
	err = tail.Run(ctx, func(rec eventlog.Record) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, rec.Raw)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("timeline: subscriber gone", "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
