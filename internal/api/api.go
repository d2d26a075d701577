// Package api serves the micscribe HTTP control surface.
//
// Routes:
//
//	POST /start     begin recording
//	POST /stop      end recording
//	GET  /status    current state and session paths
//	GET  /events    NDJSON events at or after ?since=<epoch_ms>
//	GET  /sessions  sessions under the session root
//
// /timeline, /healthz, /readyz and /metrics are mounted when the matching
// option is set. Every response except /events, /timeline and /metrics is a
// JSON object.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/micscribe/internal/eventlog"
	"github.com/MrWong99/micscribe/internal/health"
	"github.com/MrWong99/micscribe/internal/observe"
	"github.com/MrWong99/micscribe/internal/recorder"
	"github.com/MrWong99/micscribe/internal/session"
)

// Response messages of the lifecycle endpoints.
const (
	MsgStarted        = "Audio recording started"
	MsgStopped        = "Audio recording stopped"
	MsgAlreadyActive  = "Recording already active"
	MsgNotActive      = "Recording not active"
	contentTypeJSON   = "application/json; charset=utf-8"
	contentTypeNDJSON = "application/x-ndjson"
)

// Recorder is the lifecycle the API controls. [*recorder.Controller]
// implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() recorder.Status
}

// Result is the body of /start and /stop.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Recording     bool   `json:"recording"`
	SessionDir    string `json:"session_dir"`
	AudioDir      string `json:"audio_dir"`
	State         string `json:"state"`
	EventsPath    string `json:"events_path"`
	Since         int64  `json:"since,omitempty"`
	Segments      uint64 `json:"segments"`
	DroppedFrames uint64 `json:"dropped_frames"`
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics enables the observe middleware with m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithTimeline mounts h at GET /timeline.
func WithTimeline(h http.Handler) Option {
	return func(s *Server) { s.timeline = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithSessionRoot enables GET /sessions over root.
func WithSessionRoot(root string) Option {
	return func(s *Server) { s.sessionRoot = root }
}

// Server routes HTTP requests to a [Recorder].
type Server struct {
	rec            Recorder
	metrics        *observe.Metrics
	health         *health.Handler
	timeline       http.Handler
	metricsHandler http.Handler
	sessionRoot    string
}

// New creates a Server controlling rec.
func New(rec Recorder, opts ...Option) *Server {
	s := &Server{rec: rec}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler, wrapped in the observe middleware when
// metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.sessionRoot != "" {
		mux.HandleFunc("GET /sessions", s.handleSessions)
	}
	if s.timeline != nil {
		mux.Handle("GET /timeline", s.timeline)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.rec.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Result{Success: true, Message: MsgStarted})
	case errors.Is(err, recorder.ErrAlreadyActive):
		writeJSON(w, http.StatusBadRequest, Result{Message: MsgAlreadyActive})
	default:
		observe.Logger(r.Context()).Error("api: start failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, Result{Message: err.Error()})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.rec.Stop(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Result{Success: true, Message: MsgStopped})
	case errors.Is(err, recorder.ErrNotActive):
		writeJSON(w, http.StatusBadRequest, Result{Message: MsgNotActive})
	default:
		observe.Logger(r.Context()).Error("api: stop failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, Result{Message: err.Error()})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.rec.Status()
	resp := StatusResponse{
		Recording:     st.Recording,
		SessionDir:    st.SessionDir,
		AudioDir:      st.AudioDir,
		State:         st.State.String(),
		EventsPath:    st.EventsPath,
		Segments:      st.Segments,
		DroppedFrames: st.DroppedFrames,
	}
	if !st.Since.IsZero() {
		resp.Since = st.Since.UnixMilli()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, err := ParseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Result{Message: err.Error()})
		return
	}
	recs, _, err := eventlog.ReadFrom(s.rec.Status().EventsPath, 0, since)
	if err != nil {
		observe.Logger(r.Context()).Error("api: read events failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, Result{Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", contentTypeNDJSON)
	w.WriteHeader(http.StatusOK)
	for _, rec := range recs {
		if _, err := w.Write(append(rec.Raw, '\n')); err != nil {
			return
		}
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := session.List(s.sessionRoot)
	if err != nil {
		observe.Logger(r.Context()).Error("api: list sessions failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, Result{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// ParseSince reads the optional "since" query parameter as epoch
// milliseconds. A missing parameter yields 0.
func ParseSince(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("since must be a non-negative integer (epoch milliseconds)")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
