// Package app wires the micscribe subsystems into a running server.
//
// The App struct owns the full lifecycle: New resolves the session directory
// and builds the event log, dispatcher, recorder and HTTP surface; Run serves
// until its context is cancelled; Shutdown stops any recording in progress
// and tears everything down in order.
//
// For testing, inject doubles via [Providers] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/micscribe/internal/api"
	"github.com/MrWong99/micscribe/internal/config"
	"github.com/MrWong99/micscribe/internal/dispatch"
	"github.com/MrWong99/micscribe/internal/eventlog"
	"github.com/MrWong99/micscribe/internal/eventlog/pgmirror"
	"github.com/MrWong99/micscribe/internal/health"
	"github.com/MrWong99/micscribe/internal/observe"
	"github.com/MrWong99/micscribe/internal/recorder"
	"github.com/MrWong99/micscribe/internal/session"
	"github.com/MrWong99/micscribe/internal/timeline"
	"github.com/MrWong99/micscribe/internal/vocab"
	"github.com/MrWong99/micscribe/pkg/audio"
	"github.com/MrWong99/micscribe/pkg/provider/stt"
)

// Providers holds the externally constructed dependencies. Populated by
// main.go via the config registry.
type Providers struct {
	// Device is the capture backend. Required.
	Device audio.Device

	// Transcriber is the speech-to-text engine, possibly a failover chain.
	// Required.
	Transcriber stt.Transcriber

	// TranscriberName labels provider metrics. Default: the configured name.
	TranscriberName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	now       func() time.Time

	sess     *session.Session
	file     *eventlog.Writer
	mirror   eventlog.Sink
	events   eventlog.Sink
	rec      *recorder.Controller
	api      *api.Server
	checks   []health.Checker
	metrics  *observe.Metrics
	metricsH http.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records pipeline and HTTP metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithEventMirror injects an event mirror instead of connecting to
// events.postgres_dsn.
func WithEventMirror(s eventlog.Sink) Option {
	return func(a *App) { a.mirror = s }
}

// WithVersion is recorded in meta.json of newly created sessions.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Device == nil || providers.Transcriber == nil {
		return nil, errors.New("app: device and transcriber providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	if err := a.initEvents(ctx); err != nil {
		return nil, fmt.Errorf("app: init events: %w", err)
	}
	if err := a.initRecorder(); err != nil {
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}
	a.initAPI()
	return a, nil
}

func (a *App) initSession() error {
	sess, err := session.Resolve(session.Options{
		Dir:             a.cfg.Session.Dir,
		Root:            a.cfg.Session.Root,
		CreateIfMissing: a.cfg.Session.CreateIfMissing,
		Version:         a.version,
		Now:             a.now,
	})
	if err != nil {
		return err
	}
	a.sess = sess
	a.checks = append(a.checks, health.DirWritable("session_dir", sess.AudioDir))
	slog.Info("session resolved", "dir", sess.Dir, "audio_dir", sess.AudioDir)
	return nil
}

// initEvents builds the NDJSON writer and, when configured, the PostgreSQL
// mirror behind it.
func (a *App) initEvents(ctx context.Context) error {
	a.file = eventlog.NewWriter(a.sess.EventsPath)

	if a.mirror == nil && a.cfg.Events.PostgresDSN != "" {
		m, err := pgmirror.New(ctx, a.cfg.Events.PostgresDSN, pgmirror.WithSessionDir(a.sess.Dir))
		if err != nil {
			return err
		}
		a.mirror = m
		a.closers = append(a.closers, func() error {
			m.Close()
			return nil
		})
		slog.Info("event mirror connected", "sink", m.Name())
	}
	if p, ok := a.mirror.(health.Pinger); ok {
		a.checks = append(a.checks, health.Ping("event_mirror", p))
	}

	if a.mirror == nil {
		a.events = a.file
		return nil
	}
	a.events = eventlog.NewMulti(a.file, a.mirror).WithMetrics(a.metrics)
	return nil
}

func (a *App) initRecorder() error {
	name := a.providers.TranscriberName
	if name == "" {
		name = a.cfg.Transcriber.Name
	}
	opts := []dispatch.Option{
		dispatch.WithTimeout(a.cfg.DispatchTimeout()),
		dispatch.WithConfig(a.cfg.TranscribeConfig()),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithProviderName(name),
	}
	if len(a.cfg.Transcriber.Vocabulary) > 0 {
		opts = append(opts, dispatch.WithCorrector(vocab.NewCorrector(a.cfg.Transcriber.Vocabulary)))
	}
	d := dispatch.New(a.sess.AudioDir, a.providers.Transcriber, a.events, opts...)

	rec, err := recorder.New(recorder.Config{
		Device:       a.providers.Device,
		DeviceConfig: a.cfg.DeviceConfig(),
		QueueSize:    a.cfg.Capture.QueueSize,
		Policy:       a.cfg.Policy(),
		Dispatcher:   d,
		Workers:      a.cfg.Dispatch.Workers,
		Events:       a.events,
		Session:      a.sess,
		Metrics:      a.metrics,
		Now:          a.now,
	})
	if err != nil {
		return err
	}
	a.rec = rec
	return nil
}

func (a *App) initAPI() {
	tl := []timeline.Option{timeline.WithMetrics(a.metrics)}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		tl = append(tl, timeline.WithOriginPatterns(a.cfg.Server.AllowedOrigins...))
	}
	eventsPath := a.sess.EventsPath

	opts := []api.Option{
		api.WithHealth(health.New(a.checks...)),
		api.WithTimeline(timeline.New(func() string { return eventsPath }, tl...)),
		api.WithMetrics(a.metrics),
	}
	if a.cfg.Session.Dir == "" {
		opts = append(opts, api.WithSessionRoot(a.cfg.Session.Root))
	}
	if a.metricsH != nil {
		opts = append(opts, api.WithMetricsHandler(a.metricsH))
	}
	a.api = api.New(a.rec, opts...)
}

// Session returns the session being recorded into.
func (a *App) Session() *session.Session { return a.sess }

// Recorder returns the recording controller.
func (a *App) Recorder() *recorder.Controller { return a.rec }

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// ApplyConfig hot-reloads the settings that do not need a restart. It is
// used as the [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.SegmenterChanged {
		if err := a.rec.SetPolicy(new.Policy()); err != nil {
			slog.Warn("segmenter reload rejected", "err", err)
		} else {
			slog.Info("segmenter policy updated, applies from the next recording")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. When autostart is set, recording begins
// once the listener is bound.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx = observe.WithSession(ctx, a.sess.Dir)
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	if a.cfg.Autostart {
		if err := a.rec.Start(ctx); err != nil {
			slog.Error("autostart failed", "err", err)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops any running recording (flushing its stopped event), closes
// the HTTP server and releases the remaining resources. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if rerr := a.rec.Shutdown(ctx); rerr != nil {
			slog.Warn("recorder shutdown error", "err", rerr)
		}
		if a.server != nil {
			if serr := a.server.Shutdown(ctx); serr != nil {
				slog.Warn("http server shutdown error", "err", serr)
			}
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				err = ctx.Err()
				return
			}
			if cerr := closer(); cerr != nil {
				slog.Warn("closer error", "index", i, "err", cerr)
			}
		}
	})
	return err
}
