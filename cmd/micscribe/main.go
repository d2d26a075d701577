// Command micscribe records the microphone into a session directory,
// transcribes it in short segments and appends the results to the session's
// NDJSON event log. Recording is controlled over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/micscribe/internal/app"
	"github.com/MrWong99/micscribe/internal/config"
	"github.com/MrWong99/micscribe/internal/observe"
	"github.com/MrWong99/micscribe/internal/resilience"
	"github.com/MrWong99/micscribe/pkg/audio"
	"github.com/MrWong99/micscribe/pkg/audio/portaudio"
	"github.com/MrWong99/micscribe/pkg/provider/stt"
	"github.com/MrWong99/micscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/micscribe/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	sessionDir := flag.String("session", "", "record into this session directory")
	autostart := flag.Bool("autostart", false, "start recording as soon as the server is up")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "micscribe: %v\n", err)
		return 1
	}
	overrideFlags := func(c *config.Config) {
		if *listenAddr != "" {
			c.Server.ListenAddr = *listenAddr
		}
		if *sessionDir != "" {
			c.Session.Dir = *sessionDir
		}
		if *autostart {
			c.Autostart = true
		}
	}
	overrideFlags(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("micscribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName:    "micscribe",
		ServiceVersion: version,
		RuntimeMetrics: true,
		Global:         true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if d := config.Diff(old, new); d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(old, new)
		}, config.WithOverride(overrideFlags))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down",
		"session_dir", application.Session().Dir,
		"transcriber", cfg.Transcriber.Name,
		"fallbacks", len(cfg.Transcriber.Fallbacks),
	)

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path, or builds the defaults when no file is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		config.ApplyEnv(cfg, os.LookupEnv)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", path)
	}
	return cfg, err
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the capture backends and transcription
// engines that ship with micscribe into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterDevice("portaudio", func(config.CaptureConfig) (audio.Device, error) {
		return portaudio.New(), nil
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if vad, ok := entry.Options["server_vad"].(bool); ok {
			opts = append(opts, whisper.WithServerVAD(vad))
		}
		base := entry.BaseURL
		if base == "" {
			base = "http://localhost:8080"
		}
		return whisper.New(base, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if threads, ok := entry.Options["threads"].(int); ok && threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range reg.Transcribers() {
		slog.Debug("registered provider", "kind", "transcriber", "name", name)
	}
}

// buildProviders instantiates the capture device and the transcriber chain
// named in cfg. The returned func releases engines that hold native
// resources.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	track := func(t stt.Transcriber) {
		if c, ok := t.(interface{ Close() error }); ok {
			closers = append(closers, c.Close)
		}
	}

	dev, err := reg.CreateDevice(cfg.Capture)
	if err != nil {
		return nil, closeAll, fmt.Errorf("create capture device %q: %w", cfg.Capture.Device, err)
	}

	primary, err := reg.CreateTranscriber(cfg.Transcriber.ProviderEntry)
	if err != nil {
		return nil, closeAll, fmt.Errorf("create transcriber %q: %w", cfg.Transcriber.Name, err)
	}
	track(primary)
	slog.Info("provider created", "kind", "transcriber", "name", cfg.Transcriber.Name)

	ps := &app.Providers{Device: dev, Transcriber: primary, TranscriberName: cfg.Transcriber.Name}
	if len(cfg.Transcriber.Fallbacks) == 0 {
		return ps, closeAll, nil
	}

	fb := resilience.NewTranscriberFallback(primary, cfg.Transcriber.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Transcriber.BreakerFailures,
			ResetTimeout: time.Duration(cfg.Transcriber.BreakerResetSeconds) * time.Second,
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for i, entry := range cfg.Transcriber.Fallbacks {
		t, err := reg.CreateTranscriber(entry)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("create fallback transcriber %q: %w", entry.Name, err)
		}
		track(t)
		fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), t)
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name, "fallback", i+1)
	}
	ps.Transcriber = fb
	ps.TranscriberName = "fallback"
	return ps, closeAll, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
