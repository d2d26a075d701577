package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Environment variables read by [ApplyEnv].
const (
	EnvSessionDir = "SESSION_DIR"
	EnvListenAddr = "MICSCRIBE_LISTEN_ADDR"
	EnvAPIKey     = "OPENAI_API_KEY"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper", "whisper-native", "openai"},
	"device":      {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment, and validates the result. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode parses r and fills in defaults and the environment without
// validating.
func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides file settings from the environment. lookup is usually
// [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSessionDir); ok && v != "" {
		cfg.Session.Dir = v
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		if cfg.Transcriber.Name == "openai" && cfg.Transcriber.APIKey == "" {
			cfg.Transcriber.APIKey = v
		}
		for i := range cfg.Transcriber.Fallbacks {
			fb := &cfg.Transcriber.Fallbacks[i]
			if fb.Name == "openai" && fb.APIKey == "" {
				fb.APIKey = v
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must not be negative", cfg.Capture.FramesPerBuffer))
	}
	if cfg.Capture.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_size %d must not be negative", cfg.Capture.QueueSize))
	}
	validateProviderName("device", cfg.Capture.Device)

	// Segmenter
	if err := cfg.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("segmenter: %w", err))
	}

	// Transcriber
	validateProviderName("transcriber", cfg.Transcriber.Name)
	if cfg.Transcriber.Name == "openai" && cfg.Transcriber.APIKey == "" {
		errs = append(errs, errors.New("transcriber.api_key is required for the openai transcriber"))
	}
	if cfg.Transcriber.Name == "whisper-native" && cfg.Transcriber.Model == "" {
		errs = append(errs, errors.New("transcriber.model (ggml model path) is required for whisper-native"))
	}
	seen := map[string]bool{entryKey(cfg.Transcriber.ProviderEntry): true}
	for i, fb := range cfg.Transcriber.Fallbacks {
		prefix := fmt.Sprintf("transcriber.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("transcriber", fb.Name)
		if fb.Name == "openai" && fb.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for the openai transcriber", prefix))
		}
		if seen[entryKey(fb)] {
			errs = append(errs, fmt.Errorf("%s duplicates an earlier transcriber entry", prefix))
		}
		seen[entryKey(fb)] = true
	}
	if cfg.Transcriber.BreakerFailures < 0 || cfg.Transcriber.BreakerResetSeconds < 0 {
		errs = append(errs, errors.New("transcriber breaker settings must not be negative"))
	}

	// Dispatch
	if cfg.Dispatch.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout_seconds %d must not be negative", cfg.Dispatch.TimeoutSeconds))
	}
	if cfg.Dispatch.Workers < 0 {
		errs = append(errs, fmt.Errorf("dispatch.workers %d must not be negative", cfg.Dispatch.Workers))
	}

	// Session
	if cfg.Session.Dir == "" && cfg.Session.Root == "" {
		errs = append(errs, errors.New("session.root is required when session.dir is empty"))
	}

	return errors.Join(errs...)
}

// entryKey identifies an engine endpoint for duplicate detection.
func entryKey(e ProviderEntry) string {
	return e.Name + "|" + e.BaseURL + "|" + e.Model
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
