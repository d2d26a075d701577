package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/micscribe/internal/config"
)

func TestValidate_OpenAIRequiresAPIKey(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Transcriber.Name = "openai"
	config.ApplyDefaults(cfg)

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for openai transcriber without api_key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_NativeRequiresModel(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Transcriber.Name = "whisper-native"
	config.ApplyDefaults(cfg)

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for whisper-native without model, got nil")
	}
	if !strings.Contains(err.Error(), "model") {
		t.Errorf("error should mention model, got: %v", err)
	}
}

func TestValidate_FallbackChecks(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Transcriber.Name = "whisper"
	cfg.Transcriber.BaseURL = "http://a:8080"
	cfg.Transcriber.Fallbacks = []config.ProviderEntry{
		{Name: ""},
		{Name: "whisper", BaseURL: "http://a:8080"},
		{Name: "openai"},
	}
	config.ApplyDefaults(cfg)

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for invalid fallbacks, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"fallbacks[0].name", "fallbacks[1] duplicates", "fallbacks[2].api_key"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should contain %q, got: %v", want, msg)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
dispatch:
  workers: -1
  timeout_seconds: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected multiple errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "dispatch.workers", "dispatch.timeout_seconds"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should contain %q, got: %v", want, msg)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"transcriber", "device"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["transcriber"], config.DefaultTranscriber) {
		t.Errorf("default transcriber %q not listed", config.DefaultTranscriber)
	}
	if !slices.Contains(config.ValidProviderNames["device"], config.DefaultDevice) {
		t.Errorf("default device %q not listed", config.DefaultDevice)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvSessionDir: "/data/sessions/2024-04-05T19-01-18-123Z",
		config.EnvListenAddr: "127.0.0.1:9000",
		config.EnvAPIKey:     "sk-env",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &config.Config{}
	cfg.Transcriber.Name = "openai"
	cfg.Transcriber.Fallbacks = []config.ProviderEntry{{Name: "openai", APIKey: "sk-file"}, {Name: "openai"}}
	config.ApplyDefaults(cfg)
	config.ApplyEnv(cfg, lookup)

	if cfg.Session.Dir != env[config.EnvSessionDir] {
		t.Errorf("session.dir: got %q", cfg.Session.Dir)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Transcriber.APIKey != "sk-env" {
		t.Errorf("transcriber.api_key: got %q, want %q", cfg.Transcriber.APIKey, "sk-env")
	}
	if cfg.Transcriber.Fallbacks[0].APIKey != "sk-file" {
		t.Errorf("explicit fallback key was overwritten: %q", cfg.Transcriber.Fallbacks[0].APIKey)
	}
	if cfg.Transcriber.Fallbacks[1].APIKey != "sk-env" {
		t.Errorf("fallback api_key: got %q, want %q", cfg.Transcriber.Fallbacks[1].APIKey, "sk-env")
	}
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Session.Dir = "keep"
	config.ApplyEnv(cfg, func(string) (string, bool) { return "", true })
	if cfg.Session.Dir != "keep" {
		t.Errorf("session.dir: got %q, want %q", cfg.Session.Dir, "keep")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "micscribe.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" && os.Getenv(config.EnvListenAddr) == "" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
