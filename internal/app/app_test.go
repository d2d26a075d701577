package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/micscribe/internal/api"
	"github.com/MrWong99/micscribe/internal/app"
	"github.com/MrWong99/micscribe/internal/config"
	"github.com/MrWong99/micscribe/internal/eventlog"
	eventmock "github.com/MrWong99/micscribe/internal/eventlog/mock"
	audiomock "github.com/MrWong99/micscribe/pkg/audio/mock"
	"github.com/MrWong99/micscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/micscribe/pkg/provider/stt/mock"
)

// testConfig returns a defaulted config recording into a fresh directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Session.Dir = filepath.Join(t.TempDir(), "2024-04-05T19-01-18-123Z")
	config.ApplyDefaults(cfg)
	return cfg
}

func testProviders() (*app.Providers, *audiomock.Device) {
	dev := &audiomock.Device{}
	return &app.Providers{
		Device: dev,
		Transcriber: &sttmock.Transcriber{Result: stt.Result{
			Spans: []stt.Span{{Text: "hello"}},
		}},
	}, dev
}

func post(t *testing.T, h http.Handler, path string) api.Result {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	var res api.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("POST %s: decode: %v", path, err)
	}
	return res
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if err == nil {
		t.Fatal("New() with empty providers: want error, got nil")
	}
}

func TestNew_MissingSessionRoot(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Session.Dir = ""
	cfg.Session.Root = filepath.Join(t.TempDir(), "absent")
	providers, _ := testProviders()

	if _, err := app.New(context.Background(), cfg, providers); err == nil {
		t.Fatal("New() without sessions and create_if_missing=false: want error, got nil")
	}
}

func TestNew_CreatesSession(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Session.Dir = ""
	cfg.Session.Root = t.TempDir()
	cfg.Session.CreateIfMissing = true
	providers, _ := testProviders()
	fixed := time.Date(2024, 4, 5, 19, 1, 18, 123_000_000, time.UTC)

	a, err := app.New(context.Background(), cfg, providers,
		app.WithClock(func() time.Time { return fixed }),
		app.WithVersion("1.2.3"),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if got, want := filepath.Base(a.Session().Dir), "2024-04-05T19-01-18-123Z"; got != want {
		t.Errorf("session dir = %q, want %q", got, want)
	}
	if a.Session().Meta == nil || a.Session().Meta.Version != "1.2.3" {
		t.Errorf("session meta = %+v, want version 1.2.3", a.Session().Meta)
	}
}

func TestApp_HTTPLifecycle(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	providers, dev := testProviders()
	mirror := &eventmock.Sink{}

	a, err := app.New(context.Background(), cfg, providers, app.WithEventMirror(mirror))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	h := a.Handler()

	if res := post(t, h, "/start"); !res.Success || res.Message != api.MsgStarted {
		t.Errorf("first start = %+v", res)
	}
	if !dev.Running() {
		t.Error("device should be running after start")
	}
	if res := post(t, h, "/start"); res.Success || res.Message != api.MsgAlreadyActive {
		t.Errorf("second start = %+v", res)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st api.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Recording || st.SessionDir != cfg.Session.Dir {
		t.Errorf("status = %+v", st)
	}

	if res := post(t, h, "/stop"); !res.Success || res.Message != api.MsgStopped {
		t.Errorf("stop = %+v", res)
	}
	if res := post(t, h, "/stop"); res.Success || res.Message != api.MsgNotActive {
		t.Errorf("second stop = %+v", res)
	}

	events, err := eventlog.ReadSince(a.Session().EventsPath, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(events) != 2 || events[0].Type != eventlog.TypeRecordingStarted || events[1].Type != eventlog.TypeRecordingStopped {
		t.Errorf("events = %+v, want started then stopped", events)
	}
	if got := mirror.Types(); !slices.Equal(got, []string{eventlog.TypeRecordingStarted, eventlog.TypeRecordingStopped}) {
		t.Errorf("mirror types = %v", got)
	}
}

func TestApp_HealthRoutes(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	a, err := app.New(context.Background(), testConfig(t), providers)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	h := a.Handler()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	providers, _ := testProviders()
	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	updated := *cfg
	updated.Segmenter.MaxSeconds = 6
	a.ApplyConfig(cfg, &updated)
	if got := a.Recorder().Policy().MaxDuration; got != 6*time.Second {
		t.Errorf("policy max = %s, want 6s", got)
	}

	invalid := updated
	invalid.Segmenter.MinSeconds = 10
	a.ApplyConfig(&updated, &invalid)
	if got := a.Recorder().Policy().MaxDuration; got != 6*time.Second {
		t.Errorf("invalid reload changed policy: max = %s", got)
	}
}

func TestApp_ServeAutostartAndShutdown(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Autostart = true
	providers, dev := testProviders()
	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	deadline := time.Now().Add(2 * time.Second)
	for !a.Recorder().Recording() {
		if time.Now().After(deadline) {
			t.Fatal("autostart did not begin recording")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + ln.Addr().String() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /status = %d, want 200", resp.StatusCode)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() returned error: %v", err)
	}
	if a.Recorder().Recording() || dev.Running() {
		t.Error("recording should be stopped after Shutdown")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown() returned error: %v", err)
	}

	events, err := eventlog.ReadSince(a.Session().EventsPath, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if n := len(events); n != 2 {
		t.Errorf("events = %d, want started and stopped", n)
	}
}
