package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/micscribe/internal/api"
	"github.com/MrWong99/micscribe/internal/eventlog"
	"github.com/MrWong99/micscribe/internal/health"
	"github.com/MrWong99/micscribe/internal/recorder"
)

// fakeRecorder mirrors the controller's precondition checks without any
// audio plumbing.
type fakeRecorder struct {
	mu        sync.Mutex
	recording bool
	startErr  error
	stopErr   error
	dir       string
}

func (f *fakeRecorder) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		return recorder.ErrAlreadyActive
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.recording = true
	return nil
}

func (f *fakeRecorder) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return recorder.ErrNotActive
	}
	f.recording = false
	return f.stopErr
}

func (f *fakeRecorder) Status() recorder.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := recorder.Status{
		Recording:  f.recording,
		SessionDir: f.dir,
		AudioDir:   filepath.Join(f.dir, "audio", "chunks"),
		EventsPath: filepath.Join(f.dir, "events.ndjson"),
	}
	if f.recording {
		st.State = recorder.StateRecording
		st.Since = time.UnixMilli(1700000000000)
	}
	return st
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) api.Result {
	t.Helper()
	var res api.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res
}

func TestLifecycleEndpoints(t *testing.T) {
	h := api.New(&fakeRecorder{dir: t.TempDir()}).Handler()

	steps := []struct {
		path    string
		code    int
		success bool
		msg     string
	}{
		{"/stop", http.StatusBadRequest, false, "Recording not active"},
		{"/start", http.StatusOK, true, "Audio recording started"},
		{"/start", http.StatusBadRequest, false, "Recording already active"},
		{"/stop", http.StatusOK, true, "Audio recording stopped"},
		{"/stop", http.StatusBadRequest, false, "Recording not active"},
	}
	for i, s := range steps {
		rec := do(t, h, http.MethodPost, s.path)
		if rec.Code != s.code {
			t.Fatalf("step %d %s: code = %d, want %d", i, s.path, rec.Code, s.code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("step %d: Content-Type = %q", i, ct)
		}
		res := decodeResult(t, rec)
		if res.Success != s.success || res.Message != s.msg {
			t.Errorf("step %d %s: body = %+v, want success=%v message=%q", i, s.path, res, s.success, s.msg)
		}
	}
}

func TestStart_UnexpectedError(t *testing.T) {
	h := api.New(&fakeRecorder{startErr: errors.New("recorder: start capture: device busy")}).Handler()
	rec := do(t, h, http.MethodPost, "/start")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Success || !strings.Contains(res.Message, "device busy") {
		t.Errorf("body = %+v", res)
	}
}

func TestStop_UnexpectedError(t *testing.T) {
	f := &fakeRecorder{recording: true, stopErr: errors.New("close failed")}
	rec := do(t, api.New(f).Handler(), http.MethodPost, "/stop")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	if res := decodeResult(t, rec); res.Message != "close failed" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	f := &fakeRecorder{dir: dir}
	h := api.New(f).Handler()

	var st map[string]any
	rec := do(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st["recording"] != false || st["session_dir"] != dir || st["audio_dir"] != filepath.Join(dir, "audio", "chunks") {
		t.Errorf("status = %v", st)
	}

	// Status is a pure query: repeated calls change nothing.
	do(t, h, http.MethodGet, "/status")
	if f.Status().Recording {
		t.Error("status changed state")
	}

	f.recording = true
	var running api.StatusResponse
	if err := json.NewDecoder(do(t, h, http.MethodGet, "/status").Body).Decode(&running); err != nil {
		t.Fatal(err)
	}
	if !running.Recording || running.State != "recording" || running.Since != 1700000000000 {
		t.Errorf("running status = %+v", running)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(&fakeRecorder{}).Handler()
	if rec := do(t, h, http.MethodGet, "/start"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /start code = %d, want 405", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	dir := t.TempDir()
	w := eventlog.NewWriter(filepath.Join(dir, "events.ndjson"))
	ctx := context.Background()
	for _, ev := range []eventlog.Event{
		eventlog.RecordingStarted(time.UnixMilli(100)),
		eventlog.SpeechFinal(200, "hello", 0.9, "a.wav"),
		eventlog.RecordingStopped(time.UnixMilli(300)),
	} {
		if err := w.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	h := api.New(&fakeRecorder{dir: dir}).Handler()

	rec := do(t, h, http.MethodGet, "/events?since=200")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want 2", lines)
	}
	if !strings.Contains(lines[0], `"etype":"speech.final"`) {
		t.Errorf("first line = %q", lines[0])
	}

	if rec := do(t, h, http.MethodGet, "/events"); strings.Count(rec.Body.String(), "\n") != 3 {
		t.Errorf("unfiltered body = %q", rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/events?since=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since code = %d, want 400", rec.Code)
	}
}

func TestEvents_NoLogYet(t *testing.T) {
	rec := do(t, api.New(&fakeRecorder{dir: t.TempDir()}).Handler(), http.MethodGet, "/events")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("code = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestSessions(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"2024-01-01T00-00-00-000Z", "archived"} {
		if err := os.MkdirAll(filepath.Join(root, n), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	h := api.New(&fakeRecorder{}, api.WithSessionRoot(root)).Handler()

	var body struct {
		Sessions []struct {
			Name string `json:"name"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(do(t, h, http.MethodGet, "/sessions").Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].Name != "2024-01-01T00-00-00-000Z" {
		t.Errorf("sessions = %+v", body.Sessions)
	}
}

func TestOptionalRoutes(t *testing.T) {
	tl := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	mh := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	h := api.New(&fakeRecorder{},
		api.WithTimeline(tl),
		api.WithMetricsHandler(mh),
		api.WithHealth(health.New()),
	).Handler()

	if rec := do(t, h, http.MethodGet, "/timeline"); rec.Code != http.StatusTeapot {
		t.Errorf("/timeline code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/metrics"); rec.Body.String() != "# metrics" {
		t.Errorf("/metrics body = %q", rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz code = %d", rec.Code)
	}

	bare := api.New(&fakeRecorder{}).Handler()
	if rec := do(t, bare, http.MethodGet, "/timeline"); rec.Code != http.StatusNotFound {
		t.Errorf("unmounted /timeline code = %d, want 404", rec.Code)
	}
}
