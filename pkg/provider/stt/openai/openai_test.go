package openai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/micscribe/pkg/provider/stt"
)

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	tr, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.model != DefaultModel {
		t.Errorf("model = %q, want %q", tr.model, DefaultModel)
	}
}

func TestParseVerbose(t *testing.T) {
	raw := `{"text":" hi there","language":"english","segments":[
		{"text":" hi","start":0,"end":0.4,"avg_logprob":-0.1},
		{"text":" there","start":0.4,"end":1.0,"avg_logprob":-0.3}]}`
	res := parseVerbose(" hi there", raw, "")

	if got := res.Text(); got != "hi there" {
		t.Errorf("Text() = %q", got)
	}
	if res.Language != "english" {
		t.Errorf("Language = %q", res.Language)
	}
	want := math.Exp(-0.2)
	if math.Abs(res.LanguageProbability-want) > 1e-9 {
		t.Errorf("LanguageProbability = %v, want %v", res.LanguageProbability, want)
	}
	if res.Spans[1].Start != 400*time.Millisecond {
		t.Errorf("Spans[1].Start = %v", res.Spans[1].Start)
	}
}

func TestParseVerbose_PlainBody(t *testing.T) {
	res := parseVerbose("plain", `{"text":"plain"}`, "en")
	if res.Text() != "plain" || res.Language != "en" || res.LanguageProbability != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res := parseVerbose("", "", ""); len(res.Spans) != 0 {
		t.Errorf("expected no spans, got %+v", res.Spans)
	}
}

func TestTranscribe_AgainstFakeAPI(t *testing.T) {
	var gotModel, gotFormat, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello",
			"language": "en",
			"segments": []map[string]any{{"text": "hello", "start": 0, "end": 1, "avg_logprob": 0}},
		})
	}))
	defer srv.Close()

	tr, err := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(clip, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := stt.DefaultConfig()
	cfg.Language = "en"
	res, err := tr.Transcribe(context.Background(), clip, cfg)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text() != "hello" || res.LanguageProbability != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if gotModel != DefaultModel || gotFormat != "verbose_json" || gotLanguage != "en" {
		t.Errorf("request fields model=%q format=%q language=%q", gotModel, gotFormat, gotLanguage)
	}
}

func TestTranscribe_MissingClip(t *testing.T) {
	tr, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), "/does/not/exist.wav", stt.DefaultConfig()); err == nil {
		t.Fatal("expected error for missing clip")
	}
}
