// Package whisper provides whisper.cpp-backed transcribers.
//
// [Client] talks to a running whisper-server binary over its REST API
// (POST /inference), uploading each clip as multipart/form-data and asking for
// the verbose JSON response so that per-span timings and the detected
// language probability are available. [Native] links whisper.cpp directly via
// its CGO bindings and runs inference in-process.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := c.Transcribe(ctx, "audio/chunks/1712345678901.wav", stt.DefaultConfig())
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/micscribe/pkg/provider/stt"
)

// maxErrorBody caps how much of a non-200 response body is quoted in errors.
const maxErrorBody = 512

// Compile-time assertion that Client implements stt.Transcriber.
var _ stt.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the default BCP-47 language code sent to the server when
// the per-call stt.Config leaves Language empty. Empty (the default) asks the
// server to auto-detect.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithServerVAD forwards stt.Config.VADFilter to the server's "vad" form
// field. whisper-server only honours it when started with a VAD model, so it
// is off by default.
func WithServerVAD(enabled bool) Option {
	return func(c *Client) {
		c.serverVAD = enabled
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It holds no per-request state and is safe for concurrent use.
type Client struct {
	serverURL  string
	model      string
	language   string
	serverVAD  bool
	httpClient *http.Client
}

// New creates a Client that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// verboseResponse is the subset of whisper-server's verbose_json body we use.
type verboseResponse struct {
	Text                        string           `json:"text"`
	Language                    string           `json:"language"`
	DetectedLanguage            string           `json:"detected_language"`
	DetectedLanguageProbability *float64         `json:"detected_language_probability"`
	Segments                    []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcribe uploads the clip at clipPath to the /inference endpoint and
// returns the recognised spans.
func (c *Client) Transcribe(ctx context.Context, clipPath string, cfg stt.Config) (stt.Result, error) {
	clip, err := os.ReadFile(clipPath)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read clip: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(clipPath))
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(clip); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = c.language
	}
	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(cfg.Temperature, 'f', -1, 64)},
		{"no_context", strconv.FormatBool(!cfg.ConditionOnPreviousText)},
	}
	if cfg.BeamSize > 1 {
		fields = append(fields, [2]string{"beam_size", strconv.Itoa(cfg.BeamSize)})
	}
	if lang != "" {
		fields = append(fields, [2]string{"language", lang})
	} else {
		fields = append(fields, [2]string{"language", "auto"})
	}
	if c.model != "" {
		fields = append(fields, [2]string{"model", c.model})
	}
	if c.serverVAD && cfg.VADFilter {
		fields = append(fields,
			[2]string{"vad", "true"},
			[2]string{"vad_min_silence_duration_ms", strconv.FormatInt(cfg.MinSilenceDuration.Milliseconds(), 10)},
		)
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return vr.result(lang), nil
}

// result converts the server response. Servers that ignore response_format
// reply with a bare {"text": ...}; that is surfaced as a single span.
func (vr verboseResponse) result(requested string) stt.Result {
	res := stt.Result{Language: vr.Language}
	if vr.DetectedLanguage != "" {
		res.Language = vr.DetectedLanguage
	}
	if res.Language == "" {
		res.Language = requested
	}
	switch {
	case vr.DetectedLanguageProbability != nil:
		res.LanguageProbability = *vr.DetectedLanguageProbability
	case requested != "":
		// A forced language is certain from the engine's point of view.
		res.LanguageProbability = 1
	}

	if len(vr.Segments) == 0 {
		if strings.TrimSpace(vr.Text) != "" {
			res.Spans = []stt.Span{{Text: vr.Text}}
		}
		return res
	}
	res.Spans = make([]stt.Span, 0, len(vr.Segments))
	for _, s := range vr.Segments {
		res.Spans = append(res.Spans, stt.Span{
			Text:  s.Text,
			Start: seconds(s.Start),
			End:   seconds(s.End),
		})
	}
	return res
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
