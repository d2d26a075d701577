// Package openai provides a transcriber backed by the OpenAI audio
// transcription API (or any server that mirrors it, e.g. a faster-whisper
// deployment behind an OpenAI-compatible gateway).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/micscribe/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI Transcriber.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Transcriber{client: oai.NewClient(reqOpts...), model: model}, nil
}

// verboseBody is the part of a verbose_json transcription the SDK's
// Transcription type does not model.
type verboseBody struct {
	Language string `json:"language"`
	Segments []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe implements stt.Transcriber. Beam size, VAD filtering, and
// previous-text conditioning are engine-side settings the hosted API does not
// expose; only Language and Temperature are forwarded.
func (t *Transcriber) Transcribe(ctx context.Context, clipPath string, cfg stt.Config) (stt.Result, error) {
	f, err := os.Open(clipPath)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: open clip: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:           f,
		Model:          t.model,
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		Temperature:    oai.Float(cfg.Temperature),
	}
	if cfg.Language != "" {
		params.Language = oai.String(cfg.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return parseVerbose(resp.Text, resp.RawJSON(), cfg.Language), nil
}

// parseVerbose builds a Result from the raw verbose_json body. The API does
// not report a language probability, so the mean per-segment average
// log-probability is mapped back to a probability instead.
func parseVerbose(text, raw, requested string) stt.Result {
	res := stt.Result{Language: requested}

	var vb verboseBody
	if raw == "" || json.Unmarshal([]byte(raw), &vb) != nil {
		if text != "" {
			res.Spans = []stt.Span{{Text: text}}
		}
		return res
	}
	if vb.Language != "" {
		res.Language = vb.Language
	}
	if len(vb.Segments) == 0 {
		if text != "" {
			res.Spans = []stt.Span{{Text: text}}
		}
		return res
	}

	var sum float64
	for _, s := range vb.Segments {
		res.Spans = append(res.Spans, stt.Span{
			Text:  s.Text,
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
		})
		sum += s.AvgLogprob
	}
	res.LanguageProbability = math.Exp(sum / float64(len(vb.Segments)))
	return res
}
