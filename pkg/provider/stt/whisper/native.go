// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/micscribe/pkg/audio"
	"github.com/MrWong99/micscribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber using whisper.cpp Go bindings (CGO). The
// model is loaded once and shared; every Transcribe call creates its own
// decoding context, so concurrent calls do not interfere.
//
// The bindings do not expose the language-detection probability. Native
// reports the mean token probability of the decoded text instead, which
// tracks the same "how sure is the engine" signal.
type Native struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the default language code used when the per-call
// stt.Config leaves Language empty. Empty selects auto-detection.
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeThreads sets the number of CPU threads per decode. Zero keeps the
// bindings' default.
func WithNativeThreads(threads uint) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{model: model}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe decodes the WAV clip at clipPath and runs in-process inference.
// whisper.cpp's Process call cannot be interrupted; ctx is checked before the
// decode starts and again before results are returned.
func (n *Native) Transcribe(ctx context.Context, clipPath string, cfg stt.Config) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}

	samples, rate, err := audio.ReadWAV(clipPath)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	samples = audio.ResampleMono(samples, rate, audio.DefaultSampleRate)

	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = n.language
	}
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if cfg.BeamSize > 1 {
		wctx.SetBeamSize(cfg.BeamSize)
	}
	wctx.SetTemperature(float32(cfg.Temperature))
	if !cfg.ConditionOnPreviousText {
		wctx.SetMaxContext(0)
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	res := stt.Result{Language: wctx.DetectedLanguage()}
	if res.Language == "" && lang != "auto" {
		res.Language = lang
	}

	var (
		probSum float64
		probN   int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		res.Spans = append(res.Spans, stt.Span{
			Text:  segment.Text,
			Start: segment.Start,
			End:   segment.End,
		})
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			probN++
		}
	}
	if probN > 0 {
		res.LanguageProbability = probSum / float64(probN)
	}

	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	return res, nil
}
