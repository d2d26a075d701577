// Package stt defines the Transcriber interface for speech-to-text engines.
//
// A Transcriber turns one persisted audio clip into text. micscribe calls it
// once per segment, synchronously with respect to the dispatcher that owns the
// segment, so implementations should honour ctx for cancellation and
// deadlines: the dispatcher wraps every call in an explicit timeout and
// treats its expiry as a failed segment.
//
// Implementations must be safe for concurrent use; the dispatch pool may
// transcribe several clips at once.
package stt

import (
	"context"
	"strings"
	"time"
)

// Transcriber is the abstraction over any batch speech-to-text backend.
type Transcriber interface {
	// Transcribe recognises the speech in the WAV clip at clipPath using cfg.
	// An empty Result (no spans) is a valid outcome for silent clips.
	Transcribe(ctx context.Context, clipPath string, cfg Config) (Result, error)
}

// DefaultConfig returns the decoding parameters micscribe uses for segment
// clips: VAD filtering on, beam search with breadth 5, deterministic sampling,
// conditioning on prior text, and a 500 ms minimum silence gap.
func DefaultConfig() Config {
	return Config{
		VADFilter:               true,
		BeamSize:                5,
		Temperature:             0,
		ConditionOnPreviousText: true,
		MinSilenceDuration:      500 * time.Millisecond,
	}
}

// Text joins the trimmed text of every span with single spaces and trims the
// result. Spans that are empty after trimming are skipped.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Spans))
	for _, s := range r.Spans {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
