// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to verify which clips the caller submits and with which
// decoding parameters, and to script results, errors, or slow responses.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Result: stt.Result{Spans: []stt.Span{{Text: "hello"}}, LanguageProbability: 0.9},
//	}
//	res, _ := tr.Transcribe(ctx, "clip.wav", stt.DefaultConfig())
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/micscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// ClipPath is the clip path passed to Transcribe.
	ClipPath string
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil and Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, replaces the canned Result/Err. It is called
	// without the mock's lock held, so it may block on ctx.
	TranscribeFunc func(ctx context.Context, clipPath string, cfg stt.Config) (stt.Result, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the scripted outcome.
func (m *Transcriber) Transcribe(ctx context.Context, clipPath string, cfg stt.Config) (stt.Result, error) {
	m.mu.Lock()
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{ClipPath: clipPath, Cfg: cfg})
	fn, res, err := m.TranscribeFunc, m.Result, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, clipPath, cfg)
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TranscribeCalls)
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.TranscribeCalls))
	copy(out, m.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
