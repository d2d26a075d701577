// Package segment turns the continuous stream of captured audio blocks into
// discrete, speech-sized segments.
//
// A single [Accumulator] goroutine drains the frame queue into a private PCM
// buffer and asks its [Policy] after every wait whether the buffer should be
// cut. Two triggers exist: the buffer exceeding the maximum duration, or the
// time since the previous cut exceeding the silence timeout while the buffer
// holds at least the minimum duration. Every cut is handed to a [Sink]
// synchronously, on the accumulator goroutine.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/micscribe/pkg/audio"
)

// Trigger identifies why a buffer was cut.
type Trigger int

const (
	// TriggerNone means the buffer should keep growing.
	TriggerNone Trigger = iota

	// TriggerMaxDuration means the buffer exceeded [Policy.MaxDuration].
	TriggerMaxDuration

	// TriggerSilenceTimeout means [Policy.SilenceTimeout] elapsed since the
	// previous cut and the buffer exceeded [Policy.MinDuration].
	TriggerSilenceTimeout
)

// String returns the metric label for t.
func (t Trigger) String() string {
	switch t {
	case TriggerMaxDuration:
		return "max_duration"
	case TriggerSilenceTimeout:
		return "silence_timeout"
	default:
		return "none"
	}
}

// Policy holds the cut parameters.
type Policy struct {
	// SampleRate of the buffered PCM in Hz.
	SampleRate int

	// MaxDuration forces a cut once the buffer holds more audio than this.
	MaxDuration time.Duration

	// MinDuration is the least audio a silence-timeout cut may carry.
	MinDuration time.Duration

	// SilenceTimeout is the wall-clock time since the previous cut after which
	// a buffer above MinDuration is cut.
	SilenceTimeout time.Duration

	// PollInterval bounds how long the accumulator waits for new audio before
	// re-evaluating the policy.
	PollInterval time.Duration
}

// DefaultPolicy returns the 16 kHz policy: 3 s maximum, 0.5 s minimum, 2 s
// silence timeout, 100 ms poll interval.
func DefaultPolicy() Policy {
	return Policy{
		SampleRate:     audio.DefaultSampleRate,
		MaxDuration:    3 * time.Second,
		MinDuration:    500 * time.Millisecond,
		SilenceTimeout: 2 * time.Second,
		PollInterval:   100 * time.Millisecond,
	}
}

// Validate reports every invalid field, joined.
func (p Policy) Validate() error {
	var errs []error
	if p.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("segment: sample rate must be positive, got %d", p.SampleRate))
	}
	if p.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("segment: max duration must be positive, got %s", p.MaxDuration))
	}
	if p.MinDuration <= 0 {
		errs = append(errs, fmt.Errorf("segment: min duration must be positive, got %s", p.MinDuration))
	}
	if p.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("segment: silence timeout must be positive, got %s", p.SilenceTimeout))
	}
	if p.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("segment: poll interval must be positive, got %s", p.PollInterval))
	}
	if p.MinDuration > 0 && p.MaxDuration > 0 && p.MinDuration >= p.MaxDuration {
		errs = append(errs, fmt.Errorf("segment: min duration %s must be below max duration %s", p.MinDuration, p.MaxDuration))
	}
	return errors.Join(errs...)
}

// samplesFor converts a duration to a sample count at the policy's rate.
func (p Policy) samplesFor(d time.Duration) int {
	return int(int64(p.SampleRate) * int64(d) / int64(time.Second))
}

// Evaluate reports which trigger, if any, fires for a buffer of the given
// number of samples when sinceLastCut has elapsed since the previous cut.
// The max-duration trigger wins when both apply.
func (p Policy) Evaluate(samples int, sinceLastCut time.Duration) Trigger {
	if samples > p.samplesFor(p.MaxDuration) {
		return TriggerMaxDuration
	}
	if sinceLastCut > p.SilenceTimeout && samples > p.samplesFor(p.MinDuration) {
		return TriggerSilenceTimeout
	}
	return TriggerNone
}

// ShouldCut reports whether either trigger fires.
func (p Policy) ShouldCut(samples int, sinceLastCut time.Duration) bool {
	return p.Evaluate(samples, sinceLastCut) != TriggerNone
}
