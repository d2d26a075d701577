package segment

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/micscribe/pkg/audio"
)

// Segment is an immutable cut of buffered audio.
type Segment struct {
	// Seq numbers segments of one accumulator run from 1.
	Seq uint64

	// Samples is mono 16-bit PCM at SampleRate. It is never modified after the
	// segment is created.
	Samples []int16

	// SampleRate of Samples in Hz.
	SampleRate int

	// CutAt is the wall-clock cut time, truncated to milliseconds and strictly
	// increasing within a run.
	CutAt time.Time

	// Trigger records why the segment was cut.
	Trigger Trigger
}

// TimestampMs returns the cut time in epoch milliseconds.
func (s Segment) TimestampMs() int64 { return s.CutAt.UnixMilli() }

// Duration returns the audio length of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Sink receives cut segments. Submit is called on the accumulator goroutine;
// the accumulator does not read the next audio until it returns. ctx is not
// cancelled when the run is stopped, so a segment already cut is always
// processed to completion.
type Sink interface {
	Submit(ctx context.Context, seg Segment)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, seg Segment)

// Submit calls f(ctx, seg).
func (f SinkFunc) Submit(ctx context.Context, seg Segment) { f(ctx, seg) }

// Option configures an [Accumulator].
type Option func(*Accumulator)

// WithClock replaces time.Now for cut timestamps and trigger evaluation.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

// WithOnCut registers fn to be called for every segment before it is
// submitted, e.g. to record metrics.
func WithOnCut(fn func(Segment)) Option {
	return func(a *Accumulator) { a.onCut = fn }
}

// Accumulator buffers audio from a [audio.FrameQueue] and cuts it according
// to its [Policy]. One Accumulator runs one recording; it is not safe to call
// Run concurrently on the same value.
type Accumulator struct {
	policy Policy
	now    func() time.Time
	onCut  func(Segment)

	seq    uint64
	lastMs int64
}

// New creates an Accumulator. The policy must be valid.
func New(p Policy, opts ...Option) (*Accumulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	a := &Accumulator{policy: p, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Policy returns the accumulator's policy.
func (a *Accumulator) Policy() Policy { return a.policy }

// Run consumes q until ctx is cancelled, handing every cut segment to sink.
// Each iteration takes at most one block, waiting up to one poll interval for
// it, then evaluates the policy, so a queued backlog is cut at the ceiling
// block by block. On cancellation the partially filled buffer is discarded
// and Run returns the number of samples dropped; no segment is cut once ctx
// is done.
func (a *Accumulator) Run(ctx context.Context, q *audio.FrameQueue, sink Sink) int {
	p := a.policy
	buf := make([]int16, 0, p.samplesFor(p.MaxDuration)+p.SampleRate/2)
	lastCut := a.now()
	sinkCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(p.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return discard(buf)
		case blk := <-q.C():
			buf = a.appendBlock(buf, blk)
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return discard(buf)
		}
		timer.Reset(p.PollInterval)

		now := a.now()
		trig := p.Evaluate(len(buf), now.Sub(lastCut))
		if trig == TriggerNone {
			continue
		}

		seg := a.cut(buf, now, trig)
		buf = make([]int16, 0, cap(buf))
		if a.onCut != nil {
			a.onCut(seg)
		}
		sink.Submit(sinkCtx, seg)
		lastCut = now
	}
}

func discard(buf []int16) int {
	if len(buf) > 0 {
		slog.Debug("segment: discarding partial buffer", "samples", len(buf))
	}
	return len(buf)
}

// appendBlock converts blk to PCM at the policy rate and appends it.
func (a *Accumulator) appendBlock(buf []int16, blk audio.FrameBlock) []int16 {
	samples := blk.Samples
	if blk.SampleRate > 0 && blk.SampleRate != a.policy.SampleRate {
		samples = audio.ResampleMono(samples, blk.SampleRate, a.policy.SampleRate)
	}
	return audio.FloatToPCM16(buf, samples)
}

// cut freezes buf into a Segment with a strictly increasing millisecond
// timestamp.
func (a *Accumulator) cut(buf []int16, now time.Time, trig Trigger) Segment {
	ms := now.UnixMilli()
	if ms <= a.lastMs {
		ms = a.lastMs + 1
	}
	a.lastMs = ms
	a.seq++
	return Segment{
		Seq:        a.seq,
		Samples:    buf,
		SampleRate: a.policy.SampleRate,
		CutAt:      time.UnixMilli(ms),
		Trigger:    trig,
	}
}
