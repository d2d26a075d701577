// Package dispatch turns cut segments into persisted clips and transcription
// events.
//
// A [Dispatcher] handles one segment at a time: it writes the clip, asks the
// configured [stt.Transcriber] for text, and appends the outcome to the event
// log. A [Pool] runs the transcription step concurrently while keeping clip
// writes and event commits in segment order.
package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/micscribe/internal/eventlog"
	"github.com/MrWong99/micscribe/internal/observe"
	"github.com/MrWong99/micscribe/internal/segment"
	"github.com/MrWong99/micscribe/internal/vocab"
	"github.com/MrWong99/micscribe/pkg/audio"
	"github.com/MrWong99/micscribe/pkg/provider/stt"
)

// DefaultTimeout bounds a single transcription call.
const DefaultTimeout = 60 * time.Second

// Status is the outcome of dispatching one segment.
type Status string

const (
	// StatusFinal means a speech.final event was produced.
	StatusFinal Status = observe.DispatchFinal

	// StatusEmpty means the engine returned no text and no event was produced.
	StatusEmpty Status = observe.DispatchEmpty

	// StatusError means transcription failed and a speech.error event was
	// produced.
	StatusError Status = observe.DispatchError

	// StatusClipError means the clip could not be written; the segment is
	// dropped without an event.
	StatusClipError Status = observe.DispatchClipError
)

// Result describes what happened to one segment.
type Result struct {
	Seq      uint64
	Status   Status
	ClipPath string

	// Event is the event to append, or nil for StatusEmpty and
	// StatusClipError.
	Event *eventlog.Event

	// Err is the clip or transcription error, if any.
	Err error
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTimeout overrides [DefaultTimeout]. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithConfig overrides the engine configuration sent with every clip.
func WithConfig(cfg stt.Config) Option {
	return func(ds *Dispatcher) { ds.cfg = cfg }
}

// WithMetrics records dispatch outcomes and latencies on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(ds *Dispatcher) { ds.metrics = m }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(ds *Dispatcher) { ds.provider = name }
}

// WithCorrector rewrites vocabulary near-misses in final text with c.
func WithCorrector(c *vocab.Corrector) Option {
	return func(ds *Dispatcher) { ds.corrector = c }
}

// Dispatcher writes clips into a directory, transcribes them, and appends the
// resulting events to a sink. It is safe for concurrent use as long as the
// underlying transcriber and sink are.
type Dispatcher struct {
	clipDir     string
	transcriber stt.Transcriber
	sink        eventlog.Sink
	cfg         stt.Config
	timeout     time.Duration
	provider    string
	metrics     *observe.Metrics
	corrector   *vocab.Corrector
}

// New creates a Dispatcher writing clips to clipDir.
func New(clipDir string, t stt.Transcriber, sink eventlog.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clipDir:     clipDir,
		transcriber: t,
		sink:        sink,
		cfg:         stt.DefaultConfig(),
		timeout:     DefaultTimeout,
		provider:    "stt",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ClipPath returns the clip path for a segment cut at ms.
func (d *Dispatcher) ClipPath(ms int64) string {
	return filepath.Join(d.clipDir, strconv.FormatInt(ms, 10)+".wav")
}

// Submit dispatches seg synchronously. It implements [segment.Sink].
func (d *Dispatcher) Submit(ctx context.Context, seg segment.Segment) {
	d.Dispatch(ctx, seg)
}

// Dispatch writes, transcribes and commits seg. Failures are logged, counted
// and reported in the returned Result; they never abort the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, seg segment.Segment) Result {
	res, ok := d.writeClip(ctx, seg)
	if !ok {
		d.commit(ctx, res)
		return res
	}
	res = d.transcribe(ctx, seg, res.ClipPath)
	d.commit(ctx, res)
	return res
}

// writeClip persists seg as a WAV clip. A failure is recorded by the
// caller's commit.
func (d *Dispatcher) writeClip(ctx context.Context, seg segment.Segment) (Result, bool) {
	res := Result{Seq: seg.Seq, ClipPath: d.ClipPath(seg.TimestampMs())}
	if err := audio.WriteWAV(res.ClipPath, seg.Samples, seg.SampleRate); err != nil {
		observe.Logger(ctx).Error("dispatch: write clip failed", "clip", res.ClipPath, "err", err)
		res.Status = StatusClipError
		res.Err = err
		return res, false
	}
	return res, true
}

// transcribe runs the engine on an already written clip and builds the
// resulting event without appending it.
func (d *Dispatcher) transcribe(ctx context.Context, seg segment.Segment, clipPath string) Result {
	res := Result{Seq: seg.Seq, ClipPath: clipPath}

	ctx, span := observe.StartSpan(ctx, "dispatch.transcribe",
		trace.WithAttributes(
			attribute.String("clip", clipPath),
			attribute.String("provider", d.provider),
			attribute.Int64("seq", int64(seg.Seq)),
		))
	defer span.End()

	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	out, err := d.transcriber.Transcribe(tctx, clipPath, d.cfg)
	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.TranscriptionDuration.Record(ctx, elapsed.Seconds())
	}

	if err != nil {
		err = fmt.Errorf("dispatch: transcribe %s: %w", filepath.Base(clipPath), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Error("dispatch: transcription failed", "clip", clipPath, "elapsed", elapsed, "err", err)
		if d.metrics != nil {
			d.metrics.RecordProviderRequest(ctx, d.provider, "error")
			d.metrics.RecordProviderError(ctx, d.provider)
		}
		ev := eventlog.SpeechError(seg.TimestampMs(), err, clipPath)
		res.Status = StatusError
		res.Event = &ev
		res.Err = err
		return res
	}
	if d.metrics != nil {
		d.metrics.RecordProviderRequest(ctx, d.provider, "ok")
	}

	text := out.Text()
	if text == "" {
		observe.Logger(ctx).Debug("dispatch: no speech in clip", "clip", clipPath)
		res.Status = StatusEmpty
		return res
	}
	if d.corrector != nil {
		var fixes []vocab.Correction
		text, fixes = d.corrector.Correct(text)
		for _, f := range fixes {
			observe.Logger(ctx).Debug("dispatch: vocabulary correction",
				"clip", clipPath, "from", f.Original, "to", f.Corrected, "score", f.Score)
		}
	}
	observe.Logger(ctx).Info("dispatch: transcribed", "clip", clipPath, "chars", len(text), "elapsed", elapsed)
	ev := eventlog.SpeechFinal(seg.TimestampMs(), text, out.LanguageProbability, clipPath)
	res.Status = StatusFinal
	res.Event = &ev
	return res
}

// commit appends the result's event, if any, and records the outcome.
func (d *Dispatcher) commit(ctx context.Context, res Result) {
	d.recordStatus(ctx, res.Status)
	if res.Event == nil {
		return
	}
	if err := d.sink.Append(ctx, *res.Event); err != nil {
		observe.Logger(ctx).Error("dispatch: append event failed", "etype", res.Event.Type, "clip", res.ClipPath, "err", err)
	}
}

func (d *Dispatcher) recordStatus(ctx context.Context, s Status) {
	if d.metrics != nil {
		d.metrics.RecordDispatch(ctx, string(s))
	}
}

var _ segment.Sink = (*Dispatcher)(nil)
