// Package recorder owns the start/stop lifecycle of a microphone recording.
//
// A [Controller] ties together the capture [audio.Source], the frame queue,
// the [segment.Accumulator] goroutine and the dispatch stage. It has two
// states, idle and recording, and every transition appends a lifecycle event
// to the event log. All exported methods are safe for concurrent use.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/micscribe/internal/dispatch"
	"github.com/MrWong99/micscribe/internal/eventlog"
	"github.com/MrWong99/micscribe/internal/observe"
	"github.com/MrWong99/micscribe/internal/segment"
	"github.com/MrWong99/micscribe/internal/session"
	"github.com/MrWong99/micscribe/pkg/audio"
)

var (
	// ErrAlreadyActive is returned by [Controller.Start] while recording.
	ErrAlreadyActive = errors.New("recorder: recording already active")

	// ErrNotActive is returned by [Controller.Stop] while idle.
	ErrNotActive = errors.New("recorder: recording not active")
)

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle is the initial state: the gate is closed and no audio flows.
	StateIdle State = iota

	// StateRecording means the device is open and segments are being cut.
	StateRecording
)

// String returns "idle" or "recording".
func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Config holds the dependencies of a [Controller].
type Config struct {
	// Device is the capture device. Required.
	Device audio.Device

	// DeviceConfig selects the input device and block size.
	DeviceConfig audio.DeviceConfig

	// QueueSize is the frame queue capacity in blocks.
	QueueSize int

	// Policy is the initial segmentation policy. Zero selects
	// [segment.DefaultPolicy].
	Policy segment.Policy

	// Dispatcher handles cut segments. Required.
	Dispatcher *dispatch.Dispatcher

	// Workers > 1 dispatches through an ordered [dispatch.Pool].
	Workers int

	// Events receives lifecycle events. Required.
	Events eventlog.Sink

	// Session describes the directory being recorded into. Required.
	Session *session.Session

	// Metrics is optional.
	Metrics *observe.Metrics

	// Now replaces time.Now for lifecycle events and segment timestamps.
	Now func() time.Time
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State
	Recording  bool
	SessionDir string
	AudioDir   string
	EventsPath string

	// Since is when the current recording started; zero while idle.
	Since time.Time

	// Segments counts segments cut in the current or last recording.
	Segments uint64

	// DroppedFrames counts blocks lost to a full queue since process start.
	DroppedFrames uint64
}

// run is the state of one recording.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	pool   *dispatch.Pool
	since  time.Time
}

// Controller is the recording state machine.
type Controller struct {
	// mu serialises Start and Stop.
	mu  sync.Mutex
	cur *run

	recording atomic.Bool
	since     atomic.Int64 // unix nanoseconds of the running recording's start
	segments  atomic.Uint64
	policy    atomic.Pointer[segment.Policy]

	gate       audio.Gate
	queue      *audio.FrameQueue
	source     *audio.Source
	dispatcher *dispatch.Dispatcher
	workers    int
	events     eventlog.Sink
	sess       *session.Session
	metrics    *observe.Metrics
	now        func() time.Time
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, errors.New("device is required"))
	}
	if cfg.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher is required"))
	}
	if cfg.Events == nil {
		errs = append(errs, errors.New("event sink is required"))
	}
	if cfg.Session == nil {
		errs = append(errs, errors.New("session is required"))
	}
	if cfg.Policy == (segment.Policy{}) {
		cfg.Policy = segment.DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("recorder: invalid config: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DeviceConfig.SampleRate <= 0 {
		cfg.DeviceConfig.SampleRate = cfg.Policy.SampleRate
	}

	c := &Controller{
		queue:      audio.NewFrameQueue(cfg.QueueSize),
		dispatcher: cfg.Dispatcher,
		workers:    cfg.Workers,
		events:     cfg.Events,
		sess:       cfg.Session,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
	c.source = audio.NewSource(cfg.Device, cfg.DeviceConfig, c.queue, &c.gate)
	c.policy.Store(&cfg.Policy)
	if c.metrics != nil {
		met := c.metrics
		c.queue.OnDrop(func() { met.FramesDropped.Add(context.Background(), 1) })
	}
	return c, nil
}

// SetPolicy stages p for the next Start. The running recording keeps its
// policy.
func (c *Controller) SetPolicy(p segment.Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	c.policy.Store(&p)
	return nil
}

// Policy returns the staged segmentation policy.
func (c *Controller) Policy() segment.Policy { return *c.policy.Load() }

// Start opens the device and begins segmenting. It returns
// [ErrAlreadyActive] without side effects while a recording is running. If
// the device cannot be opened the controller stays idle and the device error
// is returned wrapped.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return ErrAlreadyActive
	}

	acc, err := segment.New(c.Policy(),
		segment.WithClock(c.now),
		segment.WithOnCut(c.onCut),
	)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	if n := c.queue.Reset(); n > 0 {
		slog.Debug("recorder: discarded stale frames", "blocks", n)
	}
	c.gate.Open()
	if err := c.source.Start(); err != nil {
		c.gate.Close()
		c.queue.Reset()
		return fmt.Errorf("recorder: start capture: %w", err)
	}

	since := c.now()
	c.appendEvent(ctx, eventlog.RecordingStarted(since))

	var sink segment.Sink = c.dispatcher
	var pool *dispatch.Pool
	if c.workers > 1 {
		pool = dispatch.NewPool(c.dispatcher, c.workers)
		sink = pool
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{}), pool: pool, since: since}
	c.segments.Store(0)
	go func() {
		defer close(r.done)
		if dropped := acc.Run(runCtx, c.queue, sink); dropped > 0 {
			slog.Info("recorder: discarded partial segment", "samples", dropped)
		}
	}()

	c.cur = r
	c.since.Store(since.UnixNano())
	c.recording.Store(true)
	if c.metrics != nil {
		c.metrics.RecordingActive.Add(ctx, 1)
	}
	slog.Info("recording started", "session_dir", c.sess.Dir, "policy_max", c.Policy().MaxDuration, "workers", max(c.workers, 1))
	return nil
}

// Stop closes the device, discards the partially filled segment and waits
// for any segment already cut to be dispatched. It returns [ErrNotActive]
// while idle. If the device cannot be closed the controller stays
// recording, with the gate reopened, and the wrapped error is returned so
// that Stop can be retried.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNotActive
	}
	r := c.cur

	c.gate.Close()
	if err := c.source.Stop(); err != nil {
		c.gate.Open()
		return fmt.Errorf("recorder: stop capture: %w", err)
	}

	r.cancel()
	<-r.done
	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			slog.Warn("recorder: dispatch pool close error", "err", err)
		}
	}
	c.queue.Reset()

	c.cur = nil
	c.recording.Store(false)
	c.since.Store(0)
	if c.metrics != nil {
		c.metrics.RecordingActive.Add(ctx, -1)
	}
	c.appendEvent(ctx, eventlog.RecordingStopped(c.now()))
	slog.Info("recording stopped", "session_dir", c.sess.Dir, "segments", c.segments.Load(), "duration", c.now().Sub(r.since).Round(time.Millisecond))
	return nil
}

// Recording reports whether a recording is running.
func (c *Controller) Recording() bool { return c.recording.Load() }

// Status returns the current state. It has no side effects and never blocks
// on a transition in progress.
func (c *Controller) Status() Status {
	st := Status{
		Recording:     c.recording.Load(),
		SessionDir:    c.sess.Dir,
		AudioDir:      c.sess.AudioDir,
		EventsPath:    c.sess.EventsPath,
		Segments:      c.segments.Load(),
		DroppedFrames: c.queue.Dropped(),
	}
	if st.Recording {
		st.State = StateRecording
		if ns := c.since.Load(); ns != 0 {
			st.Since = time.Unix(0, ns)
		}
	}
	return st
}

// Shutdown stops a running recording, if any.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrNotActive) {
		return err
	}
	return nil
}

func (c *Controller) onCut(seg segment.Segment) {
	c.segments.Add(1)
	slog.Debug("segment cut", "seq", seg.Seq, "trigger", seg.Trigger, "duration", seg.Duration())
	if c.metrics != nil {
		c.metrics.RecordSegmentCut(context.Background(), seg.Trigger.String(), seg.Duration().Seconds())
	}
}

func (c *Controller) appendEvent(ctx context.Context, ev eventlog.Event) {
	if err := c.events.Append(ctx, ev); err != nil {
		slog.Error("recorder: append lifecycle event failed", "etype", ev.Type, "err", err)
	}
}
