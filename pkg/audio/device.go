// Package audio defines the capture side of the micscribe pipeline: the
// [Device] seam over the host audio subsystem, the [Source] that gates device
// callbacks into a [FrameQueue], and the PCM/WAV helpers used when segments
// are persisted.
//
// A [Device] opens an input stream and invokes a callback on the audio
// subsystem's own thread whenever a block of samples is ready. A [Source]
// owns one open stream at a time and copies every delivered block into the
// queue while its [Gate] is open.
//
// Platform-specific devices live in sub-packages (e.g., audio/portaudio).
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSourceActive is returned by [Source.Start] when the source already
	// has an open stream.
	ErrSourceActive = errors.New("audio: source already active")

	// ErrSourceInactive is returned by [Source.Stop] when no stream is open.
	ErrSourceInactive = errors.New("audio: source not active")
)

// DeviceConfig describes the input stream a [Device] should open.
type DeviceConfig struct {
	// Name selects an input device by name. Empty selects the host default.
	Name string

	// SampleRate in Hz. Defaults to [DefaultSampleRate].
	SampleRate int

	// Channels is always 1 for micscribe; devices may reject other values.
	Channels int

	// FramesPerBuffer is the block size the driver delivers per callback.
	// Zero lets the driver choose.
	FramesPerBuffer int
}

// Stream is an open input stream returned by [Device.Open].
type Stream interface {
	// Start begins delivering blocks to the registered callback.
	Start() error

	// Close stops the stream and releases the device. After Close returns the
	// callback is never invoked again.
	Close() error
}

// Device opens input streams on the host audio subsystem. The callback is
// invoked on a thread owned by the audio subsystem; it must not block and must
// not retain samples after returning.
type Device interface {
	Open(cfg DeviceConfig, cb func(samples []float32)) (Stream, error)
}

// Gate is a cross-goroutine on/off flag with acquire/release semantics. The
// device callback reads it on every delivery; only the lifecycle owner
// writes it.
type Gate struct {
	open atomic.Bool
}

// Open lets deliveries through.
func (g *Gate) Open() { g.open.Store(true) }

// Close makes subsequent deliveries drop.
func (g *Gate) Close() { g.open.Store(false) }

// IsOpen reports the current gate state.
func (g *Gate) IsOpen() bool { return g.open.Load() }

// Source wraps a [Device] and pushes copies of delivered blocks into a
// [FrameQueue] while its [Gate] is open. All methods are safe for concurrent
// use.
type Source struct {
	device Device
	cfg    DeviceConfig
	queue  *FrameQueue
	gate   *Gate
	now    func() time.Time

	mu     sync.Mutex
	stream Stream
}

// NewSource creates a Source reading from device into queue, gated by gate.
// Zero fields in cfg are replaced with the 16 kHz mono defaults.
func NewSource(device Device, cfg DeviceConfig, queue *FrameQueue, gate *Gate) *Source {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Source{
		device: device,
		cfg:    cfg,
		queue:  queue,
		gate:   gate,
		now:    time.Now,
	}
}

// Config returns the effective device configuration.
func (s *Source) Config() DeviceConfig { return s.cfg }

// Start opens and starts the device stream. It returns [ErrSourceActive]
// without side effects if a stream is already open.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return ErrSourceActive
	}

	stream, err := s.device.Open(s.cfg, s.deliver)
	if err != nil {
		return fmt.Errorf("audio: open device: %w", err)
	}
	if err := stream.Start(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("audio: close after failed start", "err", cerr)
		}
		return fmt.Errorf("audio: start stream: %w", err)
	}
	s.stream = stream
	slog.Debug("audio source started", "device", s.cfg.Name, "sample_rate", s.cfg.SampleRate)
	return nil
}

// Stop closes the device stream. It returns [ErrSourceInactive] if no stream
// is open. When Close fails the stream stays held so that Stop can be
// retried.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return ErrSourceInactive
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("audio: close stream: %w", err)
	}
	s.stream = nil
	slog.Debug("audio source stopped", "device", s.cfg.Name)
	return nil
}

// Active reports whether a stream is currently open.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// deliver is the device callback. The driver reuses its buffer between
// invocations, so samples are copied before enqueueing.
func (s *Source) deliver(samples []float32) {
	if !s.gate.IsOpen() || len(samples) == 0 {
		return
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.queue.Push(FrameBlock{
		Samples:    cp,
		SampleRate: s.cfg.SampleRate,
		CapturedAt: s.now(),
	})
}
