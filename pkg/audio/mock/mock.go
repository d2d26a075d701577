// Package mock provides an in-memory [audio.Device] for unit tests.
//
// The mock never spawns a driver thread: tests feed audio by calling
// [Device.Emit], which invokes the registered callback synchronously the same
// way a real driver would from its own thread.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	src := audio.NewSource(dev, audio.DeviceConfig{}, queue, gate)
//	_ = src.Start()
//	dev.Emit(make([]float32, 1600))
package mock

import (
	"sync"

	"github.com/MrWong99/micscribe/pkg/audio"
)

// OpenCall records a single invocation of Device.Open.
type OpenCall struct {
	Cfg audio.DeviceConfig
}

// Device is a mock implementation of [audio.Device]. Set the exported error
// fields before use; inspect the call records after. Safe for concurrent use.
type Device struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// StartErr, if non-nil, is returned by Stream.Start.
	StartErr error

	// CloseErr, if non-nil, is returned by Stream.Close.
	CloseErr error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall

	// CloseCount is the number of times a stream returned by Open was closed.
	CloseCount int

	cb      func([]float32)
	running bool
}

// Open records the call and returns a stream bound to cb.
func (d *Device) Open(cfg audio.DeviceConfig, cb func(samples []float32)) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Cfg: cfg})
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.cb = cb
	return &stream{d: d}, nil
}

// Emit delivers samples to the callback of the running stream, if any.
// It reports whether a running stream received the block.
func (d *Device) Emit(samples []float32) bool {
	d.mu.Lock()
	cb, running := d.cb, d.running
	d.mu.Unlock()
	if !running || cb == nil {
		return false
	}
	cb(samples)
	return true
}

// EmitUnconditionally invokes the last registered callback even when the
// stream is stopped, emulating a driver that fires once more before it fully
// closes.
func (d *Device) EmitUnconditionally(samples []float32) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

// Running reports whether a stream is started and not yet closed.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// OpenCallCount returns the number of Open calls. Thread-safe.
func (d *Device) OpenCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// CloseCallCount returns the number of stream Close calls. Thread-safe.
func (d *Device) CloseCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCount
}

type stream struct {
	d *Device
}

func (s *stream) Start() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.d.StartErr != nil {
		return s.d.StartErr
	}
	s.d.running = true
	return nil
}

func (s *stream) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.CloseCount++
	s.d.running = false
	return s.d.CloseErr
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)
