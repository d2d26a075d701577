// Package portaudio implements [audio.Device] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio. The PortAudio shared library
// and headers must be available at build time (CGO).
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/micscribe/pkg/audio"
)

// Compile-time assertion that Device satisfies audio.Device.
var _ audio.Device = (*Device)(nil)

// PortAudio must be initialised once per process before any stream is opened
// and terminated after the last one closes.
var (
	libMu   sync.Mutex
	libRefs int
)

func acquire() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	libRefs++
	return nil
}

func release() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		return nil
	}
	libRefs--
	if libRefs == 0 {
		return portaudio.Terminate()
	}
	return nil
}

// Device opens mono float32 input streams on a PortAudio host device.
type Device struct{}

// New returns a PortAudio-backed device.
func New() *Device { return &Device{} }

// Open opens an input stream matching cfg and registers cb as the PortAudio
// callback. cb is invoked on PortAudio's callback thread.
func (d *Device) Open(cfg audio.DeviceConfig, cb func(samples []float32)) (audio.Stream, error) {
	if cfg.Channels > 1 {
		return nil, fmt.Errorf("portaudio: only mono capture is supported, got %d channels", cfg.Channels)
	}
	if err := acquire(); err != nil {
		return nil, err
	}

	info, err := inputDevice(cfg.Name)
	if err != nil {
		_ = release()
		return nil, err
	}

	params := portaudio.HighLatencyParameters(info, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	if cfg.FramesPerBuffer > 0 {
		params.FramesPerBuffer = cfg.FramesPerBuffer
	}

	pas, err := portaudio.OpenStream(params, func(in []float32) { cb(in) })
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", info.Name, err)
	}
	return &stream{s: pas}, nil
}

// inputDevice resolves name to a PortAudio input device. Empty selects the
// host default.
func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return info, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: input device %q not found", name)
}

// stream adapts *portaudio.Stream to audio.Stream.
type stream struct {
	s    *portaudio.Stream
	once sync.Once
}

func (st *stream) Start() error {
	if err := st.s.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	return nil
}

// Close stops and closes the stream. Pa_StopStream waits for the callback to
// return, so no delivery happens after Close.
func (st *stream) Close() error {
	var errs []error
	st.once.Do(func() {
		if err := st.s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := st.s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		if err := release(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
		}
	})
	return errors.Join(errs...)
}
