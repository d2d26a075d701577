package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// bitsPerSample is fixed at 16 for the PCM clips micscribe writes.
	bitsPerSample = 16

	// wavFormatPCM is the RIFF audio format tag for uncompressed PCM.
	wavFormatPCM = 1
)

// WriteWAV encodes mono 16-bit samples at sampleRate as a RIFF/WAV file at
// path. The clip is written to a temporary file in the same directory and
// renamed into place, so readers never observe a half-written clip.
func WriteWAV(path string, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audio: create clip directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".clip-*.wav.tmp")
	if err != nil {
		return fmt.Errorf("audio: create temp clip: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitsPerSample,
	}

	enc := wav.NewEncoder(tmp, sampleRate, bitsPerSample, 1, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalise wav: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("audio: sync clip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("audio: close clip: %w", err)
	}
	tmp = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("audio: rename clip: %w", err)
	}
	return nil
}

// ReadWAV decodes a 16-bit PCM WAV file and returns its samples down-mixed to
// mono float32 in [-1.0, 1.0], together with the file's sample rate.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if dec.BitDepth != bitsPerSample {
		return nil, 0, fmt.Errorf("audio: unsupported bit depth %d", dec.BitDepth)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum int
		for ch := range channels {
			sum += buf.Data[i*channels+ch]
		}
		mono[i] = float32(sum) / float32(channels) / 32768.0
	}
	return mono, int(dec.SampleRate), nil
}
