package audio

import "time"

// DefaultSampleRate is the capture rate expected by the segmentation and
// transcription stages (16 kHz mono).
const DefaultSampleRate = 16000

// FrameBlock is one block of single-channel float32 samples delivered by the
// audio device. A block is owned by exactly one party at a time: the device
// callback copies the driver's buffer into a fresh block before enqueueing it,
// after which only the consumer touches it.
type FrameBlock struct {
	// Samples are mono float32 samples in the range [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz of Samples.
	SampleRate int

	// CapturedAt is the wall-clock time the device delivered the block.
	CapturedAt time.Time
}

// Duration returns the playback length of the block.
func (b FrameBlock) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}
