package stt

import "time"

// Span is one contiguous piece of recognised text within a clip.
type Span struct {
	// Text is the recognised text. It may carry leading or trailing whitespace
	// as emitted by the engine.
	Text string

	// Start and End are offsets relative to the beginning of the clip.
	Start time.Duration
	End   time.Duration
}

// Result is the outcome of transcribing a single clip.
type Result struct {
	// Spans holds the recognised text pieces in clip order. It may be empty
	// when the engine's voice-activity filter finds no speech.
	Spans []Span

	// Language is the detected or forced language code (e.g. "en").
	Language string

	// LanguageProbability is the engine's confidence in Language (0.0–1.0).
	// micscribe reports it as the confidence of a speech.final event.
	LanguageProbability float64
}

// Config carries the decoding parameters passed to every Transcribe call.
type Config struct {
	// Language is a BCP-47 language code. Empty lets the engine auto-detect.
	Language string

	// VADFilter enables the engine's voice-activity filter so non-speech
	// stretches inside a clip are skipped.
	VADFilter bool

	// BeamSize is the beam-search breadth. Zero or one selects greedy decoding.
	BeamSize int

	// Temperature is the sampling temperature; 0 is deterministic.
	Temperature float64

	// ConditionOnPreviousText feeds previously decoded text back as a prompt.
	ConditionOnPreviousText bool

	// MinSilenceDuration is the shortest gap the VAD filter treats as a break.
	MinSilenceDuration time.Duration
}
