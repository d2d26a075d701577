// Package eventlog persists micscribe events as newline-delimited JSON.
//
// The log is append-only: each [Event] is one flat JSON object on its own
// line, carrying at least "t" (epoch milliseconds) and "etype". Downstream
// consumers tail the file, so every append reaches stable storage before
// [Writer.Append] returns. Optional mirrors (see package pgmirror) receive a
// copy of every event; the file remains the source of truth.
package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Event types written by micscribe.
const (
	TypeSpeechFinal      = "speech.final"
	TypeSpeechError      = "speech.error"
	TypeRecordingStarted = "recording.started"
	TypeRecordingStopped = "recording.stopped"
)

// sourceAudio tags lifecycle events so consumers sharing the log can tell
// microphone-originated events apart.
const sourceAudio = "audio"

// Event is one log entry. Payload keys are written after "t" and "etype" in
// sorted order and must not reuse either name.
type Event struct {
	// T is the event time in epoch milliseconds.
	T int64

	// Type is the event kind, e.g. [TypeSpeechFinal].
	Type string

	// Payload holds the kind-specific fields.
	Payload map[string]any
}

// SpeechFinal builds a speech.final event for a transcribed clip.
func SpeechFinal(t int64, text string, confidence float64, audioFile string) Event {
	return Event{T: t, Type: TypeSpeechFinal, Payload: map[string]any{
		"text":       text,
		"confidence": confidence,
		"audio_file": audioFile,
	}}
}

// SpeechError builds a speech.error event for a clip whose transcription
// failed.
func SpeechError(t int64, err error, audioFile string) Event {
	return Event{T: t, Type: TypeSpeechError, Payload: map[string]any{
		"error":      err.Error(),
		"audio_file": audioFile,
	}}
}

// RecordingStarted builds a recording.started event.
func RecordingStarted(t time.Time) Event {
	return Event{T: t.UnixMilli(), Type: TypeRecordingStarted, Payload: map[string]any{"source": sourceAudio}}
}

// RecordingStopped builds a recording.stopped event.
func RecordingStopped(t time.Time) Event {
	return Event{T: t.UnixMilli(), Type: TypeRecordingStopped, Payload: map[string]any{"source": sourceAudio}}
}

// StringField returns the payload field key as a string, or "" when absent.
func (e Event) StringField(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// MarshalJSON encodes the event as a single flat object.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("eventlog: event type must not be empty")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"t":`)
	fmt.Fprintf(&buf, "%d", e.T)
	buf.WriteString(`,"etype":`)
	et, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(et)

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		if k == "t" || k == "etype" {
			return nil, fmt.Errorf("eventlog: payload key %q is reserved", k)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(e.Payload[k])
		if err != nil {
			return nil, fmt.Errorf("eventlog: marshal field %q: %w", k, err)
		}
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat object. "t" and "etype" are required.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tRaw, ok := raw["t"]
	if !ok {
		return errors.New("eventlog: missing field t")
	}
	var t float64
	if err := json.Unmarshal(tRaw, &t); err != nil {
		return fmt.Errorf("eventlog: field t: %w", err)
	}
	etRaw, ok := raw["etype"]
	if !ok {
		return errors.New("eventlog: missing field etype")
	}
	var et string
	if err := json.Unmarshal(etRaw, &et); err != nil {
		return fmt.Errorf("eventlog: field etype: %w", err)
	}
	delete(raw, "t")
	delete(raw, "etype")

	payload := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("eventlog: field %q: %w", k, err)
		}
		payload[k] = val
	}
	*e = Event{T: int64(t), Type: et, Payload: payload}
	return nil
}
