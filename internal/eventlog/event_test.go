package eventlog_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/micscribe/internal/eventlog"
)

func TestEvent_MarshalFlatOrdered(t *testing.T) {
	tests := []struct {
		name string
		ev   eventlog.Event
		want string
	}{
		{
			name: "speech.final",
			ev:   eventlog.SpeechFinal(1712345678901, "hello world", 0.87, "audio/chunks/1712345678901.wav"),
			want: `{"t":1712345678901,"etype":"speech.final","audio_file":"audio/chunks/1712345678901.wav","confidence":0.87,"text":"hello world"}`,
		},
		{
			name: "speech.error",
			ev:   eventlog.SpeechError(5, errors.New("timeout"), "audio/chunks/5.wav"),
			want: `{"t":5,"etype":"speech.error","audio_file":"audio/chunks/5.wav","error":"timeout"}`,
		},
		{
			name: "recording.started",
			ev:   eventlog.RecordingStarted(time.UnixMilli(42)),
			want: `{"t":42,"etype":"recording.started","source":"audio"}`,
		},
		{
			name: "recording.stopped",
			ev:   eventlog.RecordingStopped(time.UnixMilli(43)),
			want: `{"t":43,"etype":"recording.stopped","source":"audio"}`,
		},
		{
			name: "no payload",
			ev:   eventlog.Event{T: 1, Type: "custom"},
			want: `{"t":1,"etype":"custom"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestEvent_MarshalRejectsInvalid(t *testing.T) {
	if _, err := json.Marshal(eventlog.Event{T: 1}); err == nil {
		t.Error("expected error for empty type")
	}
	if _, err := json.Marshal(eventlog.Event{T: 1, Type: "x", Payload: map[string]any{"etype": "y"}}); err == nil {
		t.Error("expected error for reserved payload key")
	}
}

func TestEvent_Unmarshal(t *testing.T) {
	var ev eventlog.Event
	err := json.Unmarshal([]byte(`{"t":1712345678901,"etype":"speech.final","text":"hi","confidence":0.5}`), &ev)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ev.T != 1712345678901 || ev.Type != eventlog.TypeSpeechFinal {
		t.Errorf("header = %d/%q", ev.T, ev.Type)
	}
	if ev.StringField("text") != "hi" {
		t.Errorf("text = %q", ev.StringField("text"))
	}
	if ev.Payload["confidence"] != 0.5 {
		t.Errorf("confidence = %v", ev.Payload["confidence"])
	}
	if _, ok := ev.Payload["t"]; ok {
		t.Error("t leaked into payload")
	}

	for _, bad := range []string{`{"etype":"x"}`, `{"t":1}`, `{"t":"x","etype":"y"}`, `[1]`} {
		if err := json.Unmarshal([]byte(bad), &ev); err == nil {
			t.Errorf("Unmarshal(%s): expected error", bad)
		}
	}
}
