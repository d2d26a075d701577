package segment_test

import (
	"testing"
	"time"

	"github.com/MrWong99/micscribe/internal/segment"
)

func TestPolicy_Evaluate(t *testing.T) {
	p := segment.DefaultPolicy()

	tests := []struct {
		name    string
		samples int
		since   time.Duration
		want    segment.Trigger
	}{
		{"empty buffer", 0, 10 * time.Second, segment.TriggerNone},
		{"exactly max", 48000, 0, segment.TriggerNone},
		{"just over max", 48001, 0, segment.TriggerMaxDuration},
		{"over max and timed out", 50000, 3 * time.Second, segment.TriggerMaxDuration},
		{"timed out, exactly min", 8000, 3 * time.Second, segment.TriggerNone},
		{"timed out, over min", 8001, 3 * time.Second, segment.TriggerSilenceTimeout},
		{"exactly timeout, over min", 20000, 2 * time.Second, segment.TriggerNone},
		{"just past timeout", 20000, 2*time.Second + time.Millisecond, segment.TriggerSilenceTimeout},
		{"fresh, mid buffer", 30000, time.Second, segment.TriggerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Evaluate(tt.samples, tt.since); got != tt.want {
				t.Errorf("Evaluate(%d, %s) = %s, want %s", tt.samples, tt.since, got, tt.want)
			}
			if got := p.ShouldCut(tt.samples, tt.since); got != (tt.want != segment.TriggerNone) {
				t.Errorf("ShouldCut(%d, %s) = %v", tt.samples, tt.since, got)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := segment.DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*segment.Policy)
	}{
		{"zero sample rate", func(p *segment.Policy) { p.SampleRate = 0 }},
		{"negative max", func(p *segment.Policy) { p.MaxDuration = -time.Second }},
		{"zero min", func(p *segment.Policy) { p.MinDuration = 0 }},
		{"zero timeout", func(p *segment.Policy) { p.SilenceTimeout = 0 }},
		{"zero poll", func(p *segment.Policy) { p.PollInterval = 0 }},
		{"min equals max", func(p *segment.Policy) { p.MinDuration = p.MaxDuration }},
		{"min above max", func(p *segment.Policy) { p.MinDuration = 5 * time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := segment.DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if segment.TriggerMaxDuration.String() != "max_duration" ||
		segment.TriggerSilenceTimeout.String() != "silence_timeout" ||
		segment.TriggerNone.String() != "none" {
		t.Error("unexpected trigger labels")
	}
}
