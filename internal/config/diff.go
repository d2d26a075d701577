package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SegmenterChanged is true when any cut parameter changed. The new
	// policy applies from the next recording.
	SegmenterChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SegmenterChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !sameTranscriber(old.Transcriber, new.Transcriber) {
		d.RestartRequired = append(d.RestartRequired, "transcriber")
	}
	if old.Dispatch != new.Dispatch {
		d.RestartRequired = append(d.RestartRequired, "dispatch")
	}
	if old.Events != new.Events {
		d.RestartRequired = append(d.RestartRequired, "events")
	}
	return d
}

// sameTranscriber compares the identifying fields of two transcriber
// blocks. Options maps are not compared.
func sameTranscriber(a, b TranscriberConfig) bool {
	if !sameEntry(a.ProviderEntry, b.ProviderEntry) || a.Language != b.Language ||
		a.BreakerFailures != b.BreakerFailures || a.BreakerResetSeconds != b.BreakerResetSeconds ||
		!slices.Equal(a.Vocabulary, b.Vocabulary) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
