package resilience

import (
	"context"
	"errors"
	"io/fs"

	"github.com/MrWong99/micscribe/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with failover across
// several engines. Each engine has its own circuit breaker, so an engine that
// keeps failing is skipped until its reset timeout elapses. A failing clip is
// never retried on the same engine, and a clip that cannot be read is not
// sent to the next one.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred engine.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional engine, tried after those already
// registered.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Names returns the engine names in failover order.
func (f *TranscriberFallback) Names() []string { return f.group.Names() }

// States returns each engine's breaker state.
func (f *TranscriberFallback) States() map[string]State { return f.group.States() }

// Transcribe sends the clip to the first healthy engine, moving on to the next
// one when it fails. Failover stops as soon as ctx is done.
func (f *TranscriberFallback) Transcribe(ctx context.Context, clipPath string, cfg stt.Config) (stt.Result, error) {
	res, _, err := Do(ctx, f.group, func(t stt.Transcriber) (stt.Result, error) {
		res, err := t.Transcribe(ctx, clipPath, cfg)
		if errors.Is(err, fs.ErrNotExist) {
			return res, Permanent(err)
		}
		return res, err
	})
	return res, err
}
