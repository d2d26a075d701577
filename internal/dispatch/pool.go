package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/micscribe/internal/segment"
)

// Pool dispatches segments asynchronously. Clips are written on the
// submitting goroutine in cut order, transcription runs on at most Workers
// goroutines, and events are committed in submission order: the event for a
// segment is never appended before the event of any earlier segment.
//
// A Pool serves one recording. Call [Pool.Close] to wait for in-flight work.
type Pool struct {
	d   *Dispatcher
	sem *semaphore.Weighted
	g   errgroup.Group

	mu        sync.Mutex
	submitted uint64
	next      uint64
	pending   map[uint64]Result
	closed    bool
}

// NewPool creates a Pool running up to workers concurrent transcriptions.
// Values below 1 are treated as 1.
func NewPool(d *Dispatcher, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		d:       d,
		sem:     semaphore.NewWeighted(int64(workers)),
		pending: make(map[uint64]Result),
	}
}

// Submit writes the clip for seg and queues its transcription. It blocks
// while all workers are busy, which applies backpressure to the caller. After
// Close, Submit dispatches synchronously.
func (p *Pool) Submit(ctx context.Context, seg segment.Segment) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		slog.Warn("dispatch: submit after pool close, dispatching inline", "seq", seg.Seq)
		p.d.Dispatch(ctx, seg)
		return
	}
	idx := p.submitted
	p.submitted++
	p.mu.Unlock()

	res, ok := p.d.writeClip(ctx, seg)
	if !ok {
		p.complete(ctx, idx, res)
		return
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		// Only reachable when ctx is cancelled; transcribe inline so the
		// segment still reaches the log in order.
		p.complete(ctx, idx, p.d.transcribe(ctx, seg, res.ClipPath))
		return
	}
	p.g.Go(func() error {
		defer p.sem.Release(1)
		p.complete(ctx, idx, p.d.transcribe(ctx, seg, res.ClipPath))
		return nil
	})
}

// complete stores res and commits every result that is now next in order.
// Commits happen under the lock so appends keep submission order.
func (p *Pool) complete(ctx context.Context, idx uint64, res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[idx] = res
	for {
		r, ok := p.pending[p.next]
		if !ok {
			return
		}
		delete(p.pending, p.next)
		p.next++
		p.d.commit(ctx, r)
	}
}

// Close waits for every submitted segment to be committed. It must not be
// called concurrently with Submit.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.g.Wait()
}

var _ segment.Sink = (*Pool)(nil)
