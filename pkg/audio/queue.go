package audio

import (
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the default [FrameQueue] capacity in blocks.
const DefaultQueueSize = 256

// FrameQueue is a bounded FIFO of [FrameBlock] values between the device
// callback (producer) and the segment accumulator (single consumer).
//
// Push never blocks: the device thread must not stall, so a full queue drops
// the incoming block and counts it. Pop blocks for at most the given timeout.
type FrameQueue struct {
	ch      chan FrameBlock
	dropped atomic.Uint64
	onDrop  func()
}

// NewFrameQueue creates a queue holding at most size blocks. A non-positive
// size selects [DefaultQueueSize].
func NewFrameQueue(size int) *FrameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &FrameQueue{ch: make(chan FrameBlock, size)}
}

// OnDrop registers fn to be called (on the producer goroutine) each time a
// block is dropped. Must be called before the queue is in use.
func (q *FrameQueue) OnDrop(fn func()) { q.onDrop = fn }

// Push enqueues b, or drops it when the queue is full. It reports whether the
// block was accepted.
func (q *FrameQueue) Push(b FrameBlock) bool {
	select {
	case q.ch <- b:
		return true
	default:
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
		return false
	}
}

// Pop returns the oldest block, waiting up to timeout for one to arrive. A
// non-positive timeout makes Pop non-blocking.
func (q *FrameQueue) Pop(timeout time.Duration) (FrameBlock, bool) {
	if timeout <= 0 {
		select {
		case b := <-q.ch:
			return b, true
		default:
			return FrameBlock{}, false
		}
	}

	select {
	case b := <-q.ch:
		return b, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-q.ch:
		return b, true
	case <-t.C:
		return FrameBlock{}, false
	}
}

// C exposes the receive side for consumers that also select on other
// channels (e.g. a context's Done).
func (q *FrameQueue) C() <-chan FrameBlock { return q.ch }

// Len returns the number of pending blocks.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Dropped returns the total number of blocks dropped because the queue was full.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

// Reset discards every pending block.
func (q *FrameQueue) Reset() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
