package dispatch

import (
	"sync"
	"time"
)

// Batcher accumulates items into micro-batches and flushes when either the
// size threshold is reached or the idle timer (reset on every enqueue)
// elapses. Flushing hands the accumulated slice to the flush callback and
// keeps accepting new enqueues immediately, so batches may overlap in flight,
// bounded only by whatever limiter the callback submits to.
type Batcher[T any] struct {
	mu     sync.Mutex
	buf    []T
	size   int
	idle   time.Duration
	timer  *time.Timer
	flush  func(batch []T)
	closed bool
}

// NewBatcher creates a batcher. flush is invoked with each complete batch; it
// must be safe to call from the enqueuing goroutine and from the idle timer.
func NewBatcher[T any](size int, idle time.Duration, flush func(batch []T)) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	return &Batcher[T]{
		size:  size,
		idle:  idle,
		flush: flush,
	}
}

// Enqueue adds an item. Reaching the size threshold flushes immediately
// without waiting for the idle timer.
func (b *Batcher[T]) Enqueue(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.buf = append(b.buf, item)
	if len(b.buf) >= b.size {
		batch := b.takeLocked()
		b.mu.Unlock()
		b.flush(batch)
		return
	}

	b.resetTimerLocked()
	b.mu.Unlock()
}

// Len returns the number of items awaiting the next flush
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close stops the idle timer and flushes any final partial batch. Enqueues
// after Close are dropped.
func (b *Batcher[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.takeLocked()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

// takeLocked slices out the pending batch and stops the idle timer
func (b *Batcher[T]) takeLocked() []T {
	batch := b.buf
	b.buf = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

// resetTimerLocked restarts the idle countdown
func (b *Batcher[T]) resetTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.idle, b.flushIdle)
}

// flushIdle fires when no enqueue arrived for the idle duration
func (b *Batcher[T]) flushIdle() {
	b.mu.Lock()
	if b.closed || len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()

	b.flush(batch)
}
