// Package dispatch provides the micro-batching and bounded-concurrency
// machinery between event classification and the downstream write API.
package dispatch

import (
	"context"
	"sync"

	"github.com/jizhuozhi/go-future"
)

// Task is one forwarding call executed under the concurrency limit
type Task func() error

type queuedTask struct {
	task    Task
	promise *future.Promise[error]
}

// Limiter bounds how many tasks run concurrently. Tasks past the limit queue
// in FIFO order: start order is strictly enqueue order, completion order is
// not guaranteed.
type Limiter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int
	running int
	queue   []queuedTask
}

// NewLimiter creates a limiter allowing at most maxConcurrent running tasks
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	l := &Limiter{max: maxConcurrent}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Submit schedules a task. It never blocks: the task starts immediately when
// a slot is free, otherwise it waits its turn in the FIFO queue. The returned
// future resolves with the task's error when it completes.
func (l *Limiter) Submit(task Task) *future.Future[error] {
	p := future.NewPromise[error]()

	l.mu.Lock()
	if l.running < l.max {
		l.running++
		l.mu.Unlock()
		go l.run(task, p)
		return p.Future()
	}
	l.queue = append(l.queue, queuedTask{task: task, promise: p})
	l.mu.Unlock()

	return p.Future()
}

// run executes a task and then drains queued tasks from the same goroutine,
// keeping running <= max without spawning per-queued-task goroutines.
func (l *Limiter) run(task Task, p *future.Promise[error]) {
	for {
		p.Set(nil, task())

		l.mu.Lock()
		if len(l.queue) > 0 {
			next := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			task, p = next.task, next.promise
			continue
		}
		l.running--
		l.cond.Broadcast()
		l.mu.Unlock()
		return
	}
}

// InFlight returns the number of currently running tasks
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Pending returns the number of queued tasks not yet started
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Wait blocks until all running and queued tasks have settled, or the
// context expires. Used by graceful shutdown to drain in-flight forwards
// within a bounded grace period.
func (l *Limiter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		for l.running > 0 || len(l.queue) > 0 {
			l.cond.Wait()
		}
		l.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
