package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterNeverExceedsMax(t *testing.T) {
	const maxConcurrent = 3
	const total = 20

	l := NewLimiter(maxConcurrent)

	var running, peak atomic.Int32
	gate := make(chan struct{})

	futures := make([]*future.Future[error], 0, total)
	for i := 0; i < total; i++ {
		futures = append(futures, l.Submit(func() error {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			<-gate
			running.Add(-1)
			return nil
		}))
	}

	// Exactly maxConcurrent started immediately
	assert.Eventually(t, func() bool {
		return running.Load() == maxConcurrent
	}, time.Second, time.Millisecond)
	assert.Equal(t, total-maxConcurrent, l.Pending())

	close(gate)
	for _, f := range futures {
		_, err := f.Get()
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent))
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, 0, l.Pending())
}

func TestLimiterFIFOStartOrder(t *testing.T) {
	l := NewLimiter(1)

	var mu sync.Mutex
	var started []int
	gate := make(chan struct{}, 1)

	var futures []*future.Future[error]
	for i := 0; i < 10; i++ {
		idx := i
		futures = append(futures, l.Submit(func() error {
			mu.Lock()
			started = append(started, idx)
			mu.Unlock()
			<-gate
			return nil
		}))
	}

	for i := 0; i < 10; i++ {
		gate <- struct{}{}
	}
	for _, f := range futures {
		_, err := f.Get()
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, started)
}

func TestLimiterTaskErrorPropagates(t *testing.T) {
	l := NewLimiter(2)

	wantErr := errors.New("ledger unavailable")
	f := l.Submit(func() error { return wantErr })

	_, err := f.Get()
	assert.ErrorIs(t, err, wantErr)
}

func TestLimiterSlowTaskDoesNotBlockOthers(t *testing.T) {
	l := NewLimiter(2)

	slowGate := make(chan struct{})
	slow := l.Submit(func() error {
		<-slowGate
		return errors.New("timed out")
	})

	// The second slot keeps serving while the first is stuck
	var served atomic.Int32
	var futures []*future.Future[error]
	for i := 0; i < 5; i++ {
		futures = append(futures, l.Submit(func() error {
			served.Add(1)
			return nil
		}))
	}
	for _, f := range futures {
		_, err := f.Get()
		require.NoError(t, err)
	}
	assert.Equal(t, int32(5), served.Load())

	close(slowGate)
	_, err := slow.Get()
	assert.Error(t, err)
}

func TestLimiterWaitDrains(t *testing.T) {
	l := NewLimiter(2)

	gate := make(chan struct{})
	for i := 0; i < 6; i++ {
		l.Submit(func() error {
			<-gate
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx), "wait must respect the grace period with tasks stuck")

	close(gate)
	require.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, 0, l.InFlight())
}
