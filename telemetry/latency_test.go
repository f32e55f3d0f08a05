package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTrackerAggregates(t *testing.T) {
	lt := NewLatencyTracker()

	lt.Observe(StageForward, 100*time.Millisecond)
	lt.Observe(StageForward, 300*time.Millisecond)
	lt.Observe(StageForward, 200*time.Millisecond)

	snap := lt.Snapshot()
	fwd := snap[StageForward]
	assert.Equal(t, uint64(3), fwd.Count)
	assert.Equal(t, 600*time.Millisecond, fwd.Sum)
	assert.Equal(t, 100*time.Millisecond, fwd.Min)
	assert.Equal(t, 300*time.Millisecond, fwd.Max)
	assert.Equal(t, 200*time.Millisecond, fwd.Avg())
}

func TestLatencyTrackerClampsNegativeDurations(t *testing.T) {
	lt := NewLatencyTracker()

	// Bus clock ahead of the source clock produces a negative hop
	lt.Observe(StageSourceToBus, -50*time.Millisecond)

	snap := lt.Snapshot()
	s := snap[StageSourceToBus]
	assert.Equal(t, uint64(1), s.Count)
	assert.Equal(t, time.Duration(0), s.Min)
	assert.Equal(t, time.Duration(0), s.Sum)
}

func TestLatencyTrackerIgnoresUnknownStage(t *testing.T) {
	lt := NewLatencyTracker()
	lt.Observe("warp_drive", time.Second)

	snap := lt.Snapshot()
	_, ok := snap["warp_drive"]
	assert.False(t, ok)
}

func TestLatencyTrackerDerivedTotal(t *testing.T) {
	lt := NewLatencyTracker()

	lt.Observe(StageProcessing, 2*time.Millisecond)
	lt.Observe(StageForward, 100*time.Millisecond)

	snap := lt.Snapshot()
	total, ok := snap["total_avg"]
	require.True(t, ok)
	assert.Equal(t, 102*time.Millisecond, total.Sum)

	// The pipeline aggregate excludes the forward hop
	pipeline, ok := snap["pipeline_avg"]
	require.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, pipeline.Sum)
}

func TestLatencyTrackerConcurrentObserve(t *testing.T) {
	lt := NewLatencyTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				lt.Observe(StageProcessing, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := lt.Snapshot()
	assert.Equal(t, uint64(800), snap[StageProcessing].Count)
}

func TestEmptySnapshotHasZeroStats(t *testing.T) {
	lt := NewLatencyTracker()
	snap := lt.Snapshot()

	for _, stage := range []string{StageSourceToBus, StageBusToConsumer, StageProcessing, StageForward} {
		s := snap[stage]
		assert.Equal(t, uint64(0), s.Count)
		assert.Equal(t, time.Duration(0), s.Avg())
	}
}

type fakeSaturation struct{}

func (fakeSaturation) InFlight() int          { return 3 }
func (fakeSaturation) Pending() int           { return 7 }
func (fakeSaturation) DedupSize() int         { return 42 }
func (fakeSaturation) JournalBacklog() uint64 { return 2 }

func TestGaugeCollectorStartStop(t *testing.T) {
	// Metrics stay noop without InitializeTelemetry; the collector must
	// still run and stop cleanly.
	gc := NewGaugeCollector(fakeSaturation{}, 10*time.Millisecond)
	gc.Start()
	time.Sleep(30 * time.Millisecond)
	gc.Stop()
}
