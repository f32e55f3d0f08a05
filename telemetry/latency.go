package telemetry

import (
	"sync"
	"time"
)

// Pipeline stages measured by the latency tracker
const (
	StageSourceToBus   = "source_to_bus"
	StageBusToConsumer = "bus_to_consumer"
	StageProcessing    = "processing"
	StageForward       = "forward"
)

// StageStats is an aggregate of observed durations for one stage
type StageStats struct {
	Count uint64        `json:"count"`
	Sum   time.Duration `json:"sum"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Avg returns the mean observed duration
func (s StageStats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / time.Duration(s.Count)
}

// LatencyTracker aggregates per-stage latencies since process start and
// mirrors each observation into the Prometheus histograms. Snapshot is what
// the ops API and the periodic summary log read.
type LatencyTracker struct {
	mu     sync.Mutex
	stages map[string]*StageStats
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{
		stages: map[string]*StageStats{
			StageSourceToBus:   {},
			StageBusToConsumer: {},
			StageProcessing:    {},
			StageForward:       {},
		},
	}
}

// Observe records one duration for a stage. Negative durations come from
// clock skew between the database, the bus and this host; they are clamped
// to zero rather than dropped so counts still line up.
func (t *LatencyTracker) Observe(stage string, d time.Duration) {
	if d < 0 {
		d = 0
	}

	switch stage {
	case StageSourceToBus:
		SourceToBusSeconds.Observe(d.Seconds())
	case StageBusToConsumer:
		BusToConsumerSeconds.Observe(d.Seconds())
	case StageProcessing:
		ProcessingSeconds.Observe(d.Seconds())
	case StageForward:
		ForwardSeconds.Observe(d.Seconds())
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stages[stage]
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Sum += d
	s.Count++
}

// Snapshot returns a copy of all stage aggregates plus two derived entries
// built from the per-stage averages: "pipeline_avg" (everything up to the
// forward call) and "total_avg" (end to end including the forward call).
func (t *LatencyTracker) Snapshot() map[string]StageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]StageStats, len(t.stages)+2)
	for name, s := range t.stages {
		out[name] = *s
	}

	pipeline := derivedAvg(out, StageSourceToBus, StageBusToConsumer, StageProcessing)
	out["pipeline_avg"] = pipeline
	out["total_avg"] = derivedAvg(out, StageSourceToBus, StageBusToConsumer, StageProcessing, StageForward)
	return out
}

// derivedAvg sums the averages of the named stages into a single-sample stat
func derivedAvg(snap map[string]StageStats, stages ...string) StageStats {
	d := StageStats{}
	for _, name := range stages {
		s := snap[name]
		if s.Count == 0 {
			continue
		}
		d.Sum += s.Avg()
		d.Count = 1
	}
	d.Min = d.Sum
	d.Max = d.Sum
	return d
}
