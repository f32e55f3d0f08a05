package telemetry

import (
	"sync"
	"time"
)

// SaturationProvider exposes point-in-time pipeline saturation numbers
type SaturationProvider interface {
	InFlight() int
	Pending() int
	DedupSize() int
	JournalBacklog() uint64
}

// GaugeCollector periodically samples a provider and updates the
// saturation gauges
type GaugeCollector struct {
	provider SaturationProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewGaugeCollector(provider SaturationProvider, interval time.Duration) *GaugeCollector {
	return &GaugeCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (gc *GaugeCollector) Start() {
	gc.wg.Add(1)
	go gc.collectLoop()
}

// Stop stops the collector
func (gc *GaugeCollector) Stop() {
	close(gc.stopCh)
	gc.wg.Wait()
}

func (gc *GaugeCollector) collectLoop() {
	defer gc.wg.Done()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	gc.collect()

	for {
		select {
		case <-ticker.C:
			gc.collect()
		case <-gc.stopCh:
			return
		}
	}
}

func (gc *GaugeCollector) collect() {
	if gc.provider == nil {
		return
	}

	InFlightForwards.Set(float64(gc.provider.InFlight()))
	PendingForwards.Set(float64(gc.provider.Pending()))
	DedupWindowSize.Set(float64(gc.provider.DedupSize()))
	JournalPending.Set(float64(gc.provider.JournalBacklog()))
}
