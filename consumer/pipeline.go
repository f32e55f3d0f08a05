// Package consumer wires the inbound change stream to the ledger write API:
// parse, resolve, normalize, dedup, batch, then forward under a concurrency
// cap. One pipeline per process.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfeed/ledgerfeed/adapter"
	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
	"github.com/ledgerfeed/ledgerfeed/dedup"
	"github.com/ledgerfeed/ledgerfeed/dispatch"
	"github.com/ledgerfeed/ledgerfeed/forward"
	"github.com/ledgerfeed/ledgerfeed/journal"
	"github.com/ledgerfeed/ledgerfeed/registry"
	"github.com/ledgerfeed/ledgerfeed/source"
	"github.com/ledgerfeed/ledgerfeed/telemetry"
)

// How long the shutdown drain waits for in-flight forwards
const drainGracePeriod = 30 * time.Second

// item is one normalized record queued for forwarding
type item struct {
	rec      *common.NormalizedRecord
	entry    *registry.Entry
	rawImage map[string]any
}

// Counters is a snapshot of pipeline totals since start
type Counters struct {
	Processed        uint64 `json:"processed"`
	SkippedDuplicate uint64 `json:"skipped_duplicate"`
	SkippedUnknown   uint64 `json:"skipped_unknown"`
	SkippedMalformed uint64 `json:"skipped_malformed"`
	Forwarded        uint64 `json:"forwarded"`
	ForwardErrors    uint64 `json:"forward_errors"`
}

// Pipeline consumes the change stream and forwards normalized mutations
type Pipeline struct {
	conf    *cfg.Configuration
	src     source.Source
	reg     *registry.Registry
	window  *dedup.Window
	limiter *dispatch.Limiter
	batcher *dispatch.Batcher[item]
	fwd     forward.Forwarder
	jrnl    *journal.Journal // nil when the journal is disabled
	latency *telemetry.LatencyTracker

	processed        *xsync.Counter
	skippedDuplicate *xsync.Counter
	skippedUnknown   *xsync.Counter
	skippedMalformed *xsync.Counter
	forwarded        *xsync.Counter
	forwardErrors    *xsync.Counter
}

// New assembles a pipeline from its parts. jrnl may be nil.
func New(conf *cfg.Configuration, src source.Source, reg *registry.Registry,
	fwd forward.Forwarder, jrnl *journal.Journal) *Pipeline {

	p := &Pipeline{
		conf:    conf,
		src:     src,
		reg:     reg,
		fwd:     fwd,
		jrnl:    jrnl,
		latency: telemetry.NewLatencyTracker(),

		window: dedup.NewWindow(
			time.Duration(conf.Pipeline.DedupWindowMS)*time.Millisecond,
			time.Duration(conf.Pipeline.DedupToleranceMS)*time.Millisecond,
		),
		limiter: dispatch.NewLimiter(conf.Pipeline.MaxConcurrent),

		processed:        xsync.NewCounter(),
		skippedDuplicate: xsync.NewCounter(),
		skippedUnknown:   xsync.NewCounter(),
		skippedMalformed: xsync.NewCounter(),
		forwarded:        xsync.NewCounter(),
		forwardErrors:    xsync.NewCounter(),
	}

	p.batcher = dispatch.NewBatcher(
		conf.Pipeline.BatchSize,
		time.Duration(conf.Pipeline.BatchIdleMS)*time.Millisecond,
		p.flush,
	)

	return p
}

// Run consumes the source until ctx is cancelled or the source ends.
// Persistent fetch failures beyond the reconnect budget return an error so
// the process can exit non-zero.
func (p *Pipeline) Run(ctx context.Context) error {
	log.Info().
		Int("batch_size", p.conf.Pipeline.BatchSize).
		Int("max_concurrent", p.conf.Pipeline.MaxConcurrent).
		Dur("dedup_window", time.Duration(p.conf.Pipeline.DedupWindowMS)*time.Millisecond).
		Msg("Pipeline started")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	summaryDone := make(chan struct{})
	go p.summaryLoop(runCtx, summaryDone)

	err := p.consumeLoop(runCtx)
	cancel()

	p.drain()
	<-summaryDone
	p.logSummary()
	return err
}

func (p *Pipeline) consumeLoop(ctx context.Context) error {
	attempts := 0
	delay := time.Duration(p.conf.Source.ReconnectInitialMS) * time.Millisecond
	maxDelay := time.Duration(p.conf.Source.ReconnectMaxMS) * time.Millisecond

	for {
		msg, err := p.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				log.Info().Msg("Change stream ended")
				return nil
			}

			attempts++
			if attempts > p.conf.Source.MaxReconnectAttempts {
				return fmt.Errorf("source unavailable after %d attempts: %w", attempts, err)
			}

			log.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("retry_delay", delay).
				Msg("Failed to fetch from change stream, retrying")

			if !sleepCtx(ctx, delay) {
				return nil
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		attempts = 0
		delay = time.Duration(p.conf.Source.ReconnectInitialMS) * time.Millisecond

		p.handle(msg)

		// At-least-once: the record is in the batcher (or counted as a
		// skip) before the offset moves.
		if err := p.src.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("stream", msg.Stream).Msg("Failed to commit offset")
		}
	}
}

func (p *Pipeline) handle(msg *source.Message) {
	start := time.Now()

	if msg.BusTSMillis > 0 {
		busAt := time.UnixMilli(msg.BusTSMillis)
		p.latency.Observe(telemetry.StageBusToConsumer, msg.ReceivedAt.Sub(busAt))
	}

	env, err := common.ParseEnvelope(msg.Stream, msg.Value, msg.ReceivedAt)
	if err != nil {
		p.skippedMalformed.Inc()
		telemetry.EventsTotal.With("malformed").Inc()
		log.Debug().Err(err).Str("stream", msg.Stream).Msg("Dropping malformed envelope")
		return
	}

	if env.SourceTSMillis > 0 && msg.BusTSMillis > 0 {
		p.latency.Observe(telemetry.StageSourceToBus,
			time.UnixMilli(msg.BusTSMillis).Sub(time.UnixMilli(env.SourceTSMillis)))
	}

	entry, ok := p.reg.Resolve(msg.Stream)
	if !ok {
		p.skippedUnknown.Inc()
		telemetry.EventsTotal.With("unknown_stream").Inc()
		return
	}

	rec := adapter.Normalize(entry.Adapter, entry.Table, entry.Family, env)

	if p.window.ShouldSkip(rec.RecordID, rec.ModifiedAt) {
		p.skippedDuplicate.Inc()
		telemetry.EventsTotal.With("duplicate").Inc()
		log.Debug().
			Str("record_id", rec.RecordID).
			Str("table", rec.Table).
			Msg("Skipping duplicate record")
		return
	}

	p.processed.Inc()
	telemetry.EventsTotal.With("processed").Inc()
	telemetry.OperationsTotal.With(rec.Operation.String()).Inc()
	p.latency.Observe(telemetry.StageProcessing, time.Since(start))

	p.batcher.Enqueue(item{rec: rec, entry: entry, rawImage: env.Image()})
}

// flush hands a full or idle batch to the limiter. Each record forwards
// independently; one slow or failing record does not hold back the rest.
func (p *Pipeline) flush(batch []item) {
	trigger := "idle"
	if len(batch) >= p.conf.Pipeline.BatchSize {
		trigger = "size"
	}
	telemetry.BatchFlushesTotal.With(trigger).Inc()
	telemetry.BatchSizeRecords.Observe(float64(len(batch)))

	log.Debug().Int("records", len(batch)).Str("trigger", trigger).Msg("Flushing batch")

	for _, it := range batch {
		it := it
		p.limiter.Submit(func() error {
			return p.forwardOne(it)
		})
	}
}

func (p *Pipeline) forwardOne(it item) error {
	payload, stats, err := adapter.BuildPayload(it.entry.Table, it.rec, it.rawImage)
	if err != nil {
		p.forwardErrors.Inc()
		telemetry.ForwardsTotal.With(it.entry.Table.Name, "failed").Inc()
		log.Error().Err(err).Str("record_id", it.rec.RecordID).Msg("Failed to build payload")
		return err
	}
	telemetry.PayloadReductionPct.With(it.entry.Table.Name).Set(stats.ReductionPct)

	ctx, cancel := context.WithTimeout(context.Background(),
		forward.TimeoutFor(p.conf.Ledger, it.rec.Operation))
	defer cancel()

	start := time.Now()
	err = p.fwd.Forward(ctx, it.entry.Table.Endpoint, payload)
	p.latency.Observe(telemetry.StageForward, time.Since(start))

	if err != nil {
		p.forwardErrors.Inc()
		telemetry.ForwardsTotal.With(it.entry.Table.Name, "failed").Inc()
		log.Error().
			Err(err).
			Str("record_id", it.rec.RecordID).
			Str("table", it.rec.Table).
			Str("operation", it.rec.Operation.String()).
			Msg("Forward failed")
		p.journalFailure(it, payload, err)
		return err
	}

	p.forwarded.Inc()
	telemetry.ForwardsTotal.With(it.entry.Table.Name, "success").Inc()
	log.Debug().
		Str("record_id", it.rec.RecordID).
		Str("table", it.rec.Table).
		Str("operation", it.rec.Operation.String()).
		Dur("took", time.Since(start)).
		Msg("Record forwarded")
	return nil
}

func (p *Pipeline) journalFailure(it item, payload []byte, cause error) {
	if p.jrnl == nil {
		return
	}

	entry := &journal.Entry{
		Stream:         it.rec.Stream,
		Endpoint:       it.entry.Table.Endpoint,
		Payload:        payload,
		Reason:         cause.Error(),
		FailedAtMillis: time.Now().UnixMilli(),
	}
	if err := p.jrnl.Append(entry); err != nil {
		log.Error().Err(err).Str("record_id", it.rec.RecordID).Msg("Failed to journal failed forward")
		return
	}
	telemetry.JournaledTotal.Inc()
}

// drain flushes the final partial batch and waits for in-flight forwards
func (p *Pipeline) drain() {
	p.batcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), drainGracePeriod)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		log.Warn().
			Int("in_flight", p.limiter.InFlight()).
			Int("pending", p.limiter.Pending()).
			Msg("Shutdown grace period expired with forwards outstanding")
	}
}

func (p *Pipeline) summaryLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	interval := time.Duration(p.conf.Pipeline.SummaryIntervalS) * time.Second
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logSummary()
		}
	}
}

func (p *Pipeline) logSummary() {
	snap := p.latency.Snapshot()
	log.Info().
		Int64("processed", p.processed.Value()).
		Int64("duplicates", p.skippedDuplicate.Value()).
		Int64("unknown", p.skippedUnknown.Value()).
		Int64("malformed", p.skippedMalformed.Value()).
		Int64("forwarded", p.forwarded.Value()).
		Int64("forward_errors", p.forwardErrors.Value()).
		Dur("avg_processing", snap[telemetry.StageProcessing].Avg()).
		Dur("avg_forward", snap[telemetry.StageForward].Avg()).
		Int("dedup_entries", p.window.Len()).
		Msg("Pipeline summary")
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Counters {
	return Counters{
		Processed:        uint64(p.processed.Value()),
		SkippedDuplicate: uint64(p.skippedDuplicate.Value()),
		SkippedUnknown:   uint64(p.skippedUnknown.Value()),
		SkippedMalformed: uint64(p.skippedMalformed.Value()),
		Forwarded:        uint64(p.forwarded.Value()),
		ForwardErrors:    uint64(p.forwardErrors.Value()),
	}
}

// Latency returns the per-stage latency aggregates
func (p *Pipeline) Latency() map[string]telemetry.StageStats {
	return p.latency.Snapshot()
}

// Saturation numbers for the periodic gauge collector

func (p *Pipeline) InFlight() int  { return p.limiter.InFlight() }
func (p *Pipeline) Pending() int   { return p.limiter.Pending() }
func (p *Pipeline) DedupSize() int { return p.window.Len() }

func (p *Pipeline) JournalBacklog() uint64 {
	if p.jrnl == nil {
		return 0
	}
	n, err := p.jrnl.Pending()
	if err != nil {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
