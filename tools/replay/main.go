// replay re-forwards dead-letter journal entries to the ledger write API.
// Run it after an outage with the main process stopped, pointing at the same
// data directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/forward"
	"github.com/ledgerfeed/ledgerfeed/journal"
)

var (
	dataDirFlag    = flag.String("data-dir", "./ledgerfeed-data", "Data directory holding the journal")
	ledgerURLFlag  = flag.String("ledger-url", "http://localhost:3000", "Ledger write API base URL")
	timeoutMSFlag  = flag.Int("timeout-ms", 30000, "Per-request timeout in milliseconds")
	batchFlag      = flag.Int("batch", 100, "Entries read per journal scan")
	maxRetriesFlag = flag.Int("max-retries", 5, "Retry attempts per entry before giving up")
	dryRunFlag     = flag.Bool("dry-run", false, "List pending entries without forwarding")
	verboseFlag    = flag.Bool("verbose", false, "Enable debug logging")
)

const (
	retryInitial = 500 * time.Millisecond
	retryMax     = 30 * time.Second
)

func main() {
	flag.Parse()

	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	if *verboseFlag {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if err := run(); err != nil {
		log.Error().Err(err).Msg("Replay failed")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jrnl, err := journal.Open(*dataDirFlag)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	pending, err := jrnl.Pending()
	if err != nil {
		return err
	}
	if pending == 0 {
		log.Info().Msg("Journal is empty, nothing to replay")
		return nil
	}
	log.Info().Uint64("pending", pending).Msg("Starting journal replay")

	if *dryRunFlag {
		return listPending(jrnl)
	}

	fwd, err := forward.NewHTTPForwarder(cfg.LedgerConfiguration{
		BaseURL:         *ledgerURLFlag,
		TimeoutMS:       *timeoutMSFlag,
		DeleteTimeoutMS: *timeoutMSFlag,
	})
	if err != nil {
		return err
	}
	defer fwd.Close()

	cursor, err := jrnl.Cursor()
	if err != nil {
		return err
	}

	replayed := 0
	for {
		entries, err := jrnl.ReadFrom(cursor, *batchFlag)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				log.Warn().Int("replayed", replayed).Msg("Replay interrupted")
				return nil
			}

			if err := forwardWithRetry(ctx, fwd, entry); err != nil {
				return fmt.Errorf("entry %d (%s) not accepted after %d attempts: %w",
					entry.Seq, entry.Endpoint, *maxRetriesFlag, err)
			}

			cursor = entry.Seq
			if err := jrnl.AdvanceCursor(cursor); err != nil {
				return fmt.Errorf("failed to advance cursor: %w", err)
			}
			replayed++

			log.Debug().
				Uint64("seq", entry.Seq).
				Str("endpoint", entry.Endpoint).
				Msg("Entry replayed")
		}
	}

	log.Info().Int("replayed", replayed).Msg("Journal replay complete")
	return nil
}

// forwardWithRetry forwards one entry with bounded exponential backoff
func forwardWithRetry(ctx context.Context, fwd forward.Forwarder, entry journal.Entry) error {
	delay := retryInitial

	var lastErr error
	for attempt := 1; attempt <= *maxRetriesFlag; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(*timeoutMSFlag)*time.Millisecond)
		lastErr = fwd.Forward(callCtx, entry.Endpoint, entry.Payload)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		log.Warn().
			Err(lastErr).
			Uint64("seq", entry.Seq).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Forward failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay *= 2
		if delay > retryMax {
			delay = retryMax
		}
	}
	return lastErr
}

func listPending(jrnl *journal.Journal) error {
	cursor, err := jrnl.Cursor()
	if err != nil {
		return err
	}

	for {
		entries, err := jrnl.ReadFrom(cursor, *batchFlag)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			fmt.Printf("%8d  %-30s  %6d bytes  %s  %s\n",
				entry.Seq,
				entry.Endpoint,
				len(entry.Payload),
				time.UnixMilli(entry.FailedAtMillis).UTC().Format(time.RFC3339),
				entry.Reason,
			)
			cursor = entry.Seq
		}
	}
}
