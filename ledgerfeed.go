package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfeed/ledgerfeed/admin"
	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/consumer"
	"github.com/ledgerfeed/ledgerfeed/forward"
	"github.com/ledgerfeed/ledgerfeed/journal"
	"github.com/ledgerfeed/ledgerfeed/registry"
	"github.com/ledgerfeed/ledgerfeed/source"
	"github.com/ledgerfeed/ledgerfeed/telemetry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("LedgerFeed - CDC to Ledger Dispatch")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Stream registry
	reg, err := registry.New(cfg.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build stream registry")
		return
	}

	// Dead-letter journal
	var jrnl *journal.Journal
	if cfg.Config.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Config.DataDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open dead-letter journal")
			return
		}
		defer jrnl.Close()
	}

	// Ledger write API client
	fwd, err := forward.NewHTTPForwarder(cfg.Config.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create forwarder")
		return
	}
	defer fwd.Close()

	// Inbound change stream
	src, err := source.New(cfg.Config.Source, sourceTopics(cfg.Config))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to change stream")
		return
	}
	defer src.Close()

	pipe := consumer.New(cfg.Config, src, reg, fwd, jrnl)

	// Periodic saturation gauges
	collector := telemetry.NewGaugeCollector(pipe, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	// Ops API
	if cfg.Config.Admin.Enabled {
		opsServer := admin.NewServer(cfg.Config.Admin, pipe, reg)
		opsServer.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := opsServer.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("Ops API shutdown failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Uint64("instance_id", cfg.Config.InstanceID).
		Str("source", cfg.Config.Source.Kind).
		Str("ledger", cfg.Config.Ledger.BaseURL).
		Int("tables", len(cfg.Config.Tables)).
		Msg("LedgerFeed is operational")

	if err := pipe.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Pipeline terminated with error")
		os.Exit(1)
	}

	log.Info().Msg("LedgerFeed stopped")
}

// sourceTopics lists the Kafka topics to subscribe, one per configured
// table under the topic prefix.
func sourceTopics(conf *cfg.Configuration) []string {
	topics := make([]string, 0, len(conf.Tables))
	for i := range conf.Tables {
		tc := &conf.Tables[i]
		topics = append(topics, conf.Source.TopicPrefix+"."+tc.Name)
	}
	return topics
}
