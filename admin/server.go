// Package admin exposes the operational HTTP API: health, pipeline stats,
// latency aggregates, configured tables and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/consumer"
	"github.com/ledgerfeed/ledgerfeed/registry"
	"github.com/ledgerfeed/ledgerfeed/telemetry"
)

// Server is the ops API server
type Server struct {
	conf cfg.AdminConfiguration
	pipe *consumer.Pipeline
	reg  *registry.Registry
	srv  *http.Server
}

func NewServer(conf cfg.AdminConfiguration, pipe *consumer.Pipeline, reg *registry.Registry) *Server {
	s := &Server{conf: conf, pipe: pipe, reg: reg}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/latency", s.handleLatency)
	r.Get("/tables", s.handleTables)

	if h := telemetry.GetMetricsHandler(); h != nil {
		r.Handle("/metrics", h)
	}

	s.srv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", conf.Address, conf.Port),
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background until Stop is called
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("Ops API listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Ops API server failed")
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"counters":  s.pipe.Stats(),
		"in_flight": s.pipe.InFlight(),
		"pending":   s.pipe.Pending(),
		"dedup":     s.pipe.DedupSize(),
		"journal":   s.pipe.JournalBacklog(),
	})
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	snap := s.pipe.Latency()

	out := make(map[string]map[string]any, len(snap))
	for stage, stats := range snap {
		out[stage] = map[string]any{
			"count":  stats.Count,
			"avg_ms": float64(stats.Avg()) / float64(time.Millisecond),
			"min_ms": float64(stats.Min) / float64(time.Millisecond),
			"max_ms": float64(stats.Max) / float64(time.Millisecond),
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	type tableInfo struct {
		Name       string `json:"name"`
		Family     string `json:"family"`
		Endpoint   string `json:"endpoint"`
		PayloadKey string `json:"payload_key"`
	}

	entries := s.reg.Tables()
	out := make([]tableInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, tableInfo{
			Name:       e.Table.Name,
			Family:     e.Table.Family,
			Endpoint:   e.Table.Endpoint,
			PayloadKey: e.Table.PayloadKey,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
