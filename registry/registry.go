// Package registry resolves inbound stream names to table configurations and
// their cached adapters.
package registry

import (
	"fmt"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfeed/ledgerfeed/adapter"
	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

// Remembered unknown streams; bounds repeat-warning noise, not correctness
const unknownStreamCacheSize = 1024

// Entry is a resolved table configuration with its adapter. One adapter is
// created per table at registry build time and cached for the process
// lifetime; the registry owns the adapter instances.
type Entry struct {
	Table   *cfg.TableConfig
	Family  cfg.FamilyConfig
	Adapter adapter.Adapter
}

// Registry maps stream names to entries. Built once at startup; read-only
// afterwards, so it is safe for concurrent use.
type Registry struct {
	byTable  map[string]*Entry
	patterns []patternEntry
	unknown  *lru.Cache[string, struct{}]
}

type patternEntry struct {
	g     glob.Glob
	entry *Entry
}

// New builds a registry from the configured tables
func New(conf *cfg.Configuration) (*Registry, error) {
	unknown, err := lru.New[string, struct{}](unknownStreamCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create unknown-stream cache: %w", err)
	}

	r := &Registry{
		byTable: make(map[string]*Entry, len(conf.Tables)),
		unknown: unknown,
	}

	for i := range conf.Tables {
		tc := &conf.Tables[i]
		fc := conf.FamilyFor(tc)

		a, err := adapter.New(tc.Family, fc)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tc.Name, err)
		}

		entry := &Entry{Table: tc, Family: fc, Adapter: a}
		r.byTable[tc.Name] = entry

		if tc.StreamPattern != "" {
			g, err := glob.Compile(tc.StreamPattern)
			if err != nil {
				return nil, fmt.Errorf("table %s: invalid stream pattern %q: %w", tc.Name, tc.StreamPattern, err)
			}
			r.patterns = append(r.patterns, patternEntry{g: g, entry: entry})
		}

		log.Debug().
			Str("table", tc.Name).
			Str("family", tc.Family).
			Str("endpoint", tc.Endpoint).
			Msg("Registered table configuration")
	}

	log.Info().Int("tables", len(r.byTable)).Msg("Stream registry initialized")
	return r, nil
}

// Resolve maps a full stream name to its entry. The table name is the last
// path segment of "<prefix>.<database>.<table>"; stream patterns, when
// configured, match against the full stream name. Unknown streams resolve
// false: the caller skips the event rather than failing the pipeline.
func (r *Registry) Resolve(stream string) (*Entry, bool) {
	if entry, ok := r.byTable[common.TableName(stream)]; ok {
		return entry, true
	}

	for _, pe := range r.patterns {
		if pe.g.Match(stream) {
			return pe.entry, true
		}
	}

	if seen, _ := r.unknown.ContainsOrAdd(stream, struct{}{}); !seen {
		log.Warn().Str("stream", stream).Msg("No configuration for stream, events will be skipped")
	} else {
		log.Debug().Str("stream", stream).Msg("Skipping event for unconfigured stream")
	}
	return nil, false
}

// Tables returns all registered entries, for the ops API
func (r *Registry) Tables() []*Entry {
	out := make([]*Entry, 0, len(r.byTable))
	for _, e := range r.byTable {
		out = append(out, e)
	}
	return out
}
