// Package adapter normalizes raw change payloads across heterogeneous
// source-database families into canonical records the pipeline can forward.
package adapter

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

// Adapter normalizes change envelopes for one source-database family.
// Implementations are stateless pure-function sets over their configuration
// and perform no I/O.
type Adapter interface {
	// DetectOperation classifies the envelope. An explicit operation marker
	// always wins; otherwise a best-effort timestamp heuristic applies.
	DetectOperation(env *common.ChangeEnvelope) common.Operation

	// NormalizeTimestamp converts a family-specific raw timestamp value into
	// an instant rendered in the configured fixed offset. Unparseable input
	// falls back to the current time rather than failing the pipeline.
	NormalizeTimestamp(raw any) time.Time

	// ExtractRecordID returns the configured identity field as a string,
	// substituting a synthetic identity when the source supplies none.
	// The result is never empty.
	ExtractRecordID(table *cfg.TableConfig, data map[string]any, receivedAt time.Time) string

	// FilterFields applies the table's allow-list, or the family's generic
	// null/system-column filter when no allow-list is configured.
	FilterFields(table *cfg.TableConfig, data map[string]any) map[string]any
}

// New creates the adapter for a database family
func New(family string, fc cfg.FamilyConfig) (Adapter, error) {
	switch family {
	case cfg.FamilyRelational:
		return &relationalAdapter{fc: fc}, nil
	case cfg.FamilyDocument:
		return &documentAdapter{fc: fc}, nil
	case cfg.FamilyColumnar:
		return &columnarAdapter{fc: fc}, nil
	default:
		return nil, fmt.Errorf("unknown database family: %s", family)
	}
}

// Normalize runs the full adapter contract over an envelope and produces the
// canonical record. The returned record always carries a non-empty RecordID.
func Normalize(a Adapter, table *cfg.TableConfig, fc cfg.FamilyConfig, env *common.ChangeEnvelope) *common.NormalizedRecord {
	image := env.Image()
	op := a.DetectOperation(env)

	rec := &common.NormalizedRecord{
		RecordID:   a.ExtractRecordID(table, image, env.ReceivedAt),
		Operation:  op,
		Fields:     a.FilterFields(table, image),
		Stream:     env.Stream,
		Table:      table.Name,
		ReceivedAt: env.ReceivedAt,
	}

	rec.CreatedAt = a.NormalizeTimestamp(image[fc.CreatedField])
	rec.ModifiedAt = a.NormalizeTimestamp(image[fc.ModifiedField])
	rec.ModifiedBy = actorString(image[fc.ModifiedByField])

	return rec
}

// syntheticID builds a deterministic identity from the table name and the
// receipt time, for sources that supply no usable record id.
func syntheticID(table string, receivedAt time.Time) string {
	h := xxhash.New()
	h.WriteString(table)
	h.WriteString("|")
	h.WriteString(strconv.FormatInt(receivedAt.UnixNano(), 10))
	return "syn-" + strconv.FormatUint(h.Sum64(), 16)
}

// actorString converts a modifying-actor value to a string, substituting the
// sentinel when absent.
func actorString(v any) string {
	s := scalarString(v)
	if s == "" {
		return common.ModifiedBySentinel
	}
	return s
}
