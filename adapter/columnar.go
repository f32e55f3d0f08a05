package adapter

import (
	"strings"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

// Version/bookkeeping columns emitted by column-versioned stores
var columnarSystemColumns = map[string]bool{
	"_version_":   true,
	"_timestamp_": true,
	"_tombstone_": true,
}

const columnarDeletedMarker = "_tombstone_"

// columnarAdapter normalizes column-versioned sources. Column names may be
// qualified as "family:qualifier"; cell versions are epoch milliseconds.
type columnarAdapter struct {
	fc cfg.FamilyConfig
}

func (a *columnarAdapter) DetectOperation(env *common.ChangeEnvelope) common.Operation {
	if op, ok := common.OperationFromCode(env.Op); ok {
		return op
	}

	image := env.Image()
	if truthy(image[columnarDeletedMarker]) {
		return common.OpDelete
	}
	if env.After == nil && env.Before != nil {
		return common.OpDelete
	}

	return classifyByTimestamps(image, a.fc)
}

func (a *columnarAdapter) NormalizeTimestamp(raw any) time.Time {
	t, _ := normalizeTimestamp(raw, a.fc)
	return t
}

func (a *columnarAdapter) ExtractRecordID(table *cfg.TableConfig, data map[string]any, receivedAt time.Time) string {
	field := table.IDField
	if field == "" {
		field = "row_key"
	}
	if id := scalarString(data[field]); id != "" {
		return id
	}
	// Qualified variant of the identity column
	for k, v := range data {
		if qualifier(k) == field {
			if id := scalarString(v); id != "" {
				return id
			}
		}
	}
	return syntheticID(table.Name, receivedAt)
}

func (a *columnarAdapter) FilterFields(table *cfg.TableConfig, data map[string]any) map[string]any {
	// Reduce qualified column names before any filtering so allow-lists can
	// name bare qualifiers.
	reduced := make(map[string]any, len(data))
	for k, v := range data {
		reduced[qualifier(k)] = v
	}

	if len(table.Fields) > 0 {
		return filterAllowList(table.Fields, reduced)
	}

	out := make(map[string]any, len(reduced))
	for k, v := range reduced {
		if strings.HasPrefix(k, "__") || columnarSystemColumns[k] {
			continue
		}
		if emptyValue(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// qualifier strips the "family:" prefix from a qualified column name
func qualifier(column string) string {
	if idx := strings.IndexByte(column, ':'); idx >= 0 {
		return column[idx+1:]
	}
	return column
}
