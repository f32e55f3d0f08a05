package adapter

import (
	"strings"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

// Connector metadata columns injected into relational row images. Anything
// with the double-underscore prefix is connector-internal as well.
var relationalSystemColumns = map[string]bool{
	"xmin": true, // MVCC system columns
	"xmax": true,
	"ctid": true,
}

const relationalDeletedMarker = "__deleted"

// relationalAdapter normalizes row-oriented relational sources. Timestamps
// arrive as epoch values (micros by default) or zone-less datetime text.
type relationalAdapter struct {
	fc cfg.FamilyConfig
}

func (a *relationalAdapter) DetectOperation(env *common.ChangeEnvelope) common.Operation {
	if op, ok := common.OperationFromCode(env.Op); ok {
		return op
	}

	image := env.Image()
	if truthy(image[relationalDeletedMarker]) {
		return common.OpDelete
	}
	if env.After == nil && env.Before != nil {
		return common.OpDelete
	}

	return classifyByTimestamps(image, a.fc)
}

func (a *relationalAdapter) NormalizeTimestamp(raw any) time.Time {
	t, _ := normalizeTimestamp(raw, a.fc)
	return t
}

func (a *relationalAdapter) ExtractRecordID(table *cfg.TableConfig, data map[string]any, receivedAt time.Time) string {
	field := table.IDField
	if field == "" {
		field = "id"
	}
	if id := scalarString(data[field]); id != "" {
		return id
	}
	return syntheticID(table.Name, receivedAt)
}

func (a *relationalAdapter) FilterFields(table *cfg.TableConfig, data map[string]any) map[string]any {
	if len(table.Fields) > 0 {
		return filterAllowList(table.Fields, data)
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "__") || relationalSystemColumns[k] {
			continue
		}
		if emptyValue(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// filterAllowList keeps only allow-listed keys with usable values
func filterAllowList(fields []string, data map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, k := range fields {
		v, ok := data[k]
		if !ok || emptyValue(v) {
			continue
		}
		out[k] = v
	}
	return out
}
