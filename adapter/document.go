package adapter

import (
	"strings"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

const documentDeletedMarker = "_deleted"

// documentAdapter normalizes document-oriented sources. Values may arrive as
// extended-type wrapper objects ({"$date": ...}, {"$oid": "..."},
// {"$numberLong": "..."}) which are unwrapped during filtering.
type documentAdapter struct {
	fc cfg.FamilyConfig
}

func (a *documentAdapter) DetectOperation(env *common.ChangeEnvelope) common.Operation {
	if op, ok := common.OperationFromCode(env.Op); ok {
		return op
	}

	image := env.Image()
	if truthy(image[documentDeletedMarker]) {
		return common.OpDelete
	}
	if env.After == nil && env.Before != nil {
		return common.OpDelete
	}

	return classifyByTimestamps(image, a.fc)
}

func (a *documentAdapter) NormalizeTimestamp(raw any) time.Time {
	t, _ := normalizeTimestamp(raw, a.fc)
	return t
}

func (a *documentAdapter) ExtractRecordID(table *cfg.TableConfig, data map[string]any, receivedAt time.Time) string {
	field := table.IDField
	if field == "" {
		field = "_id"
	}
	if id := scalarString(data[field]); id != "" {
		return id
	}
	return syntheticID(table.Name, receivedAt)
}

func (a *documentAdapter) FilterFields(table *cfg.TableConfig, data map[string]any) map[string]any {
	if len(table.Fields) > 0 {
		out := filterAllowList(table.Fields, data)
		for k, v := range out {
			out[k] = unwrapExtended(v)
		}
		return out
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "__") || strings.HasPrefix(k, "$") {
			continue
		}
		if emptyValue(v) {
			continue
		}
		out[k] = unwrapExtended(v)
	}
	return out
}

// unwrapExtended flattens extended-type wrapper objects to plain scalars so
// the forwarded payload carries clean JSON. Nested documents are unwrapped
// recursively.
func unwrapExtended(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	if len(m) == 1 {
		if inner, ok := m["$oid"]; ok {
			return inner
		}
		if inner, ok := m["$numberLong"]; ok {
			return inner
		}
		if inner, ok := m["$date"]; ok {
			return inner
		}
	}

	out := make(map[string]any, len(m))
	for k, inner := range m {
		out[k] = unwrapExtended(inner)
	}
	return out
}
