package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

// Textual layouts tried in order for zone-less datetime values
var zonelessLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// clock is swapped in tests of the degraded-input fallback
var clock = time.Now

// normalizeTimestamp converts a raw timestamp value to an instant rendered in
// the family's fixed offset. The ok result is false when the input was
// unusable and the current time was substituted.
func normalizeTimestamp(raw any, fc cfg.FamilyConfig) (time.Time, bool) {
	loc := offsetLocation(fc.TZOffsetMinutes)

	if raw == nil {
		return clock().In(loc), false
	}

	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return epochToTime(i, fc.TimestampUnit).In(loc), true
		}
		if f, err := v.Float64(); err == nil {
			return epochToTime(int64(f), fc.TimestampUnit).In(loc), true
		}

	case float64:
		return epochToTime(int64(v), fc.TimestampUnit).In(loc), true

	case int64:
		return epochToTime(v, fc.TimestampUnit).In(loc), true

	case int:
		return epochToTime(int64(v), fc.TimestampUnit).In(loc), true

	case string:
		if t, ok := parseTextualTimestamp(v, fc, loc); ok {
			return t, true
		}

	case map[string]any:
		// Wrapped extended-type objects ({"$date": ...}, {"$numberLong": "..."})
		if inner, ok := v["$date"]; ok {
			return normalizeTimestamp(inner, fc)
		}
		if inner, ok := v["$numberLong"]; ok {
			if s, isStr := inner.(string); isStr {
				if i, err := strconv.ParseInt(s, 10, 64); err == nil {
					return epochToTime(i, fc.TimestampUnit).In(loc), true
				}
			}
			return normalizeTimestamp(inner, fc)
		}
	}

	// Degraded input: the caller observes a near-zero latency instead of a
	// pipeline abort.
	return clock().In(loc), false
}

// parseTextualTimestamp handles ISO-8601 strings, zone-less datetimes (parsed
// in the configured fixed offset), numeric strings, and infinity sentinels.
func parseTextualTimestamp(s string, fc cfg.FamilyConfig, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || isInfinitySentinel(s) {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}

	// Zone-less values carry the source server's local-time semantics; the
	// configured offset supplies the missing zone.
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epochToTime(i, fc.TimestampUnit).In(loc), true
	}

	return time.Time{}, false
}

// isInfinitySentinel reports family-specific "no value" timestamp sentinels
func isInfinitySentinel(s string) bool {
	switch strings.ToLower(s) {
	case "infinity", "-infinity", "+infinity":
		return true
	}
	return strings.HasPrefix(s, "9999-12-31")
}

// epochToTime interprets a numeric epoch value in the family's unit
func epochToTime(v int64, unit string) time.Time {
	switch unit {
	case cfg.UnitMicros:
		return time.UnixMicro(v)
	case cfg.UnitMillis:
		return time.UnixMilli(v)
	default:
		// Families that normally report textual datetimes still occasionally
		// emit numeric epochs; millisecond precision is the common case.
		return time.UnixMilli(v)
	}
}

// offsetLocation builds the fixed-offset rendering zone for a family
func offsetLocation(offsetMinutes int) *time.Location {
	if offsetMinutes == 0 {
		return time.UTC
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d:%02d", offsetMinutes/60, abs(offsetMinutes%60)), offsetMinutes*60)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// classifyByTimestamps applies the best-effort CREATE/UPDATE/READ heuristic
// for envelopes without an explicit operation marker. It never classifies
// DELETE: deletions require an explicit marker.
func classifyByTimestamps(image map[string]any, fc cfg.FamilyConfig) common.Operation {
	createdRaw, hasCreated := presentField(image, fc.CreatedField)
	modifiedRaw, hasModified := presentField(image, fc.ModifiedField)

	if hasCreated && !hasModified {
		return common.OpRead // snapshot row: only a creation timestamp
	}
	if !hasCreated && !hasModified {
		return common.OpCreate // no signal at all
	}
	if !hasCreated {
		return common.OpUpdate
	}

	created, okC := normalizeTimestamp(createdRaw, fc)
	modified, okM := normalizeTimestamp(modifiedRaw, fc)
	if !okC || !okM {
		return common.OpCreate
	}

	diff := modified.Sub(created)
	if diff < 0 {
		diff = -diff
	}
	if diff <= time.Duration(fc.CreateThresholdMS)*time.Millisecond {
		return common.OpCreate
	}
	return common.OpUpdate
}

// presentField reports whether a field exists with a usable (non-nil) value
func presentField(image map[string]any, name string) (any, bool) {
	if name == "" || image == nil {
		return nil, false
	}
	v, ok := image[name]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return nil, false
	}
	return v, true
}

// truthy reports whether a deletion-marker value is set
func truthy(v any) bool {
	switch m := v.(type) {
	case bool:
		return m
	case string:
		switch strings.ToLower(m) {
		case "true", "t", "1", "yes":
			return true
		}
	case json.Number:
		return m.String() != "0"
	case float64:
		return m != 0
	}
	return false
}

// scalarString renders an identity or actor value as a string
func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case map[string]any:
		// Wrapped identity objects ({"$oid": "..."}, {"$numberLong": "..."})
		if inner, ok := s["$oid"]; ok {
			return scalarString(inner)
		}
		if inner, ok := s["$numberLong"]; ok {
			return scalarString(inner)
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// emptyValue reports values the generic field filter drops
func emptyValue(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	case map[string]any:
		return len(s) == 0
	case []any:
		return len(s) == 0
	}
	return false
}
