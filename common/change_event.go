package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operation is the canonical classification of a change event
type Operation uint8

const (
	OpCreate Operation = iota
	OpUpdate
	OpDelete
	OpRead // snapshot read
)

// String returns the canonical operation name
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpRead:
		return "READ"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
	}
}

// OperationFromCode maps a connector operation marker to the canonical
// operation. Returns false when the marker is absent or unrecognized.
func OperationFromCode(code string) (Operation, bool) {
	switch code {
	case "c", "create":
		return OpCreate, true
	case "u", "update":
		return OpUpdate, true
	case "d", "delete":
		return OpDelete, true
	case "r", "read":
		return OpRead, true
	default:
		return OpCreate, false
	}
}

// ChangeEnvelope is the raw unit received from the upstream change stream.
// It is consumed exactly once by the pipeline and discarded after processing.
type ChangeEnvelope struct {
	Stream         string         // full stream name, e.g. "cdc.hrdb.employees"
	Op             string         // raw operation marker ("c"/"u"/"d"/"r"), may be empty
	Before         map[string]any // old row image, nil when absent
	After          map[string]any // new row image, nil when absent
	SourceTSMillis int64          // source-reported timestamp (payload.source.ts_ms)
	BusTSMillis    int64          // connector timestamp (payload.ts_ms)
	ReceivedAt     time.Time      // assigned when the pipeline accepts the message
}

// Image returns the row image to normalize: the after image when present,
// otherwise the before image (DELETE events carry only a before image).
func (e *ChangeEnvelope) Image() map[string]any {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// ParseEnvelope decodes a raw message body into a ChangeEnvelope. It accepts
// the connector envelope ({"payload": {...}}), a bare payload object, and a
// raw row image delivered without any envelope (snapshot/direct delivery).
func ParseEnvelope(stream string, data []byte, receivedAt time.Time) (*ChangeEnvelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("malformed change event: %w", err)
	}

	env := &ChangeEnvelope{
		Stream:     stream,
		ReceivedAt: receivedAt,
	}

	body := root
	if payload, ok := root["payload"].(map[string]any); ok {
		body = payload
	}

	op, hasOp := body["op"].(string)
	_, hasAfter := body["after"]
	_, hasBefore := body["before"]

	if !hasOp && !hasAfter && !hasBefore {
		// Raw row image with no envelope
		env.After = body
		return env, nil
	}

	env.Op = op
	if after, ok := body["after"].(map[string]any); ok {
		env.After = after
	}
	if before, ok := body["before"].(map[string]any); ok {
		env.Before = before
	}
	if source, ok := body["source"].(map[string]any); ok {
		env.SourceTSMillis = numberToInt64(source["ts_ms"])
	}
	env.BusTSMillis = numberToInt64(body["ts_ms"])

	return env, nil
}

// TableName extracts the table name from a table-qualified stream name
// ("<prefix>.<database>.<table>" -> "<table>").
func TableName(stream string) string {
	if idx := strings.LastIndexByte(stream, '.'); idx >= 0 {
		return stream[idx+1:]
	}
	return stream
}

// numberToInt64 converts a decoded JSON value to int64, returning 0 for
// anything that is not numeric.
func numberToInt64(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return i
	case float64:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
