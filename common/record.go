package common

import "time"

// ModifiedBySentinel is substituted when the source supplies no actor
const ModifiedBySentinel = "unknown"

// NormalizedRecord is the canonical shape an adapter produces from a
// ChangeEnvelope. RecordID is never empty: sources without a usable identity
// field get a synthetic identity derived from (table, receipt time).
type NormalizedRecord struct {
	RecordID   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	ModifiedBy string
	Operation  Operation
	Fields     map[string]any
	Stream     string
	Table      string
	ReceivedAt time.Time
}
