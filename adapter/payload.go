package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

// ISO-8601 with millisecond precision and an explicit offset, so fixture
// tests can compare exact strings.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// PayloadStats captures the size reduction achieved by field filtering.
// Purely observability; no control decision depends on it.
type PayloadStats struct {
	OriginalBytes int
	FilteredBytes int
	ReductionPct  float64
}

// recordBody is the per-record body of the outbound forwarding call
type recordBody struct {
	RecordID          string         `json:"recordId"`
	CreatedTimestamp  string         `json:"createdTimestamp"`
	ModifiedTimestamp string         `json:"modifiedTimestamp"`
	ModifiedBy        string         `json:"modifiedBy"`
	AllData           map[string]any `json:"allData"`
}

// BuildPayload assembles the JSON body for the downstream write API:
//
//	{ "<payloadKey>": { "recordId": ..., "createdTimestamp": ...,
//	                    "modifiedTimestamp": ..., "modifiedBy": ...,
//	                    "allData": { ... } } }
//
// rawImage is the unfiltered row image, used only for the size statistic.
func BuildPayload(table *cfg.TableConfig, rec *common.NormalizedRecord, rawImage map[string]any) ([]byte, PayloadStats, error) {
	body := map[string]recordBody{
		table.PayloadKey: {
			RecordID:          rec.RecordID,
			CreatedTimestamp:  rec.CreatedAt.Format(timestampLayout),
			ModifiedTimestamp: rec.ModifiedAt.Format(timestampLayout),
			ModifiedBy:        rec.ModifiedBy,
			AllData:           rec.Fields,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, PayloadStats{}, fmt.Errorf("failed to marshal forwarding payload: %w", err)
	}

	stats := PayloadStats{FilteredBytes: sizeOf(rec.Fields)}
	stats.OriginalBytes = stats.FilteredBytes
	if rawImage != nil {
		stats.OriginalBytes = sizeOf(rawImage)
	}
	if stats.OriginalBytes > 0 {
		stats.ReductionPct = 100 * float64(stats.OriginalBytes-stats.FilteredBytes) / float64(stats.OriginalBytes)
	}

	return payload, stats, nil
}

func sizeOf(m map[string]any) int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(data)
}
