package adapter

import (
	"testing"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func columnarFamily() cfg.FamilyConfig {
	return cfg.FamilyConfig{
		CreatedField:      "created_ts",
		ModifiedField:     "modified_ts",
		ModifiedByField:   "modified_by",
		TimestampUnit:     cfg.UnitMillis,
		CreateThresholdMS: 5000,
	}
}

func newColumnar(t *testing.T) Adapter {
	t.Helper()
	a, err := New(cfg.FamilyColumnar, columnarFamily())
	require.NoError(t, err)
	return a
}

func TestColumnarStripsFamilyPrefixes(t *testing.T) {
	a := newColumnar(t)
	table := &cfg.TableConfig{Name: "readings"}

	fields := a.FilterFields(table, map[string]any{
		"info:first_name": "Ada",
		"info:last_name":  "Lovelace",
		"meta:_version_":  int64(3),
		"_timestamp_":     int64(1700000000000),
		"row_key":         "R1",
	})

	assert.Equal(t, map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"row_key":    "R1",
	}, fields)
}

func TestColumnarAllowListUsesBareQualifiers(t *testing.T) {
	a := newColumnar(t)
	table := &cfg.TableConfig{Name: "readings", Fields: []string{"first_name"}}

	fields := a.FilterFields(table, map[string]any{
		"info:first_name": "Ada",
		"info:last_name":  "Lovelace",
	})

	assert.Equal(t, map[string]any{"first_name": "Ada"}, fields)
}

func TestColumnarQualifiedIdentity(t *testing.T) {
	a := newColumnar(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	table := &cfg.TableConfig{Name: "readings", IDField: "device_id"}

	assert.Equal(t, "D7", a.ExtractRecordID(table, map[string]any{"meta:device_id": "D7"}, at))
	assert.Equal(t, "D8", a.ExtractRecordID(table, map[string]any{"device_id": "D8"}, at))

	// No identity anywhere: synthetic
	assert.Equal(t, syntheticID("readings", at), a.ExtractRecordID(table, map[string]any{}, at))
}

func TestColumnarTombstoneIsDelete(t *testing.T) {
	a := newColumnar(t)

	env := &common.ChangeEnvelope{
		After: map[string]any{"row_key": "R1", "_tombstone_": true},
	}
	assert.Equal(t, common.OpDelete, a.DetectOperation(env))
}

func TestColumnarVersionHeuristic(t *testing.T) {
	a := newColumnar(t)

	env := &common.ChangeEnvelope{
		After: map[string]any{
			"row_key":     "R1",
			"created_ts":  int64(1700000000000),
			"modified_ts": int64(1700000001000),
		},
	}
	assert.Equal(t, common.OpCreate, a.DetectOperation(env))

	env.After["modified_ts"] = int64(1700009000000)
	assert.Equal(t, common.OpUpdate, a.DetectOperation(env))
}
