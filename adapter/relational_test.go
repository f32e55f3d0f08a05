package adapter

import (
	"testing"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelational(t *testing.T) Adapter {
	t.Helper()
	a, err := New(cfg.FamilyRelational, relationalFamily())
	require.NoError(t, err)
	return a
}

func TestRelationalDeletedMarker(t *testing.T) {
	a := newRelational(t)

	env := &common.ChangeEnvelope{
		After: map[string]any{
			"employee_id": "E1",
			"__deleted":   "true",
			"created_at":  int64(1700000000000000),
			"updated_at":  int64(1700000000100000),
		},
	}
	assert.Equal(t, common.OpDelete, a.DetectOperation(env))
}

func TestRelationalBeforeOnlyIsDelete(t *testing.T) {
	a := newRelational(t)

	env := &common.ChangeEnvelope{
		Before: map[string]any{"employee_id": "E1"},
	}
	assert.Equal(t, common.OpDelete, a.DetectOperation(env))
}

func TestRelationalGenericFilterDropsSystemColumns(t *testing.T) {
	a := newRelational(t)
	table := &cfg.TableConfig{Name: "employees"}

	fields := a.FilterFields(table, map[string]any{
		"first_name":      "Ada",
		"middle_name":     "",
		"nickname":        nil,
		"__deleted":       "false",
		"__source_ts_ms":  int64(1),
		"__lsn":           int64(42),
		"xmin":            int64(7),
		"ctid":            "(0,1)",
		"department_code": "ENG",
	})

	assert.Equal(t, map[string]any{
		"first_name":      "Ada",
		"department_code": "ENG",
	}, fields)
}

func TestRelationalAllowListFilter(t *testing.T) {
	a := newRelational(t)
	table := &cfg.TableConfig{
		Name:   "employees",
		Fields: []string{"first_name", "salary", "missing", "empty"},
	}

	fields := a.FilterFields(table, map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace", // not allow-listed
		"salary":     int64(100000),
		"empty":      "",
	})

	assert.Equal(t, map[string]any{
		"first_name": "Ada",
		"salary":     int64(100000),
	}, fields)
}

func TestRelationalRecordID(t *testing.T) {
	a := newRelational(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	table := &cfg.TableConfig{Name: "employees", IDField: "employee_id"}
	assert.Equal(t, "E9", a.ExtractRecordID(table, map[string]any{"employee_id": "E9"}, at))

	// Numeric identities become strings
	assert.Equal(t, "42", a.ExtractRecordID(table, map[string]any{"employee_id": int64(42)}, at))

	// Default identity field
	noField := &cfg.TableConfig{Name: "employees"}
	assert.Equal(t, "7", a.ExtractRecordID(noField, map[string]any{"id": int64(7)}, at))

	// Missing identity yields a synthetic id
	id := a.ExtractRecordID(table, map[string]any{}, at)
	assert.Equal(t, syntheticID("employees", at), id)
}
