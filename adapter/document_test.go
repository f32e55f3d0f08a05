package adapter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func documentFamily() cfg.FamilyConfig {
	return cfg.FamilyConfig{
		CreatedField:      "createdAt",
		ModifiedField:     "updatedAt",
		ModifiedByField:   "updatedBy",
		TimestampUnit:     cfg.UnitISO,
		CreateThresholdMS: 5000,
	}
}

func newDocument(t *testing.T) Adapter {
	t.Helper()
	a, err := New(cfg.FamilyDocument, documentFamily())
	require.NoError(t, err)
	return a
}

func TestDocumentObjectIDIdentity(t *testing.T) {
	a := newDocument(t)
	at := time.Now()
	table := &cfg.TableConfig{Name: "profiles"}

	id := a.ExtractRecordID(table, map[string]any{
		"_id": map[string]any{"$oid": "65f1c0ffee0123456789abcd"},
	}, at)
	assert.Equal(t, "65f1c0ffee0123456789abcd", id)
}

func TestDocumentUnwrapsExtendedTypes(t *testing.T) {
	a := newDocument(t)
	table := &cfg.TableConfig{Name: "profiles"}

	fields := a.FilterFields(table, map[string]any{
		"_id":      map[string]any{"$oid": "65f1c0ffee0123456789abcd"},
		"visits":   map[string]any{"$numberLong": "12345"},
		"lastSeen": map[string]any{"$date": json.Number("1700000000123")},
		"profile": map[string]any{
			"score": map[string]any{"$numberLong": "99"},
			"tags":  []any{"a", "b"},
		},
		"$clusterTime": map[string]any{"ts": 1},
		"__source":     "cdc",
	})

	assert.Equal(t, "65f1c0ffee0123456789abcd", fields["_id"])
	assert.Equal(t, "12345", fields["visits"])
	assert.Equal(t, json.Number("1700000000123"), fields["lastSeen"])
	assert.NotContains(t, fields, "$clusterTime")
	assert.NotContains(t, fields, "__source")

	nested, ok := fields["profile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "99", nested["score"])
}

func TestDocumentDeletedMarker(t *testing.T) {
	a := newDocument(t)

	env := &common.ChangeEnvelope{
		After: map[string]any{"_id": "x", "_deleted": true},
	}
	assert.Equal(t, common.OpDelete, a.DetectOperation(env))
}

func TestDocumentSnapshotHeuristic(t *testing.T) {
	a := newDocument(t)

	env := &common.ChangeEnvelope{
		After: map[string]any{
			"_id":       "x",
			"createdAt": "2023-11-14T22:13:20Z",
		},
	}
	assert.Equal(t, common.OpRead, a.DetectOperation(env))
}

func TestDocumentTextualTimestampHeuristic(t *testing.T) {
	a := newDocument(t)

	// Created/modified 2 seconds apart: CREATE
	env := &common.ChangeEnvelope{
		After: map[string]any{
			"_id":       "x",
			"createdAt": "2023-11-14T22:13:20Z",
			"updatedAt": "2023-11-14T22:13:22Z",
		},
	}
	assert.Equal(t, common.OpCreate, a.DetectOperation(env))

	// An hour apart: UPDATE
	env.After["updatedAt"] = "2023-11-14T23:13:20Z"
	assert.Equal(t, common.OpUpdate, a.DetectOperation(env))
}
