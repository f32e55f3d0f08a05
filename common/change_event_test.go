package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationFromCode(t *testing.T) {
	cases := []struct {
		code string
		want Operation
		ok   bool
	}{
		{"c", OpCreate, true},
		{"u", OpUpdate, true},
		{"d", OpDelete, true},
		{"r", OpRead, true},
		{"create", OpCreate, true},
		{"", OpCreate, false},
		{"x", OpCreate, false},
	}
	for _, tc := range cases {
		op, ok := OperationFromCode(tc.code)
		assert.Equal(t, tc.ok, ok, "code %q", tc.code)
		if tc.ok {
			assert.Equal(t, tc.want, op, "code %q", tc.code)
		}
	}
}

func TestParseEnvelopeConnectorFormat(t *testing.T) {
	now := time.Now()
	data := []byte(`{
		"payload": {
			"op": "u",
			"before": {"employee_id": "E1", "salary": 100},
			"after": {"employee_id": "E1", "salary": 200},
			"source": {"ts_ms": 1700000000123},
			"ts_ms": 1700000000456
		}
	}`)

	env, err := ParseEnvelope("cdc.hrdb.employees", data, now)
	require.NoError(t, err)

	assert.Equal(t, "cdc.hrdb.employees", env.Stream)
	assert.Equal(t, "u", env.Op)
	assert.Equal(t, int64(1700000000123), env.SourceTSMillis)
	assert.Equal(t, int64(1700000000456), env.BusTSMillis)
	assert.Equal(t, now, env.ReceivedAt)
	require.NotNil(t, env.Before)
	require.NotNil(t, env.After)
	assert.Equal(t, "E1", env.After["employee_id"])
}

func TestParseEnvelopeBarePayload(t *testing.T) {
	data := []byte(`{"op": "d", "before": {"employee_id": "E2"}, "after": null, "ts_ms": 5}`)

	env, err := ParseEnvelope("cdc.hrdb.employees", data, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "d", env.Op)
	assert.Nil(t, env.After)
	require.NotNil(t, env.Before)
	assert.Equal(t, int64(5), env.BusTSMillis)
}

func TestParseEnvelopeRawRowImage(t *testing.T) {
	data := []byte(`{"employee_id": "E3", "first_name": "Ada"}`)

	env, err := ParseEnvelope("cdc.hrdb.employees", data, time.Now())
	require.NoError(t, err)

	assert.Empty(t, env.Op)
	assert.Nil(t, env.Before)
	require.NotNil(t, env.After)
	assert.Equal(t, "E3", env.After["employee_id"])
}

func TestParseEnvelopeMalformed(t *testing.T) {
	_, err := ParseEnvelope("cdc.hrdb.employees", []byte(`{not json`), time.Now())
	require.Error(t, err)

	_, err = ParseEnvelope("cdc.hrdb.employees", []byte(`[1,2,3]`), time.Now())
	require.Error(t, err)
}

func TestEnvelopeImagePrefersAfter(t *testing.T) {
	env := &ChangeEnvelope{
		Before: map[string]any{"v": 1},
		After:  map[string]any{"v": 2},
	}
	assert.Equal(t, env.After, env.Image())

	env.After = nil
	assert.Equal(t, env.Before, env.Image())
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "employees", TableName("cdc.hrdb.employees"))
	assert.Equal(t, "employees", TableName("employees"))
	assert.Equal(t, "t", TableName("a.b.c.t"))
}
