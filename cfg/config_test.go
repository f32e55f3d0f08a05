package cfg

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestConfig(t *testing.T, mutate func(c *Configuration)) {
	t.Helper()
	saved := *Config
	savedTables := append([]TableConfig(nil), Config.Tables...)
	t.Cleanup(func() {
		*Config = saved
		Config.Tables = savedTables
	})

	Config.Tables = []TableConfig{
		{Name: "employees", Family: FamilyRelational, IDField: "employee_id"},
	}
	if mutate != nil {
		mutate(Config)
	}
}

func TestValidateDefaults(t *testing.T) {
	withTestConfig(t, nil)
	require.NoError(t, Validate())

	// Endpoint and payload key derived from table name
	assert.Equal(t, "/employees", Config.Tables[0].Endpoint)
	assert.Equal(t, "employeesData", Config.Tables[0].PayloadKey)
}

func TestValidateUnknownFamily(t *testing.T) {
	withTestConfig(t, func(c *Configuration) {
		c.Tables[0].Family = "graph"
	})
	err := Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown family")
}

func TestValidateDuplicateTable(t *testing.T) {
	withTestConfig(t, func(c *Configuration) {
		c.Tables = append(c.Tables, TableConfig{Name: "employees"})
	})
	err := Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate table")
}

func TestValidateNoTables(t *testing.T) {
	withTestConfig(t, func(c *Configuration) {
		c.Tables = nil
	})
	require.Error(t, Validate())
}

func TestValidateSourceKind(t *testing.T) {
	withTestConfig(t, func(c *Configuration) {
		c.Source.Kind = "rabbitmq"
	})
	require.Error(t, Validate())

	withTestConfig(t, func(c *Configuration) {
		c.Source.Kind = "nats"
		c.Source.NatsURL = ""
	})
	require.Error(t, Validate())
}

func TestValidatePipelineBounds(t *testing.T) {
	withTestConfig(t, func(c *Configuration) {
		c.Pipeline.BatchSize = 0
	})
	require.Error(t, Validate())

	withTestConfig(t, func(c *Configuration) {
		c.Pipeline.MaxConcurrent = 0
	})
	require.Error(t, Validate())
}

func TestFamilyForTableOverrides(t *testing.T) {
	withTestConfig(t, func(c *Configuration) {
		c.Tables[0].ModifiedField = "last_changed"
		c.Tables[0].TZOffsetMinutes = 330
	})

	fc := Config.FamilyFor(&Config.Tables[0])
	assert.Equal(t, "last_changed", fc.ModifiedField)
	assert.Equal(t, 330, fc.TZOffsetMinutes)
	// Untouched defaults survive
	assert.Equal(t, "created_at", fc.CreatedField)
	assert.Equal(t, UnitMicros, fc.TimestampUnit)
}

func TestDeriveDataKey(t *testing.T) {
	cases := map[string]string{
		"employees":        "employeesData",
		"employee_records": "employeeRecordsData",
		"audit-log":        "auditLogData",
		"Payroll":          "payrollData",
	}
	for in, want := range cases {
		assert.Equal(t, want, deriveDataKey(in), "input %q", in)
	}
}

func TestDecodeTableTOML(t *testing.T) {
	var c Configuration
	_, err := toml.Decode(`
[[table]]
name = "employees"
family = "relational"
id_field = "employee_id"
fields = ["first_name", "last_name", "salary"]
endpoint = "/api/employee"
payload_key = "employeeData"
tz_offset_minutes = -300

[family.relational]
created_field = "created_at"
modified_field = "updated_at"
timestamp_unit = "micros"
create_threshold_ms = 5000
`, &c)
	require.NoError(t, err)
	require.Len(t, c.Tables, 1)

	tc := c.Tables[0]
	assert.Equal(t, "employees", tc.Name)
	assert.Equal(t, []string{"first_name", "last_name", "salary"}, tc.Fields)
	assert.Equal(t, "employeeData", tc.PayloadKey)
	assert.Equal(t, -300, tc.TZOffsetMinutes)
	assert.Equal(t, UnitMicros, c.Families[FamilyRelational].TimestampUnit)
}
