package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Database family names recognized by the adapter factory
const (
	FamilyRelational = "relational"
	FamilyDocument   = "document"
	FamilyColumnar   = "columnar"
)

// Timestamp units a source database may report
const (
	UnitMicros = "micros"
	UnitMillis = "millis"
	UnitISO    = "iso"
)

// SourceConfiguration controls the inbound change stream
type SourceConfiguration struct {
	Kind                 string   `toml:"kind"` // "kafka" or "nats"
	Brokers              []string `toml:"brokers"`
	TopicPrefix          string   `toml:"topic_prefix"`
	GroupID              string   `toml:"group_id"`
	NatsURL              string   `toml:"nats_url"`
	NatsStream           string   `toml:"nats_stream"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectInitialMS   int      `toml:"reconnect_initial_ms"`
	ReconnectMaxMS       int      `toml:"reconnect_max_ms"`
}

// LedgerConfiguration controls the downstream write API client
type LedgerConfiguration struct {
	BaseURL            string `toml:"base_url"`
	TimeoutMS          int    `toml:"timeout_ms"`
	DeleteTimeoutMS    int    `toml:"delete_timeout_ms"`
	GzipThresholdBytes int    `toml:"gzip_threshold_bytes"` // 0 disables compression
}

// PipelineConfiguration controls dedup, batching and concurrency
type PipelineConfiguration struct {
	DedupWindowMS    int `toml:"dedup_window_ms"`
	DedupToleranceMS int `toml:"dedup_tolerance_ms"`
	BatchSize        int `toml:"batch_size"`
	BatchIdleMS      int `toml:"batch_idle_ms"`
	MaxConcurrent    int `toml:"max_concurrent"`
	SummaryIntervalS int `toml:"summary_interval_seconds"`
}

// JournalConfiguration controls the dead-letter journal for failed forwards
type JournalConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// TableConfig maps an inbound stream to a ledger endpoint.
// Field names left empty inherit the family-level defaults.
type TableConfig struct {
	Name            string   `toml:"name"`
	StreamPattern   string   `toml:"stream_pattern"` // optional glob over the full stream name
	Family          string   `toml:"family"`
	IDField         string   `toml:"id_field"`
	CreatedField    string   `toml:"created_field"`
	ModifiedField   string   `toml:"modified_field"`
	ModifiedByField string   `toml:"modified_by_field"`
	Fields          []string `toml:"fields"` // allow-list; empty = generic filter
	Endpoint        string   `toml:"endpoint"`
	PayloadKey      string   `toml:"payload_key"`
	TZOffsetMinutes int      `toml:"tz_offset_minutes"`
}

// FamilyConfig holds per-database-family normalization defaults
type FamilyConfig struct {
	CreatedField      string `toml:"created_field"`
	ModifiedField     string `toml:"modified_field"`
	ModifiedByField   string `toml:"modified_by_field"`
	TimestampUnit     string `toml:"timestamp_unit"`
	TZOffsetMinutes   int    `toml:"tz_offset_minutes"`
	CreateThresholdMS int    `toml:"create_threshold_ms"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminConfiguration for the ops HTTP API
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Source     SourceConfiguration     `toml:"source"`
	Ledger     LedgerConfiguration     `toml:"ledger"`
	Pipeline   PipelineConfiguration   `toml:"pipeline"`
	Journal    JournalConfiguration    `toml:"journal"`
	Tables     []TableConfig           `toml:"table"`
	Families   map[string]FamilyConfig `toml:"family"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	InstanceIDFlag = flag.Uint64("instance-id", 0, "Instance ID (overrides config, 0=auto)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging")
)

// Default configuration
var Config = &Configuration{
	InstanceID: 0, // Auto-generate
	DataDir:    "./ledgerfeed-data",

	Source: SourceConfiguration{
		Kind:                 "kafka",
		Brokers:              []string{"localhost:9092"},
		TopicPrefix:          "cdc",
		GroupID:              "ledgerfeed",
		MaxReconnectAttempts: 10,
		ReconnectInitialMS:   500,
		ReconnectMaxMS:       30000,
	},

	Ledger: LedgerConfiguration{
		BaseURL:            "http://localhost:3000",
		TimeoutMS:          10000,
		DeleteTimeoutMS:    30000,
		GzipThresholdBytes: 0,
	},

	Pipeline: PipelineConfiguration{
		DedupWindowMS:    10000,
		DedupToleranceMS: 5000,
		BatchSize:        10,
		BatchIdleMS:      100,
		MaxConcurrent:    5,
		SummaryIntervalS: 30,
	},

	Journal: JournalConfiguration{
		Enabled: true,
	},

	Families: map[string]FamilyConfig{
		FamilyRelational: {
			CreatedField:      "created_at",
			ModifiedField:     "updated_at",
			ModifiedByField:   "updated_by",
			TimestampUnit:     UnitMicros,
			CreateThresholdMS: 5000,
		},
		FamilyDocument: {
			CreatedField:      "createdAt",
			ModifiedField:     "updatedAt",
			ModifiedByField:   "updatedBy",
			TimestampUnit:     UnitISO,
			CreateThresholdMS: 5000,
		},
		FamilyColumnar: {
			CreatedField:      "created_ts",
			ModifiedField:     "modified_ts",
			ModifiedByField:   "modified_by",
			TimestampUnit:     UnitMillis,
			CreateThresholdMS: 5000,
		},
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    8081,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *InstanceIDFlag != 0 {
		Config.InstanceID = *InstanceIDFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID creates a unique instance ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("ledgerfeed")
	if err != nil {
		// Machine ID is unavailable in some container images
		hostname, herr := os.Hostname()
		if herr != nil {
			return 0, err
		}
		id = hostname
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Source.Kind {
	case "kafka":
		if len(Config.Source.Brokers) == 0 {
			return fmt.Errorf("kafka source requires at least one broker")
		}
		if Config.Source.GroupID == "" {
			return fmt.Errorf("kafka source requires group_id")
		}
	case "nats":
		if Config.Source.NatsURL == "" {
			return fmt.Errorf("nats source requires nats_url")
		}
	default:
		return fmt.Errorf("unknown source kind: %s", Config.Source.Kind)
	}

	if Config.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger base_url is required")
	}
	if Config.Ledger.TimeoutMS < 1 {
		return fmt.Errorf("ledger timeout must be >= 1ms")
	}
	if Config.Ledger.DeleteTimeoutMS < 1 {
		Config.Ledger.DeleteTimeoutMS = Config.Ledger.TimeoutMS
	}

	if Config.Pipeline.DedupWindowMS < 0 {
		return fmt.Errorf("dedup window must be >= 0")
	}
	if Config.Pipeline.DedupToleranceMS < 0 {
		return fmt.Errorf("dedup tolerance must be >= 0")
	}
	if Config.Pipeline.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1")
	}
	if Config.Pipeline.BatchIdleMS < 1 {
		return fmt.Errorf("batch idle timeout must be >= 1ms")
	}
	if Config.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent forwards must be >= 1")
	}

	if len(Config.Tables) == 0 {
		return fmt.Errorf("at least one [[table]] configuration is required")
	}

	seen := make(map[string]bool, len(Config.Tables))
	for i := range Config.Tables {
		tc := &Config.Tables[i]
		if tc.Name == "" {
			return fmt.Errorf("table %d: name is required", i)
		}
		if seen[tc.Name] {
			return fmt.Errorf("duplicate table configuration: %s", tc.Name)
		}
		seen[tc.Name] = true

		if tc.Family == "" {
			tc.Family = FamilyRelational
		}
		if _, ok := Config.Families[tc.Family]; !ok {
			return fmt.Errorf("table %s: unknown family: %s", tc.Name, tc.Family)
		}
		if tc.Endpoint == "" {
			tc.Endpoint = "/" + tc.Name
		}
		if tc.PayloadKey == "" {
			tc.PayloadKey = deriveDataKey(tc.Name)
		}
	}

	for name, fc := range Config.Families {
		switch fc.TimestampUnit {
		case UnitMicros, UnitMillis, UnitISO:
		default:
			return fmt.Errorf("family %s: unknown timestamp unit: %s", name, fc.TimestampUnit)
		}
	}

	return nil
}

// FamilyFor returns the resolved family defaults for a table, with
// table-level overrides applied.
func (c *Configuration) FamilyFor(tc *TableConfig) FamilyConfig {
	fc := c.Families[tc.Family]
	if tc.CreatedField != "" {
		fc.CreatedField = tc.CreatedField
	}
	if tc.ModifiedField != "" {
		fc.ModifiedField = tc.ModifiedField
	}
	if tc.ModifiedByField != "" {
		fc.ModifiedByField = tc.ModifiedByField
	}
	if tc.TZOffsetMinutes != 0 {
		fc.TZOffsetMinutes = tc.TZOffsetMinutes
	}
	if fc.CreateThresholdMS == 0 {
		fc.CreateThresholdMS = 5000
	}
	return fc
}

// deriveDataKey turns a table name like "employee_records" into the payload
// key the write API expects, e.g. "employeeRecordsData".
func deriveDataKey(table string) string {
	parts := strings.FieldsFunc(table, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	if len(parts) == 0 {
		return "data"
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(parts[0]))
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	b.WriteString("Data")
	return b.String()
}
