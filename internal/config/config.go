// Package config implements the layered TOML configuration for a
// lakesyncd process: global storage/compaction/logging sections plus
// one `[[gateway]]` table per logical gateway the process serves
// (SPEC_FULL.md §2.1, §6).
package config

// Config is the top-level configuration structure decoded from TOML.
type Config struct {
	Gateways   []GatewayConfig  `toml:"gateway"`
	Storage    StorageConfig    `toml:"storage"`
	Compaction CompactionConfig `toml:"compaction"`
	Logging    LoggingConfig    `toml:"logging"`
}

// GatewayConfig is one `[[gateway]]` table: everything SPEC_FULL §6's
// "Configuration surface" enumerates for a single logical gateway.
type GatewayConfig struct {
	GatewayID          string            `toml:"gateway_id"`
	JWTSecret          string            `toml:"jwt_secret"`
	MaxBufferBytes     int               `toml:"max_buffer_bytes"`
	MaxBufferAgeMs     int64             `toml:"max_buffer_age_ms"`
	FlushFormat        string            `toml:"flush_format"`
	ConsistencyMode    string            `toml:"consistency_mode"`
	TableName          string            `toml:"table_name"`
	CatalogueURI       string            `toml:"catalogue_uri"`
	WarehouseURI       string            `toml:"warehouse_uri"`
	SourceAdapters     map[string]string `toml:"source_adapters"`
	PrimaryAdapter     string            `toml:"primary_adapter"` // write-through target in strong consistency mode
	AdapterTimeoutMs   int64             `toml:"adapter_timeout_ms"`
	CatalogueTimeoutMs int64             `toml:"catalogue_timeout_ms"`
	ExcludeOwnClient   *bool             `toml:"exclude_own_client"`
	SchemaWatchDir     string            `toml:"schema_watch_dir"`
}

// StorageConfig selects and configures the object-storage backend every
// gateway in this process flushes through.
type StorageConfig struct {
	Driver   string `toml:"driver"` // "memory" | "local"
	Prefix   string `toml:"prefix"`
	LocalDir string `toml:"local_dir"`
}

// CompactionConfig configures the shared maintenance scheduler.
type CompactionConfig struct {
	Enabled      bool   `toml:"enabled"`
	IntervalMs   int64  `toml:"interval_ms"`
	OutputPrefix string `toml:"output_prefix"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // auto|json|text
}
