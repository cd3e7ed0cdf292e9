package config

const (
	defaultMaxBufferBytes     = 4 << 20 // 4 MiB
	defaultMaxBufferAgeMs     = 5000
	defaultFlushFormat        = "parquet"
	defaultConsistencyMode    = "eventual"
	defaultAdapterTimeoutMs   = 30000
	defaultCatalogueTimeoutMs = 30000

	defaultStorageDriver = "memory"
	defaultStoragePrefix = "lake"

	defaultCompactionEnabled    = true
	defaultCompactionIntervalMs = 60000
	defaultCompactionOutputDir  = "compacted"

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
)

// DefaultConfig returns a Config with every field set to SPEC_FULL's
// documented default. It carries no gateways: callers append
// GatewayConfig entries (or decode a file that does) before use.
func DefaultConfig() *Config {
	return &Config{
		Gateways:   nil,
		Storage:    defaultStorageConfig(),
		Compaction: defaultCompactionConfig(),
		Logging:    defaultLoggingConfig(),
	}
}

func defaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver: defaultStorageDriver,
		Prefix: defaultStoragePrefix,
	}
}

func defaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:      defaultCompactionEnabled,
		IntervalMs:   defaultCompactionIntervalMs,
		OutputPrefix: defaultCompactionOutputDir,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  defaultLogLevel,
		Format: defaultLogFormat,
	}
}

// applyGatewayDefaults fills zero-valued fields of a decoded GatewayConfig with
// SPEC_FULL §6's documented defaults, mirroring the teacher's
// per-section default-merge idiom (internal/config/defaults.go) but
// applied per-gateway instead of per-profile.
func applyGatewayDefaults(g GatewayConfig) GatewayConfig {
	if g.MaxBufferBytes == 0 {
		g.MaxBufferBytes = defaultMaxBufferBytes
	}

	if g.MaxBufferAgeMs == 0 {
		g.MaxBufferAgeMs = defaultMaxBufferAgeMs
	}

	if g.FlushFormat == "" {
		g.FlushFormat = defaultFlushFormat
	}

	if g.ConsistencyMode == "" {
		g.ConsistencyMode = defaultConsistencyMode
	}

	if g.AdapterTimeoutMs == 0 {
		g.AdapterTimeoutMs = defaultAdapterTimeoutMs
	}

	if g.CatalogueTimeoutMs == 0 {
		g.CatalogueTimeoutMs = defaultCatalogueTimeoutMs
	}

	if g.ExcludeOwnClient == nil {
		t := true
		g.ExcludeOwnClient = &t
	}

	return g
}
