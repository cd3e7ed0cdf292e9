package config

import "os"

// Environment variable names recognised by ReadEnvOverrides, mirroring
// the teacher's internal/config/env.go naming scheme.
const (
	EnvConfig   = "LAKESYNC_CONFIG"
	EnvLogLevel = "LAKESYNC_LOG_LEVEL"
)

// EnvOverrides captures the environment layer of the defaults -> file ->
// env -> CLI override chain.
type EnvOverrides struct {
	ConfigPath string
	LogLevel   string
}

// ReadEnvOverrides reads the recognised environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
