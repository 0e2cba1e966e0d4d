package config

import (
	"os"
	"strconv"
)

// ProcessConfig is the process-level configuration read from the
// environment, per spec.md §6's CLI/runtime surface.
type ProcessConfig struct {
	StoragePath      string
	BusyTimeoutMS    int
	WAL              bool
	SampleRate       float64
	TelemetryEnabled bool
	TelemetryNATSURL string
}

// LoadProcessConfig reads EVOCORE_* environment variables, falling back to
// their documented defaults.
func LoadProcessConfig() ProcessConfig {
	return ProcessConfig{
		StoragePath:      envString("EVOCORE_STORAGE_PATH", "./data/evocore.db"),
		BusyTimeoutMS:    envInt("EVOCORE_BUSY_TIMEOUT_MS", 5000),
		WAL:              envBool("EVOCORE_WAL", true),
		SampleRate:       envFloat("EVOCORE_SAMPLE_RATE", 1.0),
		TelemetryEnabled: envBool("EVOCORE_TELEMETRY_ENABLED", true),
		TelemetryNATSURL: envString("EVOCORE_TELEMETRY_NATS_URL", ""),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
