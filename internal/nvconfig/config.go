// Package nvconfig resolves the runtime's environment-variable driven
// configuration, following the env-first resolution convention the
// teacher's agent package uses for its own config surface.
package nvconfig

import (
	"os"
	"strconv"
)

// BrokerBackend selects which internal/broker implementation a node dials.
type BrokerBackend string

const (
	BrokerBackendRedis    BrokerBackend = "redis"
	BrokerBackendEmbedded BrokerBackend = "embedded"
)

// Config is the resolved runtime configuration.
type Config struct {
	LogLevel   int
	LogPretty  bool
	Workspace  string
	Backend    BrokerBackend
	RedisHost  string
	RedisPort  string
	UnixSocket string

	// EmbeddedDir, when set, pins the embedded backend to a specific
	// directory that every Connect call naming it shares (ref-counted).
	// Empty selects the process-wide default instance.
	EmbeddedDir string
}

// Load resolves Config from the process environment.
func Load() Config {
	cfg := Config{
		LogLevel:  getEnvInt("NV_LOG_LEVEL", 0),
		LogPretty: getEnvBool("NV_LOG_PRETTY", false),
		Workspace: os.Getenv("NV_WORKSPACE"),
		Backend:   BrokerBackend(getEnv("NV_BROKER_BACKEND", string(BrokerBackendRedis))),

		RedisHost:  os.Getenv("NV_REDIS_HOST"),
		RedisPort:  getEnv("NV_REDIS_PORT", "6379"),
		UnixSocket: os.Getenv("NV_REDIS_UNIX_SOCKET"),

		EmbeddedDir: os.Getenv("NV_EMBEDDED_DIR"),
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	return v == "1" || v == "true"
}
