package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all converter settings, populated from environment variables.
// Command-line flags override individual fields after Load.
type Config struct {
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	ChunkHours   int
	Prefetch     bool
	StackLevels  bool
	KeepNegative bool

	// MetricsAddr enables the /metrics, /healthz and /readyz server when set.
	MetricsAddr string

	// Progress notifications, enabled when KafkaBrokers is non-empty.
	KafkaBrokers       []string
	KafkaProgressTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	chunkHours, err := parsePositiveInt("CHUNK_HOURS", "1")
	if err != nil {
		return nil, err
	}
	prefetch, err := parseBool("PREFETCH", "false")
	if err != nil {
		return nil, err
	}
	stackLevels, err := parseBool("STACK_LEVELS", "true")
	if err != nil {
		return nil, err
	}
	keepNegative, err := parseBool("KEEP_NEGATIVE", "false")
	if err != nil {
		return nil, err
	}

	var brokers []string
	if s := sharedcfg.EnvOrDefault("KAFKA_BROKERS", ""); s != "" {
		brokers = sharedcfg.ParseBrokers(s)
	}

	cfg := &Config{
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
		ShutdownTimeout:    shutdownTimeout,
		ChunkHours:         chunkHours,
		Prefetch:           prefetch,
		StackLevels:        stackLevels,
		KeepNegative:       keepNegative,
		MetricsAddr:        sharedcfg.EnvOrDefault("METRICS_ADDR", ""),
		KafkaBrokers:       brokers,
		KafkaProgressTopic: sharedcfg.EnvOrDefault("KAFKA_PROGRESS_TOPIC", "gridstream-progress"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that flags can override.
func (c *Config) Validate() error {
	if c.ChunkHours <= 0 {
		return errors.New("CHUNK_HOURS must be a positive integer")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (want json or text)", c.LogFormat)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaProgressTopic == "" {
		return errors.New("KAFKA_PROGRESS_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// ProgressEnabled reports whether chunk progress is published to Kafka.
func (c *Config) ProgressEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parsePositiveInt(key, def string) (int, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, s)
	}
	return n, nil
}

func parseBool(key, def string) (bool, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: must be true or false", key, s)
	}
	return v, nil
}
