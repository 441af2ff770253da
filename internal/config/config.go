// Package config provides configuration management for the qrng-lab
// application. Configuration is loaded from environment variables with
// sensible defaults.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Environment constants define the application runtime environments.
const (
	EnvironmentDevelopment = "dev"
	EnvironmentProduction  = "prod"

	defaultAPIAddr     = "127.0.0.1:8090"
	defaultMetricsBind = "127.0.0.1:8000"

	defaultBitWidth  = 4
	minBitWidth      = 2
	maxBitWidth      = 8
	defaultSamples   = 1000
	minSamples       = 500
	maxSamples       = 5000
	defaultRateLimit = 10
	defaultRetrySec  = 1
)

// Oracle contains generation backend configuration.
type Oracle struct {
	Backend string `json:"backend"` // Generation backend; "sim" is the only bundled one
	Seed    int64  `json:"seed"`    // Simulator seed; 0 selects a time-based seed
}

// Lab contains generation parameter bounds and defaults.
type Lab struct {
	DefaultBitWidth int `json:"default_bit_width"` // Bit width used when a request omits bits
	MinBitWidth     int `json:"min_bit_width"`     // Lowest accepted bit width
	MaxBitWidth     int `json:"max_bit_width"`     // Highest accepted bit width
	DefaultSamples  int `json:"default_samples"`   // Shot count used when a request omits samples
	MinSamples      int `json:"min_samples"`       // Lowest accepted shot count
	MaxSamples      int `json:"max_samples"`       // Highest accepted shot count
}

// API contains HTTP API server configuration.
type API struct {
	Addr           string `json:"addr"`             // Bind address, loopback unless AllowPublic
	AllowPublic    bool   `json:"allow_public"`     // Permit non-loopback bind addresses
	RateLimitRPS   int    `json:"rate_limit_rps"`   // Generation endpoint: requests per second
	RateLimitBurst int    `json:"rate_limit_burst"` // Generation endpoint: burst allowance
	RetryAfterSec  int    `json:"retry_after_sec"`  // Retry-After hint on 503 responses
}

// Metrics contains Prometheus metrics server configuration.
type Metrics struct {
	Bind    string `json:"bind"`    // Bind address for metrics server
	Enabled bool   `json:"enabled"` // Enable metrics server
}

// MQTT contains the optional run summary publisher configuration.
type MQTT struct {
	Enabled   bool   `json:"enabled"`     // Enable the run summary publisher
	BrokerURL string `json:"broker_url"`  // e.g. "tcp://127.0.0.1:1883" or "ssl://mqtt.example.com:8883"
	Topic     string `json:"topic"`       // Topic for run summaries
	ClientID  string `json:"client_id"`   // MQTT client ID (auto-generated if empty)
	QoS       byte   `json:"qos"`         // Quality of Service level (0 or 1)
	Username  string `json:"username"`    // MQTT username for authentication (optional)
	Password  string `json:"password"`    // MQTT password for authentication (optional)
	TLSCAFile string `json:"tls_ca_file"` // Path to CA certificate for TLS verification (optional)
}

// Config holds the complete application configuration.
type Config struct {
	Oracle      Oracle  `json:"oracle"`
	Lab         Lab     `json:"lab"`
	API         API     `json:"api"`
	Metrics     Metrics `json:"metrics"`
	MQTT        MQTT    `json:"mqtt"`
	Environment string  `json:"environment"` // Runtime environment ("dev" or "prod")
}

// Load reads configuration from environment variables and returns a validated
// Config. It applies defaults first, then overrides with environment
// variables. Returns an error if the final configuration is invalid.
func Load() (Config, error) {
	configuration := Config{
		Oracle: Oracle{
			Backend: "sim",
			Seed:    0,
		},
		Lab: Lab{
			DefaultBitWidth: defaultBitWidth,
			MinBitWidth:     minBitWidth,
			MaxBitWidth:     maxBitWidth,
			DefaultSamples:  defaultSamples,
			MinSamples:      minSamples,
			MaxSamples:      maxSamples,
		},
		API: API{
			Addr:           defaultAPIAddr,
			RateLimitRPS:   defaultRateLimit,
			RateLimitBurst: defaultRateLimit,
			RetryAfterSec:  defaultRetrySec,
		},
		Metrics: Metrics{
			Bind:    defaultMetricsBind,
			Enabled: true,
		},
		MQTT: MQTT{
			Enabled:   false,
			BrokerURL: "tcp://127.0.0.1:1883",
			Topic:     "qrng/runs",
			QoS:       0,
		},
		Environment: EnvironmentDevelopment,
	}

	if err := applyOracleEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applyLabEnvVars(&configuration); err != nil {
		return configuration, err
	}
	applyAPIEnvVars(&configuration)
	applyMetricsEnvVars(&configuration)
	if err := applyMQTTEnvVars(&configuration); err != nil {
		return configuration, err
	}
	if err := applyEnvironmentEnvVars(&configuration); err != nil {
		return configuration, err
	}

	if err := validate(&configuration); err != nil {
		return configuration, err
	}

	return configuration, nil
}

// applyOracleEnvVars reads ORACLE_BACKEND and ORACLE_SEED.
func applyOracleEnvVars(configuration *Config) error {
	if v := os.Getenv("ORACLE_BACKEND"); v != "" {
		configuration.Oracle.Backend = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("ORACLE_SEED"); v != "" {
		seed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return errors.New("config: ORACLE_SEED must be an integer")
		}
		configuration.Oracle.Seed = seed
	}

	return nil
}

// applyLabEnvVars reads generation parameter defaults and bounds. Values
// outside the supported hard limits are clamped with a warning log.
func applyLabEnvVars(configuration *Config) error {
	configuration.Lab.DefaultBitWidth = ParsePositiveEnvInt("LAB_DEFAULT_BITS", configuration.Lab.DefaultBitWidth)
	configuration.Lab.DefaultSamples = ParsePositiveEnvInt("LAB_DEFAULT_SAMPLES", configuration.Lab.DefaultSamples)
	configuration.Lab.MinBitWidth = ParsePositiveEnvInt("LAB_MIN_BITS", configuration.Lab.MinBitWidth)
	configuration.Lab.MaxBitWidth = ParsePositiveEnvInt("LAB_MAX_BITS", configuration.Lab.MaxBitWidth)
	configuration.Lab.MinSamples = ParsePositiveEnvInt("LAB_MIN_SAMPLES", configuration.Lab.MinSamples)
	configuration.Lab.MaxSamples = ParsePositiveEnvInt("LAB_MAX_SAMPLES", configuration.Lab.MaxSamples)

	if configuration.Lab.MinBitWidth < 1 {
		log.Printf("config: LAB_MIN_BITS (%d) below 1, clamping", configuration.Lab.MinBitWidth)
		configuration.Lab.MinBitWidth = 1
	}
	if configuration.Lab.MaxBitWidth < configuration.Lab.MinBitWidth {
		log.Printf("config: LAB_MAX_BITS (%d) lower than min (%d), adjusting to min",
			configuration.Lab.MaxBitWidth, configuration.Lab.MinBitWidth)
		configuration.Lab.MaxBitWidth = configuration.Lab.MinBitWidth
	}
	if configuration.Lab.MaxSamples < configuration.Lab.MinSamples {
		log.Printf("config: LAB_MAX_SAMPLES (%d) lower than min (%d), adjusting to min",
			configuration.Lab.MaxSamples, configuration.Lab.MinSamples)
		configuration.Lab.MaxSamples = configuration.Lab.MinSamples
	}

	return nil
}

// applyAPIEnvVars reads HTTP API server environment variables.
func applyAPIEnvVars(configuration *Config) {
	configuration.API.Addr = GetEnvDefault("API_ADDR", configuration.API.Addr)
	configuration.API.AllowPublic = ParseBoolEnv("ALLOW_PUBLIC_HTTP", configuration.API.AllowPublic)
	configuration.API.RateLimitRPS = ParsePositiveEnvInt("API_RATE_LIMIT_RPS", configuration.API.RateLimitRPS)
	configuration.API.RateLimitBurst = ParsePositiveEnvInt("API_RATE_LIMIT_BURST", configuration.API.RateLimitBurst)
	configuration.API.RetryAfterSec = ParsePositiveEnvInt("API_RETRY_AFTER_SEC", configuration.API.RetryAfterSec)
}

// applyMetricsEnvVars reads Prometheus metrics server environment variables.
func applyMetricsEnvVars(configuration *Config) {
	configuration.Metrics.Bind = GetEnvDefault("METRICS_BIND", configuration.Metrics.Bind)
	configuration.Metrics.Enabled = ParseBoolEnv("METRICS_ENABLED", configuration.Metrics.Enabled)
}

// applyMQTTEnvVars reads run summary publisher environment variables.
// MQTT_QOS is clamped to 0 or 1.
func applyMQTTEnvVars(configuration *Config) error {
	configuration.MQTT.Enabled = ParseBoolEnv("MQTT_ENABLED", configuration.MQTT.Enabled)

	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		configuration.MQTT.BrokerURL = v
	}

	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		configuration.MQTT.Topic = strings.TrimSpace(v)
	}

	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		configuration.MQTT.ClientID = v
	}

	if v := os.Getenv("MQTT_QOS"); v != "" {
		qos, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.New("config: MQTT_QOS must be a number (0 or 1)")
		}
		if qos < 0 {
			qos = 0
		}
		if qos > 1 {
			qos = 1
		}
		configuration.MQTT.QoS = byte(qos)
	}

	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		configuration.MQTT.Username = v
	}

	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		configuration.MQTT.Password = v
	}

	if v := os.Getenv("MQTT_TLS_CA_FILE"); v != "" {
		configuration.MQTT.TLSCAFile = v
	}

	return nil
}

// applyEnvironmentEnvVars reads the ENVIRONMENT variable.
func applyEnvironmentEnvVars(configuration *Config) error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		env := strings.ToLower(strings.TrimSpace(v))
		if env != EnvironmentDevelopment && env != EnvironmentProduction {
			return fmt.Errorf("config: ENVIRONMENT must be %q or %q, got %q",
				EnvironmentDevelopment, EnvironmentProduction, env)
		}
		configuration.Environment = env
	}

	return nil
}

// validate checks cross-field consistency of the final configuration.
func validate(configuration *Config) error {
	if configuration.Oracle.Backend != "sim" {
		return fmt.Errorf("config: unknown ORACLE_BACKEND %q", configuration.Oracle.Backend)
	}

	if configuration.Lab.DefaultBitWidth < configuration.Lab.MinBitWidth ||
		configuration.Lab.DefaultBitWidth > configuration.Lab.MaxBitWidth {
		return fmt.Errorf("config: LAB_DEFAULT_BITS (%d) outside [%d, %d]",
			configuration.Lab.DefaultBitWidth, configuration.Lab.MinBitWidth, configuration.Lab.MaxBitWidth)
	}

	if configuration.Lab.DefaultSamples < configuration.Lab.MinSamples ||
		configuration.Lab.DefaultSamples > configuration.Lab.MaxSamples {
		return fmt.Errorf("config: LAB_DEFAULT_SAMPLES (%d) outside [%d, %d]",
			configuration.Lab.DefaultSamples, configuration.Lab.MinSamples, configuration.Lab.MaxSamples)
	}

	if configuration.API.Addr == "" {
		return errors.New("config: API_ADDR must not be empty")
	}

	if configuration.Metrics.Enabled && configuration.Metrics.Bind == "" {
		return errors.New("config: METRICS_BIND must not be empty when metrics are enabled")
	}

	if configuration.MQTT.Enabled {
		if configuration.MQTT.BrokerURL == "" {
			return errors.New("config: MQTT_BROKER_URL required when MQTT_ENABLED=true")
		}
		if configuration.MQTT.Topic == "" {
			return errors.New("config: MQTT_TOPIC required when MQTT_ENABLED=true")
		}
	}

	return nil
}

// GetEnvDefault returns the environment variable value, or fallback when the
// variable is unset or empty.
func GetEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ParsePositiveEnvInt parses the environment variable as a positive integer,
// returning fallback when the variable is unset, malformed, or non-positive.
func ParsePositiveEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || parsed <= 0 {
		log.Printf("config: %s invalid (%q), using default %d", key, v, fallback)
		return fallback
	}
	return parsed
}

// ParseBoolEnv parses the environment variable as a boolean, returning
// fallback when the variable is unset or malformed.
func ParseBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("config: %s invalid (%q), using default %t", key, v, fallback)
		return fallback
	}
	return parsed
}
