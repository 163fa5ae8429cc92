// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/huduma-collective/hudumahub/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (optional; rate limiting and health checks degrade to
	// in-memory when unset)
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`

	// M-Pesa Daraja gateway
	MpesaConsumerKey     string `koanf:"mpesa_consumer_key"`
	MpesaConsumerSecret  string `koanf:"mpesa_consumer_secret"`
	MpesaPasskey         string `koanf:"mpesa_passkey"`
	MpesaShortcode       string `koanf:"mpesa_shortcode"`
	MpesaBaseURL         string `koanf:"mpesa_base_url"`
	MpesaCallbackBaseURL string `koanf:"mpesa_callback_base_url"` // public base URL the gateway calls back to

	// Payment reconciliation
	SweepIntervalSeconds int  `koanf:"sweep_interval_seconds"`
	SweepMinAgeSeconds   int  `koanf:"sweep_min_age_seconds"`
	SweepBatchSize       int  `koanf:"sweep_batch_size"`
	StatusQueryEnabled   bool `koanf:"status_query_enabled"` // active gateway query on the poll endpoint

	// Rate limiting on the status poll endpoint
	PollRateLimitPerMinute int `koanf:"poll_rate_limit_per_minute"`

	// CORS; comma-separated origin allowlist, empty disables CORS handling
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"` // otlp-grpc or otlp-http
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL         = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret           = errors.New("JWT_SECRET is required")
	ErrMissingMpesaConsumerKey    = errors.New("MPESA_CONSUMER_KEY is required")
	ErrMissingMpesaConsumerSecret = errors.New("MPESA_CONSUMER_SECRET is required")
	ErrMissingMpesaPasskey        = errors.New("MPESA_PASSKEY is required")
	ErrMissingMpesaShortcode      = errors.New("MPESA_SHORTCODE is required")
	ErrMissingMpesaCallbackURL    = errors.New("MPESA_CALLBACK_BASE_URL is required")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultMpesaBaseURL           = "https://sandbox.safaricom.co.ke"
	DefaultSweepIntervalSeconds   = 60
	DefaultSweepMinAgeSeconds     = 120
	DefaultSweepBatchSize         = 50
	DefaultStatusQueryEnabled     = true
	DefaultPollRateLimitPerMinute = 30
	DefaultTracingExporter        = "otlp-http"
	DefaultTracingSamplingRate    = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	sweepInterval, err := getEnvIntOrDefault("SWEEP_INTERVAL_SECONDS", k.Int("sweep_interval_seconds"), DefaultSweepIntervalSeconds)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sweepMinAge, err := getEnvIntOrDefault("SWEEP_MIN_AGE_SECONDS", k.Int("sweep_min_age_seconds"), DefaultSweepMinAgeSeconds)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sweepBatch, err := getEnvIntOrDefault("SWEEP_BATCH_SIZE", k.Int("sweep_batch_size"), DefaultSweepBatchSize)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	pollLimit, err := getEnvIntOrDefault("POLL_RATE_LIMIT_PER_MINUTE", k.Int("poll_rate_limit_per_minute"), DefaultPollRateLimitPerMinute)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefaultMulti([]string{"HUDUMA_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:               getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:              getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		MpesaConsumerKey:       getEnvOrKoanf("MPESA_CONSUMER_KEY", k, "mpesa_consumer_key"),
		MpesaConsumerSecret:    getEnvOrKoanf("MPESA_CONSUMER_SECRET", k, "mpesa_consumer_secret"),
		MpesaPasskey:           getEnvOrKoanf("MPESA_PASSKEY", k, "mpesa_passkey"),
		MpesaShortcode:         getEnvOrKoanf("MPESA_SHORTCODE", k, "mpesa_shortcode"),
		MpesaBaseURL:           getEnvOrDefault("MPESA_BASE_URL", k.String("mpesa_base_url"), DefaultMpesaBaseURL),
		MpesaCallbackBaseURL:   getEnvOrKoanf("MPESA_CALLBACK_BASE_URL", k, "mpesa_callback_base_url"),
		SweepIntervalSeconds:   sweepInterval,
		SweepMinAgeSeconds:     sweepMinAge,
		SweepBatchSize:         sweepBatch,
		StatusQueryEnabled:     getEnvBoolOrDefault("STATUS_QUERY_ENABLED", k, "status_query_enabled", DefaultStatusQueryEnabled),
		PollRateLimitPerMinute: pollLimit,
		CORSAllowedOrigins:     getEnvOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		TracingEnabled:         getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:        getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:        getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSamplingRate:    samplingRate,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set, otherwise the koanf value, or default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey)
	}
	return defaultVal
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.MpesaConsumerKey == "" {
		errs = append(errs, ErrMissingMpesaConsumerKey)
	}
	if c.MpesaConsumerSecret == "" {
		errs = append(errs, ErrMissingMpesaConsumerSecret)
	}
	if c.MpesaPasskey == "" {
		errs = append(errs, ErrMissingMpesaPasskey)
	}
	if c.MpesaShortcode == "" {
		errs = append(errs, ErrMissingMpesaShortcode)
	}
	if c.MpesaCallbackBaseURL == "" {
		errs = append(errs, ErrMissingMpesaCallbackURL)
	} else if _, err := validate.CallbackBaseURL(c.MpesaCallbackBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("MPESA_CALLBACK_BASE_URL is invalid: %w", err))
	}

	return errs
}

// CORSOrigins returns the configured CORS origin allowlist as a slice.
// An empty slice disables CORS handling entirely.
func (c *Config) CORSOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                       fmt.Sprintf("%d", c.Port),
		"env":                        c.Env,
		"database_url":               maskDatabaseURL(c.DatabaseURL),
		"redis_url":                  maskDatabaseURL(c.RedisURL),
		"jwt_secret":                 maskSecret(c.JWTSecret),
		"mpesa_consumer_key":         maskSecret(c.MpesaConsumerKey),
		"mpesa_consumer_secret":      maskSecret(c.MpesaConsumerSecret),
		"mpesa_passkey":              maskSecret(c.MpesaPasskey),
		"mpesa_shortcode":            c.MpesaShortcode,
		"mpesa_base_url":             c.MpesaBaseURL,
		"mpesa_callback_base_url":    c.MpesaCallbackBaseURL,
		"sweep_interval_seconds":     fmt.Sprintf("%d", c.SweepIntervalSeconds),
		"sweep_min_age_seconds":      fmt.Sprintf("%d", c.SweepMinAgeSeconds),
		"sweep_batch_size":           fmt.Sprintf("%d", c.SweepBatchSize),
		"status_query_enabled":       fmt.Sprintf("%t", c.StatusQueryEnabled),
		"poll_rate_limit_per_minute": fmt.Sprintf("%d", c.PollRateLimitPerMinute),
		"cors_allowed_origins":       c.CORSAllowedOrigins,
		"tracing_enabled":            fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":           c.TracingExporter,
		"tracing_endpoint":           c.TracingEndpoint,
		"tracing_sampling_rate":      fmt.Sprintf("%g", c.TracingSamplingRate),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Supports postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
