package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Database configuration
	DatabasePath string

	// Strava API configuration
	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string

	// When true the Strava receiver imports synchronously before replying.
	// Needed on platforms that kill background work once the response is sent.
	StravaSyncImport bool

	// Garmin API configuration
	GarminClientID     string
	GarminClientSecret string

	// Shared secret for the platform scheduler hitting /internal/process
	CronSecret string

	// Internal API configuration
	InternalAPIKey string

	// Fitness snapshot service. Empty disables snapshot updates.
	FitnessServiceURL string

	// Event processor configuration
	ProcessInterval time.Duration
	ProcessBatch    int

	// Inbound webhook rate limit per provider per minute. 0 disables.
	WebhookRateLimit int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables
// It fails fast if required variables are missing
func Load() (*Config, error) {
	cfg := &Config{
		// Optional values with defaults
		Host:              getEnv("HOST", "localhost"),
		Port:              getEnvInt("PORT", 4201),
		MetricsEnabled:    getEnvBool("METRICS_ENABLED", true),
		MetricsHost:       getEnv("METRICS_HOST", "localhost"),
		MetricsPort:       getEnvInt("METRICS_PORT", 9201),
		DatabasePath:      getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		StravaSyncImport:  getEnvBool("STRAVA_SYNC_IMPORT", false),
		ProcessInterval:   getEnvDuration("PROCESS_INTERVAL", time.Minute),
		ProcessBatch:      getEnvInt("PROCESS_BATCH", 10),
		WebhookRateLimit:  getEnvInt("WEBHOOK_RATE_LIMIT", 300),
		FitnessServiceURL: getEnv("FITNESS_SERVICE_URL", ""),
	}

	// Required values
	var missingVars []string

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	if cfg.StravaClientID == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_ID")
	}

	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	if cfg.StravaClientSecret == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_SECRET")
	}

	cfg.StravaVerifyToken = os.Getenv("STRAVA_VERIFY_TOKEN")
	if cfg.StravaVerifyToken == "" {
		missingVars = append(missingVars, "STRAVA_VERIFY_TOKEN")
	}

	cfg.GarminClientID = os.Getenv("GARMIN_CLIENT_ID")
	if cfg.GarminClientID == "" {
		missingVars = append(missingVars, "GARMIN_CLIENT_ID")
	}

	cfg.GarminClientSecret = os.Getenv("GARMIN_CLIENT_SECRET")
	if cfg.GarminClientSecret == "" {
		missingVars = append(missingVars, "GARMIN_CLIENT_SECRET")
	}

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.CronSecret == "" {
		missingVars = append(missingVars, "CRON_SECRET")
	}

	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")
	if cfg.InternalAPIKey == "" {
		missingVars = append(missingVars, "INTERNAL_API_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
