// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Registry backends
const (
	RegistryFS     = "fs"
	RegistryS3     = "s3"
	RegistryBadger = "badger"
)

// Config holds application configuration
type Config struct {
	DataDir  string `validate:"required"` // Base directory for the rates database and local registries (always absolute)
	LogLevel string `validate:"oneof=trace debug info warn error"`
	Port     int    `validate:"min=1,max=65535"`
	DevMode  bool

	// Extra host patterns allowed to open the event websocket; same-host is always allowed
	WebSocketOrigins []string

	Registry    RegistryConfig
	Forecasting ForecastingConfig
	Retrain     RetrainConfig
	Backup      BackupConfig
}

// RegistryConfig selects where trained models are kept
type RegistryConfig struct {
	Backend string `validate:"oneof=fs s3 badger"`
	Dir     string // fs and badger root (defaults to <DataDir>/models)
	S3      S3Config
}

// S3Config holds object storage settings (R2, MinIO or AWS)
type S3Config struct {
	Bucket          string
	Endpoint        string `validate:"omitempty,url"`
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// ForecastingConfig tunes training and forecasting
type ForecastingConfig struct {
	Workers              int      `validate:"min=0"` // 0 means one per logical CPU
	TrainingLookbackDays int      `validate:"min=1"`
	RecentLookbackDays   int      `validate:"min=1"`
	InsightWindowDays    int      `validate:"min=1"`
	Variants             []string `validate:"min=1,dive,required"`
	CompetitiveFeatures  bool
}

// RetrainConfig controls periodic retraining of own hotels
type RetrainConfig struct {
	Interval time.Duration `validate:"min=0"`
	Schedule string        // cron spec; empty disables the scheduler
}

// BackupConfig controls database backups into the model blob store
type BackupConfig struct {
	Schedule      string // cron spec; empty disables backups
	RetentionDays int    `validate:"min=0"` // 0 keeps every backup
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RATEINTEL_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Port:     getEnvAsInt("PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		WebSocketOrigins: getEnvAsList("WS_ORIGIN_PATTERNS", nil),
		Registry: RegistryConfig{
			Backend: strings.ToLower(getEnv("REGISTRY_BACKEND", RegistryFS)),
			Dir:     getEnv("REGISTRY_DIR", filepath.Join(absDataDir, "models")),
			S3: S3Config{
				Bucket:          getEnv("S3_BUCKET", ""),
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				Region:          getEnv("S3_REGION", "auto"),
				AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
				Prefix:          getEnv("S3_PREFIX", ""),
			},
		},
		Forecasting: ForecastingConfig{
			Workers:              getEnvAsInt("FORECAST_WORKERS", 0),
			TrainingLookbackDays: getEnvAsInt("FORECAST_TRAINING_LOOKBACK_DAYS", 365),
			RecentLookbackDays:   getEnvAsInt("FORECAST_RECENT_LOOKBACK_DAYS", 90),
			InsightWindowDays:    getEnvAsInt("FORECAST_INSIGHT_WINDOW_DAYS", 30),
			Variants:             getEnvAsList("FORECAST_VARIANTS", []string{"ensemble", "decomposition"}),
			CompetitiveFeatures:  getEnvAsBool("FORECAST_COMPETITIVE_FEATURES", false),
		},
		Retrain: RetrainConfig{
			Interval: time.Duration(getEnvAsInt("RETRAIN_INTERVAL_HOURS", 24)) * time.Hour,
			Schedule: lookupEnv("RETRAIN_SCHEDULE", "0 3 * * *"),
		},
		Backup: BackupConfig{
			Schedule:      lookupEnv("BACKUP_SCHEDULE", "0 4 * * *"),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Registry.Backend == RegistryS3 && c.Registry.S3.Bucket == "" {
		return fmt.Errorf("invalid configuration: S3_BUCKET is required for the s3 registry backend")
	}
	return nil
}

// DatabasePath returns the path of the rates database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "rates.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv is getEnv, except an explicitly empty variable is kept
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
