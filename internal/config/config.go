package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the navigator and the mirror dashboard
type Config struct {
	// Topology
	TopologyPath   string        `validate:"required"`
	TopologyMaxAge time.Duration `validate:"gt=0"`
	GTFSSource     string        // zip URL or path the topology is rebuilt from
	CacheDir       string        `validate:"required"`

	// Mirror document store
	StoreBackend      string        `validate:"oneof=sqlite postgres memory"`
	DatabasePath      string        `validate:"required_if=StoreBackend sqlite"`
	DatabaseURL       string        `validate:"required_if=StoreBackend postgres"`
	StorePollInterval time.Duration `validate:"gt=0"`
	RetentionDuration time.Duration `validate:"gt=0"`

	// Location sampling
	SampleInterval  time.Duration `validate:"gt=0"`
	LastKnownMaxAge time.Duration `validate:"gte=0"`
	VehicleFeedURL  string        `validate:"omitempty,url"`
	VehicleID       string
	ReplayTrack     string

	// Accuracy and resolution
	AccuracyThreshold float64       `validate:"gt=0"`
	AccuracyMissing   time.Duration `validate:"gt=0"`
	ApproachingMeters float64       `validate:"gt=0"`
	ArrivedMeters     float64       `validate:"gt=0,ltefield=ApproachingMeters"`
	TieEpsilonMeters  float64       `validate:"gte=0"`

	// Journey preset for the headless navigator
	LineID         string
	BoundStationID int    `validate:"gte=0"`
	Direction      string `validate:"omitempty,oneof=INBOUND OUTBOUND"`
	TrainType      string

	// Mirror dashboard
	SessionToken string
	Port         string `validate:"required,numeric"`
}

// LoadEnvFiles loads .env, then .env.local which overrides it for local
// development. Missing files are ignored.
func LoadEnvFiles(dir string) {
	_ = godotenv.Load(dir + "/.env")
	_ = godotenv.Overload(dir + "/.env.local")
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Topology
		TopologyPath:   getEnv("TOPOLOGY_PATH", "./data/topology.yml"),
		TopologyMaxAge: time.Duration(getEnvInt("TOPOLOGY_MAX_AGE_DAYS", 30)) * 24 * time.Hour,
		GTFSSource:     getEnv("GTFS_URL", ""),
		CacheDir:       getEnv("CACHE_DIR", "./data/cache"),

		// Mirror document store
		StoreBackend:      getEnv("STORE_BACKEND", "sqlite"),
		DatabasePath:      getEnv("SQLITE_DATABASE", "./data/mirror.db"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		StorePollInterval: time.Duration(getEnvInt("STORE_POLL_MS", 500)) * time.Millisecond,
		RetentionDuration: time.Duration(getEnvInt("RETENTION_HOURS", 24)) * time.Hour,

		// Location sampling
		SampleInterval:  time.Duration(getEnvInt("SAMPLE_INTERVAL_MS", 5000)) * time.Millisecond,
		LastKnownMaxAge: time.Duration(getEnvInt("LAST_KNOWN_MAX_AGE_MS", 1000)) * time.Millisecond,
		VehicleFeedURL:  getEnv("VEHICLE_FEED_URL", ""),
		VehicleID:       getEnv("VEHICLE_ID", ""),
		ReplayTrack:     getEnv("REPLAY_TRACK", ""),

		// Accuracy and resolution
		AccuracyThreshold: getEnvFloat("ACCURACY_THRESHOLD_M", 50),
		AccuracyMissing:   time.Duration(getEnvInt("ACCURACY_MISSING_MS", 30000)) * time.Millisecond,
		ApproachingMeters: getEnvFloat("APPROACHING_M", 400),
		ArrivedMeters:     getEnvFloat("ARRIVED_M", 150),
		TieEpsilonMeters:  getEnvFloat("TIE_EPSILON_M", 5),

		// Journey preset
		LineID:         getEnv("LINE_ID", ""),
		BoundStationID: getEnvInt("BOUND_STATION_ID", 0),
		Direction:      getEnv("DIRECTION", ""),
		TrainType:      getEnv("TRAIN_TYPE", ""),

		// Mirror dashboard
		SessionToken: getEnv("SESSION_TOKEN", ""),
		Port:         getEnv("PORT", "8081"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
