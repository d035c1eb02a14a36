package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreBackend != "sqlite" || cfg.Port != "8081" {
		t.Errorf("backend/port = %s/%s", cfg.StoreBackend, cfg.Port)
	}
	if cfg.LastKnownMaxAge != time.Second {
		t.Errorf("LastKnownMaxAge = %v, want 1s", cfg.LastKnownMaxAge)
	}
	if cfg.AccuracyThreshold != 50 {
		t.Errorf("AccuracyThreshold = %v, want 50", cfg.AccuracyThreshold)
	}
	if cfg.TopologyMaxAge != 30*24*time.Hour {
		t.Errorf("TopologyMaxAge = %v", cfg.TopologyMaxAge)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SAMPLE_INTERVAL_MS", "250")
	t.Setenv("APPROACHING_M", "600.5")
	t.Setenv("LINE_ID", "R2")
	t.Setenv("BOUND_STATION_ID", "71804")
	t.Setenv("DIRECTION", "OUTBOUND")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreBackend != "memory" || cfg.SampleInterval != 250*time.Millisecond {
		t.Errorf("backend/interval = %s/%v", cfg.StoreBackend, cfg.SampleInterval)
	}
	if cfg.ApproachingMeters != 600.5 {
		t.Errorf("ApproachingMeters = %v", cfg.ApproachingMeters)
	}
	if cfg.LineID != "R2" || cfg.BoundStationID != 71804 || cfg.Direction != "OUTBOUND" {
		t.Errorf("journey preset = %s/%d/%s", cfg.LineID, cfg.BoundStationID, cfg.Direction)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "redis"}},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}},
		{"bad direction", map[string]string{"DIRECTION": "NORTH"}},
		{"arrived beyond approaching", map[string]string{"APPROACHING_M": "100", "ARRIVED_M": "200"}},
		{"bad feed url", map[string]string{"VEHICLE_FEED_URL": "not a url"}},
		{"non-numeric port", map[string]string{"PORT": "http"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("RETENTION_HOURS", "a day")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RetentionDuration != 24*time.Hour {
		t.Errorf("RetentionDuration = %v, want default 24h", cfg.RetentionDuration)
	}
}

func TestLoadEnvFiles_LocalOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LINE_ID=R1\nTRAIN_TYPE=local\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("LINE_ID=R2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// Register cleanup for keys the env files set
	t.Setenv("LINE_ID", "")
	t.Setenv("TRAIN_TYPE", "")
	os.Unsetenv("LINE_ID")
	os.Unsetenv("TRAIN_TYPE")

	LoadEnvFiles(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LineID != "R2" || cfg.TrainType != "local" {
		t.Errorf("line/train type = %s/%s, want R2/local", cfg.LineID, cfg.TrainType)
	}
}
