package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Port)
	}
	if cfg.DataDir != "/var/lib/docport" {
		t.Errorf("default data dir = %s", cfg.DataDir)
	}
	if cfg.StartupTimeoutSec != 15 {
		t.Errorf("default startup timeout = %d", cfg.StartupTimeoutSec)
	}
	if cfg.StopGraceSec != 10 {
		t.Errorf("default stop grace = %d", cfg.StopGraceSec)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("default S3 region = %s", cfg.S3Region)
	}
	if cfg.RegistryRepository != "docport-images" {
		t.Errorf("default registry repository = %s", cfg.RegistryRepository)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOCPORT_PORT", "9090")
	t.Setenv("DOCPORT_API_KEY", "key123")
	t.Setenv("DOCPORT_DATA_DIR", "/tmp/docport-test")
	t.Setenv("DOCPORT_STARTUP_TIMEOUT_SEC", "30")
	t.Setenv("DOCPORT_S3_FORCE_PATH_STYLE", "true")
	t.Setenv("DOCPORT_REGISTRY", "registry.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.APIKey != "key123" {
		t.Errorf("api key = %s", cfg.APIKey)
	}
	if cfg.DataDir != "/tmp/docport-test" {
		t.Errorf("data dir = %s", cfg.DataDir)
	}
	if cfg.StartupTimeoutSec != 30 {
		t.Errorf("startup timeout = %d", cfg.StartupTimeoutSec)
	}
	if !cfg.S3ForcePathStyle {
		t.Error("force path style not set")
	}
	if cfg.Registry != "registry.example.com" {
		t.Errorf("registry = %s", cfg.Registry)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("DOCPORT_PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestEnvOrDefaultInt_Invalid(t *testing.T) {
	t.Setenv("DOCPORT_STOP_GRACE_SEC", "abc")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.StopGraceSec != 10 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.StopGraceSec)
	}
}
