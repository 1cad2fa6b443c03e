package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyqw-adapter/core/internal/infrastructure/config"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("HYQW_CONFIG")
	defer os.Setenv("HYQW_CONFIG", originalEnv)

	os.Setenv("HYQW_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_CleanShutdown drives a full startup with the broker, history,
// and replay features disabled, then cancels the context. Exercises the
// startup ordering: the API server must be running before any pipeline
// goroutine fires a notification.
func TestRun_CleanShutdown(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := fmt.Sprintf(`adapter:
  device_sn: SN-TEST-001
cloud:
  base_url: http://127.0.0.1:9
database:
  path: %s
api:
  host: 127.0.0.1
  port: 18790
`, filepath.Join(dir, "hyqw.db"))
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	originalEnv := os.Getenv("HYQW_CONFIG")
	defer os.Setenv("HYQW_CONFIG", originalEnv)
	os.Setenv("HYQW_CONFIG", cfgPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want clean shutdown", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	originalEnv := os.Getenv("HYQW_CONFIG")
	defer os.Setenv("HYQW_CONFIG", originalEnv)

	os.Setenv("HYQW_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	os.Setenv("HYQW_CONFIG", "/etc/hyqwd/config.yaml")
	if got := getConfigPath(); got != "/etc/hyqwd/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestSiteDevices(t *testing.T) {
	devices := siteDevices([]config.DeviceConfig{
		{SI: 5, ST: 10101, TypeID: 8, Name: "Hall Light", Room: "hall"},
		{SI: 7, ST: 10102, TypeID: 12, Name: "Lounge AC"},
	})

	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}
	if devices[0].SI != 5 || devices[0].TypeID != 8 || devices[0].Room != "hall" {
		t.Errorf("devices[0] = %+v, not converted faithfully", devices[0])
	}
	if devices[1].Room != "" {
		t.Errorf("devices[1].Room = %q, want empty", devices[1].Room)
	}
}
