package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func resetSingleton() {
	current, currentPath = nil, ""
	initOnce = *new(sync.Once)
}

func TestInitialize(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 8500\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if err := Initialize(configPath); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Server.Port != 8500 {
		t.Errorf("expected port %d, got %d", 8500, cfg.Server.Port)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	tmpDir := t.TempDir()
	first := filepath.Join(tmpDir, "first.yaml")
	second := filepath.Join(tmpDir, "second.yaml")
	os.WriteFile(first, []byte("server:\n  port: 8501\n"), 0644)
	os.WriteFile(second, []byte("server:\n  port: 8502\n"), 0644)

	if err := Initialize(first); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}

	if got := GetConfig().Server.Port; got != 8501 {
		t.Errorf("expected port %d, got %d", 8501, got)
	}
}

func TestReloadConfig(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server:\n  port: 8600\n"), 0644)
	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	os.WriteFile(path, []byte("server:\n  port: 8601\n"), 0644)
	cfg, err := ReloadConfig(path)
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if cfg.Server.Port != 8601 || GetConfig().Server.Port != 8601 {
		t.Errorf("expected reloaded port 8601, got %d", GetConfig().Server.Port)
	}

	os.WriteFile(path, []byte("server:\n  port: -1\n"), 0644)
	if _, err := ReloadConfig(path); err == nil {
		t.Fatal("expected reload of invalid config to fail")
	}
	if GetConfig().Server.Port != 8601 {
		t.Errorf("expected config to stay at 8601 after failed reload, got %d", GetConfig().Server.Port)
	}
}

func TestGetConfigBeforeInitialize(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	if GetConfig() != nil {
		t.Error("expected nil config before Initialize")
	}
	if Path() != "" {
		t.Errorf("expected empty path, got %q", Path())
	}
}

func TestInitialize_MissingFileUsesDefaults(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	path := filepath.Join(t.TempDir(), "absent.yaml")
	if err := Initialize(path); err != nil {
		t.Fatalf("expected missing file to be accepted, got %v", err)
	}
	if got := GetConfig().Server.Port; got != DefaultServerPort {
		t.Errorf("expected default port %d, got %d", DefaultServerPort, got)
	}
	if Path() != path {
		t.Errorf("expected path %q, got %q", path, Path())
	}
}
