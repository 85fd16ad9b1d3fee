package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
	if cfg.ListenAddr == "" || cfg.DatabasePath == "" {
		t.Errorf("Default config missing required values: %+v", cfg)
	}
	if cfg.SendBuffer <= 0 {
		t.Errorf("Expected positive send buffer, got %d", cfg.SendBuffer)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	// Run from an empty directory so no stray tasuku.yaml is picked up.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if cfg.ListenAddr != def.ListenAddr {
		t.Errorf("Expected default listen_addr %s, got %s", def.ListenAddr, cfg.ListenAddr)
	}
	if cfg.SendBuffer != def.SendBuffer {
		t.Errorf("Expected default send_buffer %d, got %d", def.SendBuffer, cfg.SendBuffer)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasuku.yaml")

	yaml := `
listen_addr: "0.0.0.0:9000"
database_path: "/data/tasuku.db"
legacy_database_path: "/data/todo.db"
send_buffer: 128
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("Expected listen_addr 0.0.0.0:9000, got %s", cfg.ListenAddr)
	}
	if cfg.DatabasePath != "/data/tasuku.db" {
		t.Errorf("Expected database_path /data/tasuku.db, got %s", cfg.DatabasePath)
	}
	if cfg.SendBuffer != 128 {
		t.Errorf("Expected send_buffer 128, got %d", cfg.SendBuffer)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty listen_addr")
	}

	cfg = Default()
	cfg.DatabasePath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty database_path")
	}

	cfg = Default()
	cfg.SendBuffer = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero send_buffer")
	}
}
