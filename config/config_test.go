package config

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XMPPCHAT_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.Resource == "" {
		t.Fatalf("expected non-empty resource")
	}
	if !firstCfg.OmemoEnabled {
		t.Fatalf("expected OMEMO to be enabled by default")
	}
	if firstCfg.DownloadWorkers != DefaultDownloadWorkers {
		t.Fatalf("expected %d download workers, got %d", DefaultDownloadWorkers, firstCfg.DownloadWorkers)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.Resource != firstCfg.Resource {
		t.Fatalf("expected stable resource, got %q then %q", firstCfg.Resource, secondCfg.Resource)
	}
	if secondCfg.OmemoIdentityKeyPath != firstCfg.OmemoIdentityKeyPath {
		t.Fatalf("expected stable key path, got %q then %q", firstCfg.OmemoIdentityKeyPath, secondCfg.OmemoIdentityKeyPath)
	}
}

func TestLoadOrCreateNormalizesLegacyConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XMPPCHAT_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	legacy := &Settings{
		JID:      "bob@example.net",
		Resource: "phone",
	}
	if err := Save(cfgPath, legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.Resource != "phone" {
		t.Fatalf("expected resource to be retained, got %q", cfg.Resource)
	}
	if cfg.SendPlainText == nil {
		t.Fatalf("expected plain text list to be initialized")
	}
	if cfg.FilesDir != filepath.Join(tempDir, "files") {
		t.Fatalf("unexpected files dir %q", cfg.FilesDir)
	}
	if cfg.LocalJID() != "bob@example.net/phone" {
		t.Fatalf("unexpected local JID %q", cfg.LocalJID())
	}
}

func TestLoadOrCreateAppliesEnvironmentOverrides(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XMPPCHAT_DATA_DIR", tempDir)
	t.Setenv("XMPPCHAT_JID", "alice@example.org")
	t.Setenv("XMPPCHAT_LOG_LEVEL", "debug")

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.JID != "alice@example.org" {
		t.Fatalf("expected JID override, got %q", cfg.JID)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.LogLevel)
	}
}
