package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "xmppchat"
	// DefaultDownloadWorkers bounds concurrent attachment downloads.
	DefaultDownloadWorkers = 2
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// Settings contains persistent account and behavior settings.
type Settings struct {
	JID                   string   `json:"jid"`
	Resource              string   `json:"resource"`
	AskBeforeDownloading  bool     `json:"ask_before_downloading"`
	OmemoEnabled          bool     `json:"omemo_enabled"`
	SendPlainText         []string `json:"send_plain_text"`
	SendReadNotifications bool     `json:"send_read_notifications"`
	DownloadWorkers       int      `json:"download_workers"`
	LogLevel              string   `json:"log_level"`
	FilesDir              string   `json:"files_dir"`
	OmemoIdentityKeyPath  string   `json:"omemo_identity_key_path"`
}

// envOverrides are applied on top of config.json at load time.
type envOverrides struct {
	JID      string `env:"XMPPCHAT_JID"`
	Resource string `env:"XMPPCHAT_RESOURCE"`
	LogLevel string `env:"XMPPCHAT_LOG_LEVEL"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If XMPPCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("XMPPCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
		filepath.Join(dataDir, "files"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Settings
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *Settings) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, applies environment
// overrides, then returns the settings and the config path.
func LoadOrCreate() (*Settings, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

// LocalJID returns the full JID of this client (bare JID plus resource).
func (s *Settings) LocalJID() string {
	if s.Resource == "" {
		return s.JID
	}
	return s.JID + "/" + s.Resource
}

func applyEnvOverrides(cfg *Settings) error {
	var overrides envOverrides
	if err := envconfig.Process(context.Background(), &overrides); err != nil {
		return fmt.Errorf("parsing env vars: %w", err)
	}

	if overrides.JID != "" {
		cfg.JID = overrides.JID
	}
	if overrides.Resource != "" {
		cfg.Resource = overrides.Resource
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	return nil
}

func defaultResource() string {
	return "xmppchat-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func defaultConfig(dataDir string) *Settings {
	return &Settings{
		Resource:              defaultResource(),
		AskBeforeDownloading:  false,
		OmemoEnabled:          true,
		SendPlainText:         []string{},
		SendReadNotifications: true,
		DownloadWorkers:       DefaultDownloadWorkers,
		LogLevel:              DefaultLogLevel,
		FilesDir:              filepath.Join(dataDir, "files"),
		OmemoIdentityKeyPath:  filepath.Join(dataDir, "keys", "omemo_identity.pem"),
	}
}

func normalizeDefaults(cfg *Settings, dataDir string) bool {
	updated := false

	if cfg.Resource == "" {
		cfg.Resource = defaultResource()
		updated = true
	}

	if cfg.SendPlainText == nil {
		cfg.SendPlainText = []string{}
		updated = true
	}

	if cfg.DownloadWorkers <= 0 {
		cfg.DownloadWorkers = DefaultDownloadWorkers
		updated = true
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	if cfg.FilesDir == "" {
		cfg.FilesDir = filepath.Join(dataDir, "files")
		updated = true
	}

	if cfg.OmemoIdentityKeyPath == "" {
		cfg.OmemoIdentityKeyPath = filepath.Join(dataDir, "keys", "omemo_identity.pem")
		updated = true
	}

	return updated
}
