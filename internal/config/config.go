// Package config loads service configuration from an optional TOML file with
// environment-variable overrides layered on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "12h".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SMTP holds mail delivery settings; an empty host disables mail entirely.
type SMTP struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	User string `toml:"user"`
	Pass string `toml:"pass"`
	From string `toml:"from"`
}

// Admin holds the basic-auth credentials for the operator endpoints.
type Admin struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// Config holds application configuration.
type Config struct {
	Port    int    `toml:"port"`
	BaseURL string `toml:"base_url"`
	DataDir string `toml:"data_dir"`
	DBPath  string `toml:"db_path"`

	PriceEUR      float64 `toml:"price_eur"`
	MaxUploadSize int64   `toml:"max_upload_size"`

	EncryptionKey        string `toml:"encryption_key"`
	RequireEncryptionKey bool   `toml:"require_encryption_key"`

	GrantTTL      Duration `toml:"grant_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	RepairTimeout Duration `toml:"repair_timeout"`

	SMTP  SMTP  `toml:"smtp"`
	Admin Admin `toml:"admin"`
}

// DefaultDataDir returns the default storage root using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "fixframe")
}

func defaults() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Port:          4000,
		BaseURL:       "http://localhost:4000",
		DataDir:       dataDir,
		DBPath:        filepath.Join(dataDir, "jobs.db"),
		PriceEUR:      4.95,
		MaxUploadSize: 4 << 30,
		GrantTTL:      Duration(30 * 24 * time.Hour),
		SweepInterval: Duration(12 * time.Hour),
		RepairTimeout: Duration(10 * time.Minute),
		SMTP:          SMTP{Port: 587, From: "FixFrame <no-reply@fixframe.example>"},
		Admin:         Admin{User: "admin"},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if it
// exists), then environment overrides. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.SweepInterval.Std() > 24*time.Hour {
		return nil, fmt.Errorf("sweep_interval %s exceeds the 24h maximum", cfg.SweepInterval.Std())
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "jobs.db")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("FIXFRAME_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("FIXFRAME_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FIXFRAME_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.DBPath = filepath.Join(v, "jobs.db")
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.SMTP.Pass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("ADMIN_USER"); v != "" {
		cfg.Admin.User = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Pass = v
	}
}

// EncryptedDir is where ciphertext blobs live.
func (c *Config) EncryptedDir() string {
	return filepath.Join(c.DataDir, "encrypted")
}

// ResultsDir is where repaired artifacts live.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.DataDir, "results")
}

// TmpDir is the scratch space for uploads and decrypted plaintext.
func (c *Config) TmpDir() string {
	return filepath.Join(c.DataDir, "tmp")
}

// EnsureDirs creates the storage tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.EncryptedDir(), c.ResultsDir(), c.TmpDir(), filepath.Dir(c.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
