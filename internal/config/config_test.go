package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.PriceEUR != 4.95 {
		t.Errorf("PriceEUR = %v, want 4.95", cfg.PriceEUR)
	}
	if cfg.GrantTTL.Std() != 30*24*time.Hour {
		t.Errorf("GrantTTL = %v, want 720h", cfg.GrantTTL.Std())
	}
	if cfg.SweepInterval.Std() != 12*time.Hour {
		t.Errorf("SweepInterval = %v, want 12h", cfg.SweepInterval.Std())
	}
	if cfg.RepairTimeout.Std() != 10*time.Minute {
		t.Errorf("RepairTimeout = %v, want 10m", cfg.RepairTimeout.Std())
	}
	if cfg.MaxUploadSize != 4<<30 {
		t.Errorf("MaxUploadSize = %d, want 4GiB", cfg.MaxUploadSize)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixframe.toml")
	content := `
port = 8123
base_url = "https://fixframe.example"
data_dir = "/var/lib/fixframe"
sweep_interval = "6h"
repair_timeout = "2m"

[smtp]
host = "mail.example.com"
port = 2525

[admin]
user = "ops"
pass = "hunter2"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 8123 {
		t.Errorf("Port = %d, want 8123", cfg.Port)
	}
	if cfg.SweepInterval.Std() != 6*time.Hour {
		t.Errorf("SweepInterval = %v, want 6h", cfg.SweepInterval.Std())
	}
	if cfg.RepairTimeout.Std() != 2*time.Minute {
		t.Errorf("RepairTimeout = %v, want 2m", cfg.RepairTimeout.Std())
	}
	if cfg.SMTP.Host != "mail.example.com" || cfg.SMTP.Port != 2525 {
		t.Errorf("SMTP = %+v", cfg.SMTP)
	}
	if cfg.Admin.User != "ops" || cfg.Admin.Pass != "hunter2" {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
	if got := cfg.EncryptedDir(); got != "/var/lib/fixframe/encrypted" {
		t.Errorf("EncryptedDir() = %q", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() with missing file error: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
}

func TestLoadRejectsOversizedSweepInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixframe.toml")
	if err := os.WriteFile(path, []byte(`sweep_interval = "48h"`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted a 48h sweep interval")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIXFRAME_PORT", "9999")
	t.Setenv("ENCRYPTION_KEY", strings.Repeat("ab", 32))
	t.Setenv("SMTP_HOST", "smtp.env.example")
	t.Setenv("ADMIN_PASSWORD", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999", cfg.Port)
	}
	if cfg.EncryptionKey != strings.Repeat("ab", 32) {
		t.Errorf("EncryptionKey not taken from env")
	}
	if cfg.SMTP.Host != "smtp.env.example" {
		t.Errorf("SMTP.Host = %q", cfg.SMTP.Host)
	}
	if cfg.Admin.Pass != "from-env" {
		t.Errorf("Admin.Pass = %q", cfg.Admin.Pass)
	}
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/share")
	if got := DefaultDataDir(); got != "/custom/share/fixframe" {
		t.Errorf("DefaultDataDir() = %q", got)
	}
}
