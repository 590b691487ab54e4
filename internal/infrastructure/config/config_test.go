package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
server:
  host: "0.0.0.0"
  port: 8000
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
security:
  admin_token: "test-admin-token-16ch"
  hmac_window: 5
registration:
  need_approval: true
  need_hwid: true
lock:
  need_approval: true
  approval_time_seconds: 30
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if !cfg.Registration.NeedApproval {
		t.Error("Registration.NeedApproval = false, want true")
	}

	if cfg.Lock.ApprovalTimeSeconds != 30 {
		t.Errorf("Lock.ApprovalTimeSeconds = %d, want 30", cfg.Lock.ApprovalTimeSeconds)
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
security:
  admin_token: "test-admin-token-16ch"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Security.HMACWindow != 5 {
		t.Errorf("Security.HMACWindow = %d, want default 5", cfg.Security.HMACWindow)
	}
	if cfg.Lock.ApprovalTimeSeconds != 30 {
		t.Errorf("Lock.ApprovalTimeSeconds = %d, want default 30", cfg.Lock.ApprovalTimeSeconds)
	}
	if !cfg.Lock.DefaultUserCanUnlock {
		t.Error("Lock.DefaultUserCanUnlock = false, want default true")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	content := `
security:
  admin_token: "file-admin-token-16c"
database:
  path: "/tmp/file.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("COREPOST_ADMIN_TOKEN", "env-admin-token-16ch")
	t.Setenv("COREPOST_DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Security.AdminToken != "env-admin-token-16ch" {
		t.Errorf("AdminToken = %q, want env override", cfg.Security.AdminToken)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestConfig_Validate(t *testing.T) {
	// validAdminToken meets the 16-character minimum requirement
	validAdminToken := "test-admin-token-16ch"

	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8000},
			Database: DatabaseConfig{Path: "/data/corepost.db"},
			Security: SecurityConfig{AdminToken: validAdminToken, HMACWindow: 5},
			Lock:     LockConfig{ApprovalTimeSeconds: 30},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "missing admin token",
			mutate:  func(c *Config) { c.Security.AdminToken = "" },
			wantErr: true,
		},
		{
			name:    "short admin token",
			mutate:  func(c *Config) { c.Security.AdminToken = "short" },
			wantErr: true,
		},
		{
			name:    "zero hmac window",
			mutate:  func(c *Config) { c.Security.HMACWindow = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero approval window",
			mutate:  func(c *Config) { c.Lock.ApprovalTimeSeconds = 0 },
			wantErr: true,
		},
		{
			name: "invalid mqtt qos",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
