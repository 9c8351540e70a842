package ssoguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ssoguard/ssoguard/ratelimit"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ssoguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() does not validate: %v", err)
	}
	if _, ok := cfg.RateLimit.Limits[ratelimit.DefaultType]; !ok {
		t.Error("default limit table missing the api fallback type")
	}
	if cfg.RateLimit.Limits["login"].PerIP != 10 {
		t.Errorf("login per_ip = %d, want 10", cfg.RateLimit.Limits["login"].PerIP)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server_id: srv-7
server_name: sso-eu-1
rate_limit:
  limits:
    login:
      per_ip: 20
      per_user: 8
sink:
  provider: splunk
  endpoint: https://splunk.example.com
  token: hec-token
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.ServerID != "srv-7" {
		t.Errorf("ServerID = %q, want srv-7", cfg.ServerID)
	}
	if got := cfg.RateLimit.Limits["login"]; got.PerIP != 20 || got.PerUser != 8 {
		t.Errorf("login limits = %+v, want {20 8}", got)
	}
	// Entries not mentioned in the file keep their defaults.
	if got := cfg.RateLimit.Limits["register"].PerIP; got != 5 {
		t.Errorf("register per_ip = %d, want default 5", got)
	}
	if cfg.Sink.Provider != "splunk" || cfg.Sink.Token != "hec-token" {
		t.Errorf("sink config = %+v", cfg.Sink)
	}
}

func TestLoadConfig_RejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `
server_id: srv-7
rate_limits_typo:
  limits: {}
`)

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() with an unknown key should fail")
	}
}

func TestLoadConfig_RejectsNonPositiveLimits(t *testing.T) {
	path := writeConfigFile(t, `
server_id: srv-7
rate_limit:
  limits:
    login:
      per_ip: 0
      per_user: 5
`)

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() with a zero limit should fail")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig() on a missing file should fail")
	}
}

func TestValidate_RequiresServerID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerID = ""

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() without server_id should fail")
	}
}
