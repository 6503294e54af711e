package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8425, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "./data/berth.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/lib/berth/conf.d", cfg.Proxy.ConfigDir)
	assert.Equal(t, "/var/lib/berth/certs", cfg.Proxy.CertDir)
	assert.Equal(t, 80, cfg.Proxy.HTTPPort)
	assert.Equal(t, 443, cfg.Proxy.HTTPSPort)
	assert.Equal(t, "none", cfg.DNS.Provider)
	assert.False(t, cfg.ACME.Enabled)
	assert.Equal(t, 8428, cfg.ACME.ChallengePort)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "0.0.0.0"
  port: 9000
  shutdown_timeout: 15s

database:
  dsn: "/tmp/test.db"

proxy:
  config_dir: "/srv/berth/conf.d"
  cert_dir: "/srv/berth/certs"
  https_port: 8443

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, "/srv/berth/conf.d", cfg.Proxy.ConfigDir)
	assert.Equal(t, 8443, cfg.Proxy.HTTPSPort)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("BERTH_SERVER_HOST", "192.168.1.1")
	t.Setenv("BERTH_SERVER_PORT", "3000")
	t.Setenv("BERTH_DATABASE_DSN", "/custom/path.db")
	t.Setenv("BERTH_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8425, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestLoadConfig_CloudflareRequiresCredentials(t *testing.T) {
	clearEnv(t)

	t.Setenv("BERTH_DNS_PROVIDER", "cloudflare")

	_, err := LoadConfig("")
	assert.Error(t, err)

	t.Setenv("BERTH_DNS_API_TOKEN", "token")
	t.Setenv("BERTH_DNS_ZONE_ID", "zone")
	t.Setenv("BERTH_DNS_SERVER_ADDR", "203.0.113.7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "cloudflare", cfg.DNS.Provider)
}

func TestLoadConfig_ACMERequiresEmail(t *testing.T) {
	clearEnv(t)

	t.Setenv("BERTH_ACME_ENABLED", "true")

	_, err := LoadConfig("")
	assert.Error(t, err)

	t.Setenv("BERTH_ACME_EMAIL", "ops@example.com")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.ACME.Enabled)
}

func TestLoadConfig_ACMEChallengePortRange(t *testing.T) {
	clearEnv(t)

	t.Setenv("BERTH_ACME_ENABLED", "true")
	t.Setenv("BERTH_ACME_EMAIL", "ops@example.com")
	t.Setenv("BERTH_ACME_CHALLENGE_PORT", "70000")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfig_UnknownDNSProvider(t *testing.T) {
	clearEnv(t)

	t.Setenv("BERTH_DNS_PROVIDER", "route53")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{Log: LogConfig{Level: "info", Format: format}}
		assert.NotNil(t, SetupLogger(cfg))
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "invalid", Format: "json"}}

	// Should fall back to info level, not panic
	assert.NotNil(t, SetupLogger(cfg))
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8425,
		},
	}

	assert.Equal(t, "localhost:8425", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"BERTH_SERVER_HOST",
		"BERTH_SERVER_PORT",
		"BERTH_DATABASE_DSN",
		"BERTH_LOG_LEVEL",
		"BERTH_LOG_FORMAT",
		"BERTH_DNS_PROVIDER",
		"BERTH_DNS_API_TOKEN",
		"BERTH_DNS_ZONE_ID",
		"BERTH_DNS_SERVER_ADDR",
		"BERTH_ACME_ENABLED",
		"BERTH_ACME_EMAIL",
		"BERTH_ACME_CHALLENGE_PORT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
