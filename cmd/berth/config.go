package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Log      LogConfig      `mapstructure:"log"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	DNS      DNSConfig      `mapstructure:"dns"`
	ACME     ACMEConfig     `mapstructure:"acme"`
}

// ServerConfig holds the admin API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProxyConfig holds shared reverse proxy configuration. ConfigDir and
// CertDir are host directories bind-mounted into the proxy container.
type ProxyConfig struct {
	ConfigDir string `mapstructure:"config_dir"`
	CertDir   string `mapstructure:"cert_dir"`
	HTTPPort  int    `mapstructure:"http_port"`
	HTTPSPort int    `mapstructure:"https_port"`
}

// DNSConfig selects and configures the DNS provider.
type DNSConfig struct {
	// Provider is "none" or "cloudflare".
	Provider string `mapstructure:"provider"`

	APIToken string `mapstructure:"api_token"`
	ZoneID   string `mapstructure:"zone_id"`

	// ServerAddr is the public address A records point at.
	ServerAddr string `mapstructure:"server_addr"`

	Proxied bool `mapstructure:"proxied"`
}

// ACMEConfig holds certificate issuance configuration. When disabled,
// every domain gets a self-signed pair.
type ACMEConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Email   string `mapstructure:"email"`

	// ChallengePort is the host port the HTTP-01 challenge responder
	// listens on. The proxy forwards /.well-known/acme-challenge/ there.
	ChallengePort int `mapstructure:"challenge_port"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8425)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/berth.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("proxy.config_dir", "/var/lib/berth/conf.d")
	v.SetDefault("proxy.cert_dir", "/var/lib/berth/certs")
	v.SetDefault("proxy.http_port", 80)
	v.SetDefault("proxy.https_port", 443)
	v.SetDefault("dns.provider", "none")
	v.SetDefault("dns.api_token", "")
	v.SetDefault("dns.zone_id", "")
	v.SetDefault("dns.server_addr", "")
	v.SetDefault("dns.proxied", false)
	v.SetDefault("acme.enabled", false)
	v.SetDefault("acme.email", "")
	v.SetDefault("acme.challenge_port", 8428)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DNS.Provider {
	case "", "none":
	case "cloudflare":
		if c.DNS.APIToken == "" || c.DNS.ZoneID == "" || c.DNS.ServerAddr == "" {
			return fmt.Errorf("dns provider cloudflare requires api_token, zone_id and server_addr")
		}
	default:
		return fmt.Errorf("unknown dns provider %q", c.DNS.Provider)
	}
	if c.ACME.Enabled && c.ACME.Email == "" {
		return fmt.Errorf("acme.enabled requires acme.email")
	}
	if c.ACME.Enabled && (c.ACME.ChallengePort <= 0 || c.ACME.ChallengePort > 65535) {
		return fmt.Errorf("acme.challenge_port %d is out of range", c.ACME.ChallengePort)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
