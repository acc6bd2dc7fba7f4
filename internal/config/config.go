package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Registry RegistryConfig `yaml:"registry" envconfig:"REGISTRY"`
	Ledger   LedgerConfig   `yaml:"ledger" envconfig:"LEDGER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Notify   NotifyConfig   `yaml:"notify" envconfig:"NOTIFY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// RegistryConfig selects and configures the license registry store.
// Driver "memory" keeps everything in process and is meant for tests
// and local development; "postgres" requires a DSN.
type RegistryConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER" default:"postgres"`
	DSN    string `yaml:"dsn" envconfig:"DSN"`
}

// LedgerConfig configures the remote ledger connection. Mode "embedded"
// runs the token contract in process; "http" talks to an external node.
type LedgerConfig struct {
	Mode              string        `yaml:"mode" envconfig:"MODE" default:"embedded"`
	Endpoint          string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	SignerToken       string        `yaml:"signer_token" envconfig:"SIGNER_TOKEN"`
	PrivilegedAddress string        `yaml:"privileged_address" envconfig:"PRIVILEGED_ADDRESS"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"5s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	MasterSecret   string          `yaml:"master_secret" envconfig:"MASTER_SECRET"`
	AdminJWTSecret string          `yaml:"admin_jwt_secret" envconfig:"ADMIN_JWT_SECRET"`
	AdminTokenTTL  time.Duration   `yaml:"admin_token_ttl" envconfig:"ADMIN_TOKEN_TTL" default:"1h"`
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// NotifyConfig configures seller violation notifications. An empty
// webhook URL falls back to structured log delivery.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("KEYGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Registry.DSN == "" {
		envConfig.Registry.DSN = fileConfig.Registry.DSN
	}
	if envConfig.Ledger.Endpoint == "" {
		envConfig.Ledger.Endpoint = fileConfig.Ledger.Endpoint
	}
	if envConfig.Ledger.SignerToken == "" {
		envConfig.Ledger.SignerToken = fileConfig.Ledger.SignerToken
	}
	if envConfig.Ledger.PrivilegedAddress == "" {
		envConfig.Ledger.PrivilegedAddress = fileConfig.Ledger.PrivilegedAddress
	}
	if envConfig.Security.MasterSecret == "" {
		envConfig.Security.MasterSecret = fileConfig.Security.MasterSecret
	}
	if envConfig.Security.AdminJWTSecret == "" {
		envConfig.Security.AdminJWTSecret = fileConfig.Security.AdminJWTSecret
	}
	if envConfig.Notify.WebhookURL == "" {
		envConfig.Notify.WebhookURL = fileConfig.Notify.WebhookURL
	}
	return envConfig
}

// Validate checks the configuration for fatal misconfiguration. Secrets and
// backend selection are checked here so the process refuses to start rather
// than denying every release at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch c.Registry.Driver {
	case "memory":
	case "postgres":
		if c.Registry.DSN == "" {
			return fmt.Errorf("registry driver postgres requires a DSN")
		}
	default:
		return fmt.Errorf("unknown registry driver: %q", c.Registry.Driver)
	}

	switch c.Ledger.Mode {
	case "embedded":
		if c.Ledger.PrivilegedAddress == "" {
			return fmt.Errorf("embedded ledger requires a privileged address")
		}
	case "http":
		if c.Ledger.Endpoint == "" {
			return fmt.Errorf("ledger mode http requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown ledger mode: %q", c.Ledger.Mode)
	}
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger timeout must be positive")
	}

	if len(c.Security.MasterSecret) < 16 {
		return fmt.Errorf("security master secret must be at least 16 bytes")
	}
	if c.Security.AdminJWTSecret == "" {
		return fmt.Errorf("admin JWT secret must be set")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = "json"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			Driver: "memory",
		},
		Ledger: LedgerConfig{
			Mode:              "embedded",
			PrivilegedAddress: "0x0000000000000000000000000000000000000001",
			Timeout:           5 * time.Second,
		},
		Security: SecurityConfig{
			MasterSecret:   "development-only-master-secret",
			AdminJWTSecret: "development-only-jwt-secret",
			AdminTokenTTL:  time.Hour,
			AllowedOrigins: []string{"http://localhost:8080"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Development: true,
		},
	}
}
