package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Policy      PolicyConfig      `yaml:"policy"`
	Audit       AuditConfig       `yaml:"audit"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
	Development DevelopmentConfig `yaml:"development"`
}

type ServerConfig struct {
	HTTP       ServerHTTPConfig       `yaml:"http"`
	UnixSocket ServerUnixSocketConfig `yaml:"unix_socket"`
}

type ServerHTTPConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type ServerUnixSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type AuthConfig struct {
	Type   string           `yaml:"type"` // "none" or "api_key"
	APIKey AuthAPIKeyConfig `yaml:"api_key"`
}

type AuthAPIKeyConfig struct {
	KeysFile   string `yaml:"keys_file"`
	HeaderName string `yaml:"header_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

type PolicyConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig configures the receipt ledger: a primary SQLite store plus
// optional JSONL, webhook and OTEL mirrors.
type AuditConfig struct {
	SQLitePath string `yaml:"sqlite_path"`

	JSONL   AuditJSONLConfig   `yaml:"jsonl"`
	Webhook AuditWebhookConfig `yaml:"webhook"`
	OTEL    AuditOTELConfig    `yaml:"otel"`
}

type AuditJSONLConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type AuditWebhookConfig struct {
	Enabled       bool              `yaml:"enabled"`
	URL           string            `yaml:"url"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval string            `yaml:"flush_interval"`
	Timeout       string            `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
}

type AuditOTELConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Endpoint     string            `yaml:"endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      string            `yaml:"timeout"`
	BatchTimeout string            `yaml:"batch_timeout"`
	BatchMaxSize int               `yaml:"batch_max_size"`
}

type ExecutionConfig struct {
	DefaultTimeout string `yaml:"default_timeout"`
	MaxTimeout     string `yaml:"max_timeout"`
	MaxOutput      string `yaml:"max_output"`       // byte size, e.g. "1MB"
	MaxUndoCapture string `yaml:"max_undo_capture"` // files larger than this lose content-based undo
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Path          string `yaml:"path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type DevelopmentConfig struct {
	Debug       bool `yaml:"debug"`
	DisableAuth bool `yaml:"disable_auth"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.HTTP.ReadTimeout == "" {
		cfg.Server.HTTP.ReadTimeout = "30s"
	}
	if cfg.Server.HTTP.WriteTimeout == "" {
		cfg.Server.HTTP.WriteTimeout = "5m"
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Auth.APIKey.HeaderName == "" {
		cfg.Auth.APIKey.HeaderName = "X-API-Key"
	}
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = "policy.yml"
	}
	if cfg.Audit.SQLitePath == "" {
		cfg.Audit.SQLitePath = "/var/lib/opsgate/receipts.db"
	}
	if cfg.Audit.JSONL.MaxSizeMB == 0 {
		cfg.Audit.JSONL.MaxSizeMB = 100
	}
	if cfg.Audit.JSONL.MaxBackups == 0 {
		cfg.Audit.JSONL.MaxBackups = 3
	}
	if cfg.Audit.Webhook.BatchSize == 0 {
		cfg.Audit.Webhook.BatchSize = 100
	}
	if cfg.Audit.Webhook.FlushInterval == "" {
		cfg.Audit.Webhook.FlushInterval = "10s"
	}
	if cfg.Audit.Webhook.Timeout == "" {
		cfg.Audit.Webhook.Timeout = "5s"
	}
	if cfg.Audit.OTEL.Timeout == "" {
		cfg.Audit.OTEL.Timeout = "10s"
	}
	if cfg.Audit.OTEL.BatchTimeout == "" {
		cfg.Audit.OTEL.BatchTimeout = "5s"
	}
	if cfg.Audit.OTEL.BatchMaxSize == 0 {
		cfg.Audit.OTEL.BatchMaxSize = 512
	}
	if cfg.Execution.DefaultTimeout == "" {
		cfg.Execution.DefaultTimeout = "30s"
	}
	if cfg.Execution.MaxTimeout == "" {
		cfg.Execution.MaxTimeout = "10m"
	}
	if cfg.Execution.MaxOutput == "" {
		cfg.Execution.MaxOutput = "1MB"
	}
	if cfg.Execution.MaxUndoCapture == "" {
		cfg.Execution.MaxUndoCapture = "5MB"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/ready"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSGATE_HTTP_ADDR"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := os.Getenv("OPSGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPSGATE_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("OPSGATE_DATA_DIR"); v != "" {
		cfg.Audit.SQLitePath = filepath.Join(v, "receipts.db")
		if cfg.Audit.JSONL.Enabled && cfg.Audit.JSONL.Path == "" {
			cfg.Audit.JSONL.Path = filepath.Join(v, "receipts.jsonl")
		}
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Auth.Type {
	case "none", "api_key":
	default:
		return fmt.Errorf("invalid auth.type %q", cfg.Auth.Type)
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	if cfg.Audit.JSONL.Enabled && cfg.Audit.JSONL.Path == "" {
		return fmt.Errorf("audit.jsonl.enabled requires audit.jsonl.path")
	}
	if cfg.Audit.Webhook.Enabled && cfg.Audit.Webhook.URL == "" {
		return fmt.Errorf("audit.webhook.enabled requires audit.webhook.url")
	}
	if cfg.Audit.OTEL.Enabled && cfg.Audit.OTEL.Endpoint == "" {
		return fmt.Errorf("audit.otel.enabled requires audit.otel.endpoint")
	}
	for _, field := range []struct {
		name, value string
	}{
		{"execution.default_timeout", cfg.Execution.DefaultTimeout},
		{"execution.max_timeout", cfg.Execution.MaxTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s %q", field.name, field.value)
		}
	}
	for _, field := range []struct {
		name, value string
	}{
		{"execution.max_output", cfg.Execution.MaxOutput},
		{"execution.max_undo_capture", cfg.Execution.MaxUndoCapture},
	} {
		if _, err := ParseByteSize(field.value); err != nil {
			return fmt.Errorf("invalid %s %q", field.name, field.value)
		}
	}
	return nil
}

// MustDuration parses a duration validated earlier; invalid input returns
// the fallback instead of panicking.
func MustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// MustByteSize parses a byte size validated earlier; invalid input returns
// the fallback instead of panicking.
func MustByteSize(s string, fallback int64) int64 {
	n, err := ParseByteSize(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
