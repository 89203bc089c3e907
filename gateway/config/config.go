// Package config loads and validates the API service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
)

// Duration is a time.Duration that decodes YAML scalars written in
// time.ParseDuration notation ("30s", "2m30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DatabaseConfig selects the backing store. Driver is "postgres" in
// production; "sqlite" serves local development and tests.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig is the configuration surface of the authentication gate.
type AuthConfig struct {
	DevMode                 bool     `yaml:"devMode"`
	DevRefs                 []string `yaml:"devRefs"`
	AdminOverride           bool     `yaml:"adminOverride"`
	MaxHoursOld             int      `yaml:"maxHoursOld"`
	MaxHoursAhead           int      `yaml:"maxHoursAhead"`
	ThrottleIntervalMinutes int      `yaml:"throttleIntervalMinutes"`
	// ThrottleLimit rejects identities above this many accepted requests in
	// the trailing interval; zero leaves counting in place with no
	// enforcement.
	ThrottleLimit int               `yaml:"throttleLimit"`
	Messages      map[string]string `yaml:"messages"`
}

// RateLimitConfig bounds per-client request rates at the HTTP edge.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	ServiceName string `yaml:"serviceName"`
	Metrics     bool   `yaml:"metrics"`
	Tracing     bool   `yaml:"tracing"`
	LogRequests bool   `yaml:"logRequests"`
}

// HistoryConfig controls retention of accepted-request records.
type HistoryConfig struct {
	// RetentionHours prunes records older than this; zero disables pruning.
	RetentionHours int `yaml:"retentionHours"`
}

// Config is the root configuration value object, injected at construction
// everywhere it is needed; nothing reads ambient globals.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	Env           string              `yaml:"env"`
	ReadTimeout   Duration            `yaml:"readTimeout"`
	WriteTimeout  Duration            `yaml:"writeTimeout"`
	IdleTimeout   Duration            `yaml:"idleTimeout"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	History       HistoryConfig       `yaml:"history"`
}

// Load reads the YAML file at path (optional), applies environment
// overrides, fills defaults and validates. An empty path yields the default
// configuration with env overrides applied.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddress: ":8080",
		Env:           "production",
		ReadTimeout:   Duration(30 * time.Second),
		WriteTimeout:  Duration(30 * time.Second),
		IdleTimeout:   Duration(120 * time.Second),
		Database:      DatabaseConfig{Driver: "postgres"},
		Auth: AuthConfig{
			MaxHoursOld:             24,
			MaxHoursAhead:           1,
			ThrottleIntervalMinutes: 10,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
		Observability: ObservabilityConfig{
			ServiceName: "ntbl-api",
			Metrics:     true,
			Tracing:     true,
			LogRequests: true,
		},
	}
}

func (cfg *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("NTBL_API_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("NTBL_API_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("NTBL_API_DB_DRIVER")); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("NTBL_API_DB_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("NTBL_API_DEV_MODE")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse NTBL_API_DEV_MODE: %w", err)
		}
		cfg.Auth.DevMode = parsed
	}
	if v := strings.TrimSpace(os.Getenv("NTBL_API_ADMIN_OVERRIDE")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse NTBL_API_ADMIN_OVERRIDE: %w", err)
		}
		cfg.Auth.AdminOverride = parsed
	}
	if v := strings.TrimSpace(os.Getenv("NTBL_API_DEV_REFS")); v != "" {
		refs := strings.Split(v, ",")
		cleaned := make([]string, 0, len(refs))
		for _, ref := range refs {
			if trimmed := strings.TrimSpace(ref); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		cfg.Auth.DevRefs = cleaned
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Auth.MaxHoursOld <= 0 {
		cfg.Auth.MaxHoursOld = 24
	}
	if cfg.Auth.MaxHoursAhead <= 0 {
		cfg.Auth.MaxHoursAhead = 1
	}
	if cfg.Auth.ThrottleIntervalMinutes <= 0 {
		cfg.Auth.ThrottleIntervalMinutes = 10
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "ntbl-api"
	}
}

// Production reports whether the configuration targets production.
func (cfg Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Env), "production")
}

// Validate refuses configurations that would weaken the gate.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Production() && cfg.Auth.DevMode {
		return fmt.Errorf("auth.devMode cannot be enabled in production")
	}
	if cfg.Auth.DevMode && len(cfg.Auth.DevRefs) == 0 {
		return fmt.Errorf("auth.devRefs must list at least one reference when devMode is enabled")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.Auth.ThrottleLimit < 0 {
		return fmt.Errorf("auth.throttleLimit cannot be negative")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rateLimit.requestsPerMinute cannot be negative")
	}
	for code := range cfg.Auth.Messages {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("auth.messages keys cannot be empty")
		}
	}
	return nil
}

// GateOptions converts the configuration into the gate's option object.
func (cfg Config) GateOptions() auth.Options {
	messages := make(map[auth.Code]string, len(cfg.Auth.Messages))
	for code, msg := range cfg.Auth.Messages {
		messages[auth.Code(code)] = msg
	}
	return auth.Options{
		DevMode:                 cfg.Auth.DevMode,
		OverrideEnabled:         cfg.Auth.AdminOverride,
		DevRefs:                 cfg.Auth.DevRefs,
		MaxAgeHours:             cfg.Auth.MaxHoursOld,
		MaxAheadHours:           cfg.Auth.MaxHoursAhead,
		ThrottleIntervalMinutes: cfg.Auth.ThrottleIntervalMinutes,
		Messages:                messages,
	}
}
