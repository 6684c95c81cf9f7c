// Package daemon manages the Anuvruddhi daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/anuvruddhi/anuvruddhi/internal/app/engagement"
	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all daemon configuration.
type Config struct {
	API         APIConfig         `toml:"api" yaml:"api"`
	Store       StoreConfig       `toml:"store" yaml:"store"`
	Progression ProgressionConfig `toml:"progression" yaml:"progression"`
	Notify      NotifyConfig      `toml:"notify" yaml:"notify"`
	Health      HealthConfig      `toml:"health" yaml:"health"`
	Logging     LoggingConfig     `toml:"logging" yaml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry" yaml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host" yaml:"host"`
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

// StoreConfig selects and configures the progress store.
type StoreConfig struct {
	Backend       string `toml:"backend" yaml:"backend"`
	Dir           string `toml:"dir" yaml:"dir"`
	RedisAddr     string `toml:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `toml:"redis_password" yaml:"redis_password"`
	RedisDB       int    `toml:"redis_db" yaml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix" yaml:"redis_prefix"`
}

// ProgressionConfig is the tier, multiplier and milestone table.
type ProgressionConfig struct {
	TierThresholds  []int64   `toml:"tier_thresholds" yaml:"tier_thresholds"`
	TierMultipliers []float64 `toml:"tier_multipliers" yaml:"tier_multipliers"`
	ChainBonus      int64     `toml:"chain_bonus" yaml:"chain_bonus"`
	LevelSpan       int64     `toml:"level_span" yaml:"level_span"`
	TopTierWindow   int64     `toml:"top_tier_window" yaml:"top_tier_window"`
	XPMilestones    []int64   `toml:"xp_milestones" yaml:"xp_milestones"`
}

// NotifyConfig configures external notification sinks.
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
}

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	BaseURL  string `toml:"base_url" yaml:"base_url"`
	BotToken string `toml:"bot_token" yaml:"bot_token"`
	ChatID   string `toml:"chat_id" yaml:"chat_id"`
	Timeout  string `toml:"timeout" yaml:"timeout"`
}

// HealthConfig controls the background health checker.
type HealthConfig struct {
	Interval string `toml:"interval" yaml:"interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
	Mode  string `toml:"mode" yaml:"mode"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus" yaml:"prometheus"`
}

// DefaultConfig returns the shipped configuration.
func DefaultConfig() Config {
	rules := engagement.DefaultRules()
	multipliers := make([]float64, len(rules.Multipliers))
	for i, m := range rules.Multipliers {
		multipliers[i] = m.Float64()
	}
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8787,
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Backend:     BackendSQLite,
			Dir:         anuvruddhiHome(),
			RedisPrefix: "anuvruddhi",
		},
		Progression: ProgressionConfig{
			TierThresholds:  rules.TierThresholds[:],
			TierMultipliers: multipliers,
			ChainBonus:      rules.ChainBonus,
			LevelSpan:       rules.LevelSpan,
			TopTierWindow:   rules.TopTierWindow,
			XPMilestones:    rules.XPMilestones,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				BaseURL: "https://api.telegram.org",
				Timeout: "10s",
			},
		},
		Health: HealthConfig{
			Interval: "60s",
		},
		Logging: LoggingConfig{
			Level: "info",
			Mode:  "dev",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(anuvruddhiHome(), "config.toml")
}

// LoadConfig reads path (or the default config file when path is empty),
// falling back to defaults if it does not exist. A .yaml or .yml extension
// is decoded as YAML, anything else as TOML.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}

	if err := decodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && err != io.EOF {
			return err
		}
		return nil
	default:
		_, err := toml.DecodeFile(path, cfg)
		return err
	}
}

// applyEnv applies environment overrides on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("ANUVRUDDHI_TELEGRAM_TOKEN"); v != "" {
		c.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv("ANUVRUDDHI_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
		c.Store.Backend = BackendRedis
	}
	if c.Store.Dir == "" {
		c.Store.Dir = anuvruddhiHome()
	}
}

// Validate checks the configuration. Errors wrap domain.ErrInvalidArgument.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("%w: api.port must be in 1..65535, got %d", domain.ErrInvalidArgument, c.API.Port)
	}
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is required for the redis backend", domain.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown store.backend %q", domain.ErrInvalidArgument, c.Store.Backend)
	}
	if _, err := c.Rules(); err != nil {
		return err
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("%w: notify.telegram needs bot_token and chat_id when enabled", domain.ErrInvalidArgument)
	}
	for name, v := range map[string]string{
		"notify.telegram.timeout": c.Notify.Telegram.Timeout,
		"health.interval":         c.Health.Interval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, name, err)
		}
	}
	return nil
}

// Rules converts the progression section into a validated engagement.Rules.
func (c Config) Rules() (engagement.Rules, error) {
	p := c.Progression
	var rules engagement.Rules
	if len(p.TierThresholds) != len(rules.TierThresholds) {
		return rules, fmt.Errorf("%w: progression.tier_thresholds needs %d values, got %d",
			domain.ErrInvalidArgument, len(rules.TierThresholds), len(p.TierThresholds))
	}
	if len(p.TierMultipliers) != len(rules.Multipliers) {
		return rules, fmt.Errorf("%w: progression.tier_multipliers needs %d values, got %d",
			domain.ErrInvalidArgument, len(rules.Multipliers), len(p.TierMultipliers))
	}
	copy(rules.TierThresholds[:], p.TierThresholds)
	for i, f := range p.TierMultipliers {
		rules.Multipliers[i] = domain.MultiplierFromFloat(f)
	}
	rules.ChainBonus = p.ChainBonus
	rules.LevelSpan = p.LevelSpan
	rules.TopTierWindow = p.TopTierWindow
	rules.XPMilestones = append([]int64(nil), p.XPMilestones...)

	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("progression: %w", err)
	}
	return rules, nil
}

// SaveConfig writes cfg as TOML to path.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// anuvruddhiHome returns the data directory.
func anuvruddhiHome() string {
	if env := os.Getenv("ANUVRUDDHI_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".anuvruddhi")
}

// Home is exported for use by other packages.
func Home() string {
	return anuvruddhiHome()
}
