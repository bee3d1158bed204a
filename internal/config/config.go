package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	Feed      FeedConfig      `yaml:"feed"`
	State     StateConfig     `yaml:"state"`
	Trading   TradingConfig   `yaml:"trading"`
	Report    ReportConfig    `yaml:"report"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TradingConfig struct {
	Symbols            []string `yaml:"symbols"`
	MinNotionalUSD     float64  `yaml:"min_notional_usd"`
	MaxNotionalUSD     float64  `yaml:"max_notional_usd"`
	HoldMinMinutes     int      `yaml:"hold_min_minutes"`
	HoldMaxMinutes     int      `yaml:"hold_max_minutes"`
	CooldownMinMinutes int      `yaml:"cooldown_min_minutes"`
	CooldownMaxMinutes int      `yaml:"cooldown_max_minutes"`
	Leverage           int      `yaml:"leverage"`
	MarginType         string   `yaml:"margin_type"`
	RunOnce            bool     `yaml:"run_once"`
	MaxRuntimeMinutes  float64  `yaml:"max_runtime_minutes"`
	ForceStub          bool     `yaml:"force_stub"`
}

type ReportConfig struct {
	Dir      string `yaml:"dir"`
	Timezone string `yaml:"timezone"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://fapi.asterdex.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 15 * time.Second
	}
	if cfg.Feed.URL == "" {
		cfg.Feed.URL = "wss://fstream.asterdex.com/stream"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/aster-hedge-bot.db"
	}
	if len(cfg.Trading.Symbols) == 0 {
		cfg.Trading.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	}
	if cfg.Trading.MinNotionalUSD == 0 {
		cfg.Trading.MinNotionalUSD = 100
	}
	if cfg.Trading.MaxNotionalUSD == 0 {
		cfg.Trading.MaxNotionalUSD = 500
	}
	if cfg.Trading.HoldMinMinutes == 0 {
		cfg.Trading.HoldMinMinutes = 30
	}
	if cfg.Trading.HoldMaxMinutes == 0 {
		cfg.Trading.HoldMaxMinutes = 180
	}
	if cfg.Trading.CooldownMinMinutes == 0 {
		cfg.Trading.CooldownMinMinutes = 1
	}
	if cfg.Trading.CooldownMaxMinutes == 0 {
		cfg.Trading.CooldownMaxMinutes = 5
	}
	if cfg.Trading.Leverage == 0 {
		cfg.Trading.Leverage = 10
	}
	if cfg.Trading.MarginType == "" {
		cfg.Trading.MarginType = "CROSSED"
	}
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = "reports"
	}
	if cfg.Report.Timezone == "" {
		cfg.Report.Timezone = "UTC"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

// applyEnvOverrides keeps the operational toggles working from the shell even
// when the yaml file says otherwise.
func applyEnvOverrides(cfg *Config) {
	if envBool("FORCE_STUB") {
		cfg.Trading.ForceStub = true
	}
	if envBool("RUN_ONCE") {
		cfg.Trading.RunOnce = true
	}
	if raw := strings.TrimSpace(os.Getenv("FAPI_BASE_URL")); raw != "" {
		cfg.REST.BaseURL = raw
	}
	if raw := strings.TrimSpace(os.Getenv("RUN_MAX_MINUTES")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.Trading.MaxRuntimeMinutes = v
		}
	}
}

func envBool(key string) bool {
	switch strings.TrimSpace(os.Getenv(key)) {
	case "", "0", "false", "False":
		return false
	}
	return true
}

func validate(cfg *Config) error {
	if cfg.Trading.MinNotionalUSD <= 0 {
		return errors.New("trading.min_notional_usd must be > 0")
	}
	if cfg.Trading.MaxNotionalUSD < cfg.Trading.MinNotionalUSD {
		return errors.New("trading.max_notional_usd must be >= trading.min_notional_usd")
	}
	if cfg.Trading.HoldMaxMinutes < cfg.Trading.HoldMinMinutes {
		return errors.New("trading.hold_max_minutes must be >= trading.hold_min_minutes")
	}
	if cfg.Trading.CooldownMaxMinutes < cfg.Trading.CooldownMinMinutes {
		return errors.New("trading.cooldown_max_minutes must be >= trading.cooldown_min_minutes")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale.enabled")
	}
	return nil
}
