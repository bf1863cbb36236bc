package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Keeper    KeeperConfig    `yaml:"keeper"`
	Actors    ActorsConfig    `yaml:"actors"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath       string        `yaml:"sqlite_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type OracleConfig struct {
	WSURL           string        `yaml:"ws_url"`
	RESTURL         string        `yaml:"rest_url"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	RESTTimeout     time.Duration `yaml:"rest_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxQuoteAge     time.Duration `yaml:"max_quote_age"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueueSize       int           `yaml:"queue_size"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type KeeperConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// ActorsConfig holds the addresses the daemon itself acts as when calling
// into the engine.
type ActorsConfig struct {
	Admin      string `yaml:"admin"`
	Keeper     string `yaml:"keeper"`
	Matcher    string `yaml:"matcher"`
	Liquidator string `yaml:"liquidator"`
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
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/baskt-core.db"
	}
	if cfg.State.SnapshotInterval == 0 {
		cfg.State.SnapshotInterval = 30 * time.Second
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Oracle.ReconnectDelay == 0 {
		cfg.Oracle.ReconnectDelay = 3 * time.Second
	}
	if cfg.Oracle.PingInterval == 0 {
		cfg.Oracle.PingInterval = 15 * time.Second
	}
	if cfg.Oracle.RESTTimeout == 0 {
		cfg.Oracle.RESTTimeout = 10 * time.Second
	}
	if cfg.Oracle.RefreshInterval == 0 {
		cfg.Oracle.RefreshInterval = time.Minute
	}
	if cfg.Oracle.MaxQuoteAge == 0 {
		cfg.Oracle.MaxQuoteAge = 30 * time.Second
	}
	if cfg.Keeper.ScanInterval == 0 {
		cfg.Keeper.ScanInterval = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Oracle.WSURL == "" {
		return errors.New("oracle.ws_url is required")
	}
	if cfg.Oracle.RESTURL == "" {
		return errors.New("oracle.rest_url is required")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Keeper.Enabled && cfg.Actors.Liquidator == "" {
		return errors.New("actors.liquidator is required when the keeper is enabled")
	}
	return nil
}
