package config

import (
	"errors"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		LogLevel      string  `toml:"log_level"`
		MoveThreshold float64 `toml:"move_threshold"` // |changeRate| % that triggers replication
	} `toml:"app"`

	Broker struct {
		Enabled         bool     `toml:"enabled"`
		RestURL         string   `toml:"rest_url"`
		WsURL           string   `toml:"ws_url"`
		AppKey          string   `toml:"app_key"`
		AppSecret       string   `toml:"app_secret"`
		DomesticSymbols []string `toml:"domestic_symbols"`
		ForeignSymbols  []string `toml:"foreign_symbols"`
		BatchSize       int      `toml:"batch_size"`
		RotationMs      int      `toml:"rotation_ms"`
		QuoteTTLMin     int      `toml:"quote_ttl_min"`
	} `toml:"broker"`

	Exchange struct {
		Enabled     bool   `toml:"enabled"`
		RestURL     string `toml:"rest_url"`
		WsURL       string `toml:"ws_url"`
		BatchSize   int    `toml:"batch_size"`
		RotationMs  int    `toml:"rotation_ms"`
		QuoteTTLMin int    `toml:"quote_ttl_min"`
	} `toml:"exchange"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`

	Kafka struct {
		Enabled    bool     `toml:"enabled"`
		Brokers    []string `toml:"brokers"`
		AlertTopic string   `toml:"alert_topic"`
		TickTopic  string   `toml:"tick_topic"`
		GroupID    string   `toml:"group_id"`
	} `toml:"kafka"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Stream struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"stream"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.MoveThreshold <= 0 {
		cfg.App.MoveThreshold = 5.0
	}
	if cfg.Broker.BatchSize <= 0 {
		cfg.Broker.BatchSize = 3
	}
	if cfg.Broker.RotationMs <= 0 {
		cfg.Broker.RotationMs = 1500
	}
	if cfg.Broker.QuoteTTLMin <= 0 {
		cfg.Broker.QuoteTTLMin = 10
	}
	if cfg.Exchange.BatchSize <= 0 {
		cfg.Exchange.BatchSize = 6
	}
	if cfg.Exchange.RotationMs <= 0 {
		cfg.Exchange.RotationMs = 500
	}
	if cfg.Exchange.QuoteTTLMin <= 0 {
		cfg.Exchange.QuoteTTLMin = 30
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Kafka.AlertTopic == "" {
		cfg.Kafka.AlertTopic = "target-price-alert"
	}
	if cfg.Kafka.TickTopic == "" {
		cfg.Kafka.TickTopic = "stock-price-alert"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "tickerhub"
	}
	if cfg.Stream.ListenAddr == "" {
		cfg.Stream.ListenAddr = ":8090"
	}
	cfg.Broker.DomesticSymbols = normalizeSymbols(cfg.Broker.DomesticSymbols)
	cfg.Broker.ForeignSymbols = normalizeSymbols(cfg.Broker.ForeignSymbols)
}

func validate(cfg *Config) error {
	if cfg.Broker.Enabled {
		if strings.TrimSpace(cfg.Broker.WsURL) == "" {
			return errors.New("broker.ws_url empty but enabled")
		}
		if strings.TrimSpace(cfg.Broker.RestURL) == "" {
			return errors.New("broker.rest_url empty but enabled")
		}
		if cfg.Broker.AppKey == "" || cfg.Broker.AppSecret == "" {
			return errors.New("broker.app_key/app_secret required when enabled")
		}
	}
	if cfg.Exchange.Enabled {
		if strings.TrimSpace(cfg.Exchange.WsURL) == "" {
			return errors.New("exchange.ws_url empty but enabled")
		}
		if strings.TrimSpace(cfg.Exchange.RestURL) == "" {
			return errors.New("exchange.rest_url empty but enabled")
		}
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers empty but enabled")
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	if cfg.SQLite.Enabled && strings.TrimSpace(cfg.SQLite.Path) == "" {
		return errors.New("sqlite.path empty but enabled")
	}
	return nil
}

func (c *Config) BrokerQuoteTTL() time.Duration {
	return time.Duration(c.Broker.QuoteTTLMin) * time.Minute
}

func (c *Config) ExchangeQuoteTTL() time.Duration {
	return time.Duration(c.Exchange.QuoteTTLMin) * time.Minute
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
