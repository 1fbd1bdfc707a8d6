package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"spread-trader/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	API       APIConfig       `yaml:"api"`
	Trading   TradingConfig   `yaml:"trading"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// APIConfig 接入参数。ChannelPrefix 为频道前缀（如 futures.tickers 的 "futures"）。
type APIConfig struct {
	Key           string `yaml:"key"`
	Secret        string `yaml:"secret"`
	URL           string `yaml:"url"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// TradingConfig 交易参数。
type TradingConfig struct {
	Contracts           []string `yaml:"contracts"`
	Amount              int64    `yaml:"amount"`
	MaxTrades           int      `yaml:"max_trades"`
	SpreadThreshold     string   `yaml:"spread_threshold"` // 小数形式，如 0.0005 = 0.05%
	AssumeImmediateFill *bool    `yaml:"assume_immediate_fill"`
}

// Threshold 解析价差阈值为定点数。
func (t TradingConfig) Threshold() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(t.SpreadThreshold)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse spread_threshold %q: %w", t.SpreadThreshold, err)
	}
	return d, nil
}

// ImmediateFill 报告是否假定订单即时成交，默认 true。
func (t TradingConfig) ImmediateFill() bool {
	if t.AssumeImmediateFill == nil {
		return true
	}
	return *t.AssumeImmediateFill
}

// MetricsConfig Prometheus 监听配置。Addr 为空则不启动。
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ReconnectConfig 断线重连策略。MaxRetries 为 0 表示断线即停（原始行为）。
type ReconnectConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	MaxIntervalMs int `yaml:"max_interval_ms"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("TRADER_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("TRADER_API_SECRET"); v != "" {
		cfg.API.Secret = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.API.Key == "" || cfg.API.Secret == "" {
		return errors.New("api.key/api.secret is required (or env overrides)")
	}
	if cfg.API.URL == "" {
		return errors.New("api.url is required")
	}
	if len(cfg.Trading.Contracts) == 0 {
		return errors.New("trading.contracts is required")
	}
	if cfg.Trading.Amount <= 0 {
		return errors.New("trading.amount must be > 0")
	}
	if cfg.Trading.MaxTrades <= 0 {
		return errors.New("trading.max_trades must be > 0")
	}
	threshold, err := cfg.Trading.Threshold()
	if err != nil {
		return err
	}
	if !threshold.IsPositive() || threshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("trading.spread_threshold must be in (0, 1)")
	}
	if cfg.Reconnect.MaxRetries < 0 {
		return errors.New("reconnect.max_retries must be >= 0")
	}
	if cfg.Reconnect.MaxIntervalMs < 0 {
		return errors.New("reconnect.max_interval_ms must be >= 0")
	}
	return nil
}
