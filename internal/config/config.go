// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Exchange describes the centralized exchange connectivity parameters the bot expects.
type Exchange struct {
	BaseURL          string   `yaml:"base_url"`
	APIKey           string   `yaml:"api_key"`
	APISecret        string   `yaml:"api_secret"`
	Pairs            []string `yaml:"pairs"`
	RulesRefreshSecs int      `yaml:"rules_refresh_secs"`
	Stream           Stream   `yaml:"stream"`
}

// Stream configures the optional websocket ticker feed used by the fast loop.
type Stream struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Symbols map[string]string `yaml:"symbols"` // pair -> stream symbol override
}

// TA configures the external technical-analysis provider and its signal cache.
type TA struct {
	BaseURL      string   `yaml:"base_url"`
	Interval     string   `yaml:"interval"`
	CacheTTLSecs int      `yaml:"cache_ttl_secs"`
	StaleForSecs int      `yaml:"stale_for_secs"`
	Venues       []string `yaml:"venues"`
}

// Trading encodes the decision thresholds and cadences for both loops.
type Trading struct {
	TPThreshold      float64 `yaml:"tp_threshold"`
	SLThreshold      float64 `yaml:"sl_threshold"`
	StrongBuyVotes   int     `yaml:"strong_buy_votes"`
	StrongSellVotes  int     `yaml:"strong_sell_votes"`
	WeakSellVotes    int     `yaml:"weak_sell_votes"`
	ReserveCash      float64 `yaml:"reserve_cash"`
	MinTicket        float64 `yaml:"min_ticket"`
	FastIntervalSecs int     `yaml:"fast_interval_secs"`
	SlowIntervalSecs int     `yaml:"slow_interval_secs"`
}

// Ledger locates the durable portfolio state and fill journal on disk.
type Ledger struct {
	StatePath    string  `yaml:"state_path"`
	FillsPath    string  `yaml:"fills_path"`
	StartingCash float64 `yaml:"starting_cash"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	TA       TA       `yaml:"ta"`
	Trading  Trading  `yaml:"trading"`
	Ledger   Ledger   `yaml:"ledger"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
