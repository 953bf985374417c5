package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultConfigFile = "jackpotbot.toml"

// fileConfig is the on-disk TOML shape. Zero values fall back to defaults.
type fileConfig struct {
	HTTPListen string `toml:"http_listen"`
	DebugLevel string `toml:"debug_level"`

	Trading tradingConfig `toml:"trading"`
	Rates   ratesConfig   `toml:"rates"`
}

type tradingConfig struct {
	APIURL        string `toml:"api_url"`
	Account       string `toml:"account"`
	Secret        string `toml:"secret"`
	TwoFactorCode string `toml:"two_factor_code"`

	OfferMessage string `toml:"offer_message"`
	OfferURLBase string `toml:"offer_url_base"`

	MaxLoginAttempts     int    `toml:"max_login_attempts"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	LivenessInterval     string `toml:"liveness_interval"`
	PollInterval         string `toml:"poll_interval"`
	MaxTracking          string `toml:"max_tracking"`
}

type ratesConfig struct {
	URL             string `toml:"url"`
	RefreshInterval string `toml:"refresh_interval"`
}

// botConfig is the parsed runtime configuration.
type botConfig struct {
	DataDir    string
	HTTPListen string
	DebugLevel string

	TradeAPIURL   string
	Account       string
	Secret        string
	TwoFactorCode string
	OfferMessage  string
	OfferURLBase  string

	MaxLoginAttempts     int
	MaxReconnectAttempts int
	LivenessInterval     time.Duration
	PollInterval         time.Duration
	MaxTracking          time.Duration

	RatesURL             string
	RatesRefreshInterval time.Duration
}

func loadConfig(dataDir string) (*botConfig, error) {
	cfg := &botConfig{
		DataDir:      dataDir,
		HTTPListen:   "localhost:8320",
		DebugLevel:   "info",
		OfferMessage: "Jackpot deposit",
	}

	path := filepath.Join(dataDir, defaultConfigFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("missing config file %s", path)
	}

	var raw fileConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if raw.HTTPListen != "" {
		cfg.HTTPListen = raw.HTTPListen
	}
	if raw.DebugLevel != "" {
		cfg.DebugLevel = raw.DebugLevel
	}

	cfg.TradeAPIURL = raw.Trading.APIURL
	cfg.Account = raw.Trading.Account
	cfg.Secret = raw.Trading.Secret
	cfg.TwoFactorCode = raw.Trading.TwoFactorCode
	if raw.Trading.OfferMessage != "" {
		cfg.OfferMessage = raw.Trading.OfferMessage
	}
	cfg.OfferURLBase = raw.Trading.OfferURLBase
	cfg.MaxLoginAttempts = raw.Trading.MaxLoginAttempts
	cfg.MaxReconnectAttempts = raw.Trading.MaxReconnectAttempts

	var err error
	if cfg.LivenessInterval, err = parseDuration(raw.Trading.LivenessInterval); err != nil {
		return nil, fmt.Errorf("liveness_interval: %w", err)
	}
	if cfg.PollInterval, err = parseDuration(raw.Trading.PollInterval); err != nil {
		return nil, fmt.Errorf("poll_interval: %w", err)
	}
	if cfg.MaxTracking, err = parseDuration(raw.Trading.MaxTracking); err != nil {
		return nil, fmt.Errorf("max_tracking: %w", err)
	}

	cfg.RatesURL = raw.Rates.URL
	if cfg.RatesRefreshInterval, err = parseDuration(raw.Rates.RefreshInterval); err != nil {
		return nil, fmt.Errorf("rates refresh_interval: %w", err)
	}

	if cfg.TradeAPIURL == "" {
		return nil, fmt.Errorf("missing trading.api_url in %s", path)
	}
	if cfg.Account == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("missing trading.account or trading.secret in %s", path)
	}
	if cfg.RatesURL == "" {
		return nil, fmt.Errorf("missing rates.url in %s", path)
	}

	return cfg, nil
}

// parseDuration treats an empty string as zero, letting the component apply
// its own default.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
