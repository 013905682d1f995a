// Package config loads and validates the TOML configuration for the three
// binaries. Timing knobs are plain integer milliseconds in the files and are
// converted to component configs in convert.go.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type ClientConfig struct {
	App         string            `toml:"app"`
	HubURL      string            `toml:"hub_url"`
	FlowScript  string            `toml:"flow_script"`
	User        UserConfig        `toml:"user"`
	Reliability ReliabilityConfig `toml:"reliability"`
}

type UserConfig struct {
	ID    string `toml:"id"`
	Email string `toml:"email"`
	Name  string `toml:"name"`
}

// ReliabilityConfig carries every retry/timeout knob. Zero values fall back
// to component defaults.
type ReliabilityConfig struct {
	ConnectTimeoutMS     int     `toml:"connect_timeout_ms"`
	WriteTimeoutMS       int     `toml:"write_timeout_ms"`
	AckTimeoutMS         int     `toml:"ack_timeout_ms"`
	MaxReconnectAttempts int     `toml:"max_reconnect_attempts"`
	BackoffInitialMS     int     `toml:"backoff_initial_ms"`
	BackoffMultiplier    float64 `toml:"backoff_multiplier"`
	BackoffMaxMS         int     `toml:"backoff_max_ms"`
	BackoffJitter        bool    `toml:"backoff_jitter"`
	SendMaxAttempts      int     `toml:"send_max_attempts"`
	SendTimeoutMS        int     `toml:"send_timeout_ms"`
	SendRetryDelayMS     int     `toml:"send_retry_delay_ms"`
	NegotiateTimeoutMS   int     `toml:"negotiate_timeout_ms"`
	SessionRetries       int     `toml:"session_retries"`
}

type HubConfig struct {
	App              string `toml:"app"`
	Addr             string `toml:"addr"`
	AutoAgentName    string `toml:"auto_agent_name"`
	AutoAgentDelayMS int    `toml:"auto_agent_delay_ms"`
}

type LeadConfig struct {
	App    string `toml:"app"`
	Addr   string `toml:"addr"`
	DBPath string `toml:"db_path"`
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if cfg.App == "" {
		cfg.App = "chatctl"
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func LoadHubConfig(path string) (HubConfig, error) {
	var cfg HubConfig
	if err := loadToml(path, &cfg); err != nil {
		return HubConfig{}, err
	}
	if cfg.App == "" {
		cfg.App = "hubctl"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9300"
	}
	return cfg, nil
}

func LoadLeadConfig(path string) (LeadConfig, error) {
	var cfg LeadConfig
	if err := loadToml(path, &cfg); err != nil {
		return LeadConfig{}, err
	}
	if cfg.App == "" {
		cfg.App = "leadctl"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9400"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/leads.db"
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.HubURL) == "" {
		return fmt.Errorf("client config missing hub_url")
	}
	if !strings.HasPrefix(cfg.HubURL, "ws://") && !strings.HasPrefix(cfg.HubURL, "wss://") {
		return fmt.Errorf("client config hub_url must be a ws:// or wss:// url")
	}
	if strings.TrimSpace(cfg.User.ID) == "" {
		return fmt.Errorf("client config missing user.id")
	}
	if strings.TrimSpace(cfg.User.Email) == "" {
		return fmt.Errorf("client config missing user.email")
	}
	if cfg.Reliability.BackoffMultiplier < 0 {
		return fmt.Errorf("client config backoff_multiplier must be positive")
	}
	return nil
}
