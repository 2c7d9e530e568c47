package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration shared by the rosey processes.
// Zero values fall back to the defaults below.
type Config struct {
	NATS struct {
		URL                   string `yaml:"url"`
		MaxReconnects         int    `yaml:"max_reconnects"`
		ReconnectWaitSeconds  int    `yaml:"reconnect_wait_seconds"`
		ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	} `yaml:"nats"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Plugins struct {
		Root string `yaml:"root"`
	} `yaml:"plugins"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Intervals struct {
		KVSweepSeconds   int    `yaml:"kv_sweep_seconds"`
		UserCountSeconds int    `yaml:"user_count_seconds"`
		StatusSeconds    int    `yaml:"status_seconds"`
		OutboundSeconds  int    `yaml:"outbound_seconds"`
		MaintenanceCron  string `yaml:"maintenance_cron"`
	} `yaml:"intervals"`

	Bot struct {
		Name    string `yaml:"name"`
		Channel string `yaml:"channel"`
		Domain  string `yaml:"domain"`
	} `yaml:"bot"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.ReconnectWaitSeconds = 2
	cfg.NATS.ConnectTimeoutSeconds = 5
	cfg.Database.Path = "bot_data.db"
	cfg.Plugins.Root = "plugins"
	cfg.Metrics.Addr = ":9090"
	cfg.Intervals.KVSweepSeconds = 300
	cfg.Intervals.UserCountSeconds = 300
	cfg.Intervals.StatusSeconds = 10
	cfg.Intervals.OutboundSeconds = 2
	cfg.Intervals.MaintenanceCron = "0 4 * * *"
	cfg.Bot.Name = "rosey"
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
