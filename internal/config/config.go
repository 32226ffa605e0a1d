// Package config loads service configuration from an optional YAML file
// with PAYWATCH_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Order    OrderConfig    `koanf:"order"`
	Callback CallbackConfig `koanf:"callback"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Storage  StorageConfig  `koanf:"storage"`
}

type ServerConfig struct {
	Port int       `koanf:"port"`
	TLS  TLSConfig `koanf:"tls"`
}

// TLSConfig points at PEM files; when both are set the server listens
// over HTTPS.
type TLSConfig struct {
	Cert string `koanf:"cert"`
	Key  string `koanf:"key"`
}

type AuthConfig struct {
	Token string `koanf:"token"`
}

type OrderConfig struct {
	// TimeoutSeconds bounds a monitoring session and feeds the wait
	// estimate reported to rejected callers.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

type CallbackConfig struct {
	Secret          string `koanf:"secret"`
	RetryCount      int    `koanf:"retry_count"`
	RetryIntervalMs int    `koanf:"retry_interval_ms"`
}

type MonitorConfig struct {
	ScreenWidth         int     `koanf:"screen_width"`
	ScreenHeight        int     `koanf:"screen_height"`
	ROIWidth            int     `koanf:"roi_width"`
	ROIHeight           int     `koanf:"roi_height"`
	SampleStride        int     `koanf:"sample_stride"`
	MotionThreshold     float64 `koanf:"motion_threshold"`
	IdleIntervalMs      int     `koanf:"idle_interval_ms"`
	BusyIntervalMs      int     `koanf:"busy_interval_ms"`
	HeartbeatIntervalMs int     `koanf:"heartbeat_interval_ms"`
	SerialPattern       string  `koanf:"serial_pattern"`
	CaptureCommand      string  `koanf:"capture_command"`
	RecognizeCommand    string  `koanf:"recognize_command"`
}

type StorageConfig struct {
	// Path of the sqlite session journal; empty disables it.
	Path string `koanf:"path"`
}

// Load reads the YAML file at path (skipped when it does not exist),
// then applies PAYWATCH_* environment overrides and defaults. Double
// underscores in env names map to key separators, e.g.
// PAYWATCH_AUTH__TOKEN sets auth.token.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("PAYWATCH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PAYWATCH_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":                   8090,
		"order.timeout_seconds":         60,
		"callback.retry_count":          3,
		"callback.retry_interval_ms":    2000,
		"monitor.screen_width":          1920,
		"monitor.screen_height":         1080,
		"monitor.roi_width":             380,
		"monitor.roi_height":            450,
		"monitor.sample_stride":         4,
		"monitor.motion_threshold":      0.05,
		"monitor.idle_interval_ms":      500,
		"monitor.busy_interval_ms":      800,
		"monitor.heartbeat_interval_ms": 20000,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

// validate refuses to start without the keys whose absence would make
// the service unreachable or its callbacks unverifiable.
func (c *Config) validate() error {
	if c.Auth.Token == "" {
		return fmt.Errorf("config: auth.token is required")
	}
	if c.Callback.Secret == "" {
		return fmt.Errorf("config: callback.secret is required")
	}
	if c.Order.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: order.timeout_seconds must be positive")
	}
	return nil
}
