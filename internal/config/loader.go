package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and applies
// defaults for unset ones. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Live.APIKey == "" {
		slog.Warn("live.api_key is empty; session connect attempts will be rejected with a configuration error")
	}

	c := &cfg.Client
	if c.SceneInterval < 0 {
		errs = append(errs, fmt.Errorf("client.scene_interval must not be negative, got %s", c.SceneInterval))
	}
	if c.SceneThreshold < 0 {
		errs = append(errs, fmt.Errorf("client.scene_threshold must not be negative, got %v", c.SceneThreshold))
	}
	if c.PlaybackLookahead < 0 {
		errs = append(errs, fmt.Errorf("client.playback_lookahead must not be negative, got %s", c.PlaybackLookahead))
	}
	if c.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("client.silence_threshold must not be negative, got %s", c.SilenceThreshold))
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("client.cooldown must not be negative, got %s", c.Cooldown))
	}
	if c.FrameFreshness < 0 {
		errs = append(errs, fmt.Errorf("client.frame_freshness must not be negative, got %s", c.FrameFreshness))
	}

	return errors.Join(errs...)
}
