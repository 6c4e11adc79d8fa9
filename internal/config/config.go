// Package config provides the configuration schema and loader for the
// Sightline realtime conversation server.
package config

import "time"

// LogLevel controls log verbosity for the Sightline server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Sightline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig holds network and logging settings for the Sightline server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// StaticDir is the directory of static assets served at the root path.
	// Empty disables static file serving.
	StaticDir string `yaml:"static_dir"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LiveConfig selects and authenticates the upstream live session provider.
type LiveConfig struct {
	// APIKey is the credential for the upstream provider. Empty means the
	// server starts but every connect attempt is answered with a
	// configuration error.
	APIKey string `yaml:"api_key"`

	// Model is the upstream model identifier requested for each session.
	// Empty selects the provider default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint. Leave empty to use
	// the built-in default; set in tests to point at a mock server.
	BaseURL string `yaml:"base_url"`
}

// ClientConfig tunes the client-side media pipeline. The zero value of each
// field selects the documented default.
type ClientConfig struct {
	// SceneInterval is the fixed sampling interval of the scene-change
	// gate. Default 1s.
	SceneInterval time.Duration `yaml:"scene_interval"`

	// SceneThreshold is the mean absolute per-cell luma difference at or
	// above which a frame is considered changed. Default 12.
	SceneThreshold float64 `yaml:"scene_threshold"`

	// PlaybackLookahead is the fixed scheduling lookahead of the audio
	// playback scheduler. Default 50ms.
	PlaybackLookahead time.Duration `yaml:"playback_lookahead"`

	// AutoObserve enables the silence-driven auto-observation heuristic.
	AutoObserve bool `yaml:"auto_observe"`

	// SilenceThreshold is how long the user must be inactive before an
	// auto-observation becomes eligible. Default 12s.
	SilenceThreshold time.Duration `yaml:"silence_threshold"`

	// Cooldown is the minimum gap between two auto-observations. Default 30s.
	Cooldown time.Duration `yaml:"cooldown"`

	// FrameFreshness is the maximum age of the last captured camera frame
	// for an auto-observation to be sent. Default 5s.
	FrameFreshness time.Duration `yaml:"frame_freshness"`
}
