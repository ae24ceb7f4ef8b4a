// Package config loads and validates the engine configuration.
// Settings come from a YAML file with environment variable overrides
// (prefix ARIA, e.g. ARIA_TRANSPORT_BACKEND).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names selectable in the transport section.
const (
	BackendMpv     = "mpv"
	BackendSpeaker = "speaker"
)

// Transition style names selectable in the playback section.
const (
	StyleGapless   = "gapless"
	StyleCrossfade = "crossfade"
)

// Config is the full engine configuration.
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Scrobble  ScrobbleConfig  `mapstructure:"scrobble"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// TransportConfig selects and tunes the playback backend.
type TransportConfig struct {
	// Backend is "mpv" or "speaker"
	Backend string `mapstructure:"backend"`

	// MpvBinary is the mpv executable path (PATH lookup when empty)
	MpvBinary string `mapstructure:"mpv_binary"`

	// MpvSocket is the IPC socket path (auto-generated when empty)
	MpvSocket string `mapstructure:"mpv_socket"`
}

// TranscodeConfig controls server-side transcoding.
type TranscodeConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Format      string `mapstructure:"format"`
	BitrateKbps int    `mapstructure:"bitrate_kbps"`
}

// CacheConfig controls the local song cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PlaybackConfig tunes transitions and the initial volume.
type PlaybackConfig struct {
	// Style is "gapless" or "crossfade"
	Style string `mapstructure:"style"`

	// CrossfadeSeconds is the total crossfade length
	CrossfadeSeconds int `mapstructure:"crossfade_seconds"`

	// Volume is the startup volume (0.0 to 1.0), overridden by a restored session
	Volume float64 `mapstructure:"volume"`
}

// ScrobbleConfig tunes play submission thresholds.
type ScrobbleConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AtPercentage submits after this share of the song was heard
	AtPercentage int `mapstructure:"at_percentage"`

	// AtDurationSeconds, when positive, caps the threshold in absolute time
	AtDurationSeconds int `mapstructure:"at_duration_seconds"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level"`

	// Format is "text" or "json"
	Format string `mapstructure:"format"`
}

// Load reads the configuration from the given file. An empty path falls
// back to ~/.config/aria/config.yaml, and a missing file yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ARIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "aria"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicitly given file must exist; the default locations are
		// optional and fall back to defaults plus env overrides
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.backend", BackendMpv)
	v.SetDefault("transport.mpv_binary", "")
	v.SetDefault("transport.mpv_socket", "")

	v.SetDefault("transcode.enabled", false)
	v.SetDefault("transcode.format", "mp3")
	v.SetDefault("transcode.bitrate_kbps", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", defaultCachePath())

	v.SetDefault("playback.style", StyleGapless)
	v.SetDefault("playback.crossfade_seconds", 5)
	v.SetDefault("playback.volume", 1.0)

	v.SetDefault("scrobble.enabled", true)
	v.SetDefault("scrobble.at_percentage", 75)
	v.SetDefault("scrobble.at_duration_seconds", 240)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func defaultCachePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "aria", "songs")
	}
	return filepath.Join(os.TempDir(), "aria-cache")
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Transport.Backend {
	case BackendMpv, BackendSpeaker:
	default:
		return fmt.Errorf("unknown transport backend %q", c.Transport.Backend)
	}

	switch c.Playback.Style {
	case StyleGapless, StyleCrossfade:
	default:
		return fmt.Errorf("unknown playback style %q", c.Playback.Style)
	}

	if c.Playback.CrossfadeSeconds < 0 || c.Playback.CrossfadeSeconds > 60 {
		return fmt.Errorf("crossfade_seconds must be between 0 and 60, got %d", c.Playback.CrossfadeSeconds)
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return fmt.Errorf("playback volume must be between 0.0 and 1.0, got %v", c.Playback.Volume)
	}

	if c.Scrobble.AtPercentage < 1 || c.Scrobble.AtPercentage > 100 {
		return fmt.Errorf("scrobble at_percentage must be between 1 and 100, got %d", c.Scrobble.AtPercentage)
	}
	if c.Scrobble.AtDurationSeconds < 0 {
		return fmt.Errorf("scrobble at_duration_seconds must not be negative, got %d", c.Scrobble.AtDurationSeconds)
	}

	if c.Transcode.BitrateKbps < 0 {
		return fmt.Errorf("transcode bitrate_kbps must not be negative, got %d", c.Transcode.BitrateKbps)
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required when the cache is enabled")
	}

	return nil
}

// CrossfadeDuration returns the configured crossfade as a duration.
func (c *Config) CrossfadeDuration() time.Duration {
	return time.Duration(c.Playback.CrossfadeSeconds) * time.Second
}

// ScrobbleAtDuration returns the configured absolute threshold cap.
func (c *Config) ScrobbleAtDuration() time.Duration {
	return time.Duration(c.Scrobble.AtDurationSeconds) * time.Second
}
