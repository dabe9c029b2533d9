// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Admin    AdminConfig    `yaml:"admin"`
	Playback PlaybackConfig `yaml:"playback"`
	Audio    AudioConfig    `yaml:"audio"`
	Sources  []SourceConfig `yaml:"sources" validate:"required,min=1,dive"`
	Queue    QueueConfig    `yaml:"queue"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents control surface access configuration.
// An empty token disables authentication.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	ProgressIntervalMs         int      `yaml:"progress_interval_ms" default:"100" validate:"gte=50,lte=300"`
	MetadataDebounceMs         int      `yaml:"metadata_debounce_ms" default:"500" validate:"gte=10,lte=5000"`
	PreviousRestartThresholdMs int      `yaml:"previous_restart_threshold_ms" validate:"gte=0"`
	Volume                     *float64 `yaml:"volume" default:"1" validate:"required,gte=0,lte=1"`
	DisablePreload             bool     `yaml:"disable_preload"`
}

// AudioConfig represents output engine configuration.
type AudioConfig struct {
	Output       string `yaml:"output" default:"speaker" validate:"oneof=speaker null"`
	SampleRate   int    `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	BufferMs     int    `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
	StallCheckMs int    `yaml:"stall_check_ms" default:"1000" validate:"gte=100"`
}

// SourceConfig represents a single asset source configuration.
// Settings are decoded by the source implementation.
type SourceConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=file http spotify"`
	Settings map[string]any `yaml:"settings"`
}

// QueueConfig represents the initial queue.
type QueueConfig struct {
	Playlist        string   `yaml:"playlist"`
	SpotifyPlaylist string   `yaml:"spotify_playlist"`
	Items           []string `yaml:"items"`
	LoadAssets      bool     `yaml:"load_assets"`
	Autoplay        bool     `yaml:"autoplay"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("JUKEBOX_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	for i := range c.Sources {
		if c.Sources[i].Type != "spotify" {
			continue
		}
		if c.Sources[i].Settings == nil {
			c.Sources[i].Settings = make(map[string]any)
		}
		if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
			c.Sources[i].Settings["client_id"] = v
		}
		if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
			c.Sources[i].Settings["client_secret"] = v
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if c.Queue.Playlist != "" {
		if _, err := os.Stat(c.Queue.Playlist); err != nil {
			return errors.Wrapf(err, "queue playlist %s", c.Queue.Playlist)
		}
	}
	if c.Queue.SpotifyPlaylist != "" && !slices.Contains(c.SourceTypes(), "spotify") {
		return errors.New("queue spotify_playlist requires a spotify source")
	}
	return nil
}

// SourceTypes returns the configured source types in order.
func (c *Config) SourceTypes() []string {
	types := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		types[i] = s.Type
	}
	return types
}

// ProgressInterval returns the progress notification period.
func (p PlaybackConfig) ProgressInterval() time.Duration {
	return time.Duration(p.ProgressIntervalMs) * time.Millisecond
}

// MetadataDebounce returns the metadata coalescing window.
func (p PlaybackConfig) MetadataDebounce() time.Duration {
	return time.Duration(p.MetadataDebounceMs) * time.Millisecond
}

// PreviousRestartThreshold returns the position past which "previous"
// restarts the current item. Zero disables it.
func (p PlaybackConfig) PreviousRestartThreshold() time.Duration {
	return time.Duration(p.PreviousRestartThresholdMs) * time.Millisecond
}

// InitialVolume returns the configured volume.
func (p PlaybackConfig) InitialVolume() float64 {
	if p.Volume == nil {
		return 1
	}
	return *p.Volume
}

// Buffer returns the output buffer length.
func (a AudioConfig) Buffer() time.Duration {
	return time.Duration(a.BufferMs) * time.Millisecond
}

// StallCheck returns the stall detection period.
func (a AudioConfig) StallCheck() time.Duration {
	return time.Duration(a.StallCheckMs) * time.Millisecond
}
