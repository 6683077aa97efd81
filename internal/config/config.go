// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/samples"
)

const (
	AppName       = "mtrack"
	ConfigType    = "yaml"
	DefaultConfig = `# mtrack configuration

# Audio device settings
device: ""              # Output device name (empty = default; see 'mtrack devices')
sample_rate: 48000      # Output sample rate in Hz
sample_format: "float"  # Output sample format: int or float
bits_per_sample: 32     # Bit depth (float: 32, int: 16 or 32)
channels: 2             # Number of output channels to open
buffer_size: 512        # Device buffer size in frames per callback
playback_delay: "0s"    # Delay applied after the start cue before audio begins

# Prefetch
buffer_pool_workers: 2  # Worker threads prefilling song track buffers (0 disables prefetch)

# Sample engine
max_voices: 32          # Global polyphony limit for triggered samples

# Track routing: label -> 1-indexed output channels
track_mappings:
  click: [1]
  backing-L: [1]
  backing-R: [2]

# Triggered samples
samples: {}
triggers: []
`
)

// Settings holds all application configuration.
type Settings struct {
	// Audio device settings
	Device        string `mapstructure:"device"`
	SampleRate    int    `mapstructure:"sample_rate"`
	SampleFormat  string `mapstructure:"sample_format"`
	BitsPerSample int    `mapstructure:"bits_per_sample"`
	Channels      int    `mapstructure:"channels"`
	BufferSize    int    `mapstructure:"buffer_size"`
	PlaybackDelay string `mapstructure:"playback_delay"`

	// Prefetch
	BufferPoolWorkers int `mapstructure:"buffer_pool_workers"`

	// Sample engine
	MaxVoices int `mapstructure:"max_voices"`

	// Track routing
	TrackMappings map[string][]int `mapstructure:"track_mappings"`

	// Triggered samples
	Samples  map[string]samples.Definition `mapstructure:"samples"`
	Triggers []samples.Trigger             `mapstructure:"triggers"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/mtrack/
func Init() error {
	viper.SetDefault("device", "")
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("sample_format", "float")
	viper.SetDefault("bits_per_sample", 32)
	viper.SetDefault("channels", 2)
	viper.SetDefault("buffer_size", 512)
	viper.SetDefault("playback_delay", "0s")
	viper.SetDefault("buffer_pool_workers", 2)
	viper.SetDefault("max_voices", 32)

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	viper.SetConfigName("config")
	if err = viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings.
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges.
func (s *Settings) Validate() error {
	var errs []error

	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 64 {
		errs = append(errs, fmt.Errorf("channels must be between 1 and 64, got %d", s.Channels))
	}
	if s.BufferSize < 16 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 16 and 8192, got %d", s.BufferSize))
	}
	if s.BufferSize&(s.BufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("buffer_size should be a power of 2, got %d", s.BufferSize))
	}

	format, err := audio.ParseSampleFormat(s.SampleFormat)
	if err != nil {
		errs = append(errs, err)
	} else {
		switch format {
		case audio.FormatFloat:
			if s.BitsPerSample != 32 {
				errs = append(errs, fmt.Errorf("float output requires 32 bits per sample, got %d", s.BitsPerSample))
			}
		case audio.FormatInt:
			if s.BitsPerSample != 16 && s.BitsPerSample != 32 {
				errs = append(errs, fmt.Errorf("integer output requires 16 or 32 bits per sample, got %d", s.BitsPerSample))
			}
		}
	}

	if _, err := time.ParseDuration(s.PlaybackDelay); s.PlaybackDelay != "" && err != nil {
		errs = append(errs, fmt.Errorf("playback_delay: %w", err))
	}

	if s.BufferPoolWorkers < 0 || s.BufferPoolWorkers > 16 {
		errs = append(errs, fmt.Errorf("buffer_pool_workers must be between 0 and 16, got %d", s.BufferPoolWorkers))
	}
	if s.MaxVoices < 1 || s.MaxVoices > 256 {
		errs = append(errs, fmt.Errorf("max_voices must be between 1 and 256, got %d", s.MaxVoices))
	}

	for label, channels := range s.TrackMappings {
		if len(channels) == 0 {
			errs = append(errs, fmt.Errorf("track mapping %q has no output channels", label))
		}
		for _, ch := range channels {
			if ch < 1 || ch > s.Channels {
				errs = append(errs, fmt.Errorf("track mapping %q: channel %d out of range 1-%d", label, ch, s.Channels))
			}
		}
	}

	samplesConfig := s.SamplesConfig()
	if err := samplesConfig.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// TargetFormat converts the validated settings to a TargetFormat.
func (s *Settings) TargetFormat() (audio.TargetFormat, error) {
	format, err := audio.ParseSampleFormat(s.SampleFormat)
	if err != nil {
		return audio.TargetFormat{}, err
	}
	return audio.NewTargetFormat(s.SampleRate, format, s.BitsPerSample)
}

// SamplesConfig bundles the sample definitions and triggers.
func (s *Settings) SamplesConfig() *samples.Config {
	return &samples.Config{
		Samples:  s.Samples,
		Triggers: s.Triggers,
	}
}

// PlaybackDelayDuration parses the configured playback delay.
func (s *Settings) PlaybackDelayDuration() time.Duration {
	if s.PlaybackDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(s.PlaybackDelay)
	if err != nil {
		return 0
	}
	return d
}
