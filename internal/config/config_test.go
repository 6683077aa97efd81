// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/samples"
)

func resetViper() {
	viper.Reset()
}

func setupConfigFile(t *testing.T, content string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))

	configDir := filepath.Join(tmpDir, ".config", AppName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestInit_WithDefaults(t *testing.T) {
	resetViper()
	setupConfigFile(t, DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"sample_rate", 48000},
		{"sample_format", "float"},
		{"bits_per_sample", 32},
		{"channels", 2},
		{"buffer_size", 512},
		{"buffer_pool_workers", 2},
		{"max_voices", 32},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := viper.Get(tt.key)
			switch expected := tt.expected.(type) {
			case int:
				if viper.GetInt(tt.key) != expected {
					t.Errorf("viper.GetInt(%q) = %v, want %v", tt.key, got, expected)
				}
			case string:
				if viper.GetString(tt.key) != expected {
					t.Errorf("viper.GetString(%q) = %v, want %v", tt.key, got, expected)
				}
			}
		})
	}
}

func TestGet_ValidConfig(t *testing.T) {
	resetViper()
	setupConfigFile(t, DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if settings.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", settings.SampleRate)
	}
	if settings.Channels != 2 {
		t.Errorf("Channels = %d, want 2", settings.Channels)
	}
	if len(settings.TrackMappings) == 0 {
		t.Error("default track mappings missing")
	}
}

func validSettings() *Settings {
	return &Settings{
		SampleRate:        48000,
		SampleFormat:      "float",
		BitsPerSample:     32,
		Channels:          2,
		BufferSize:        512,
		PlaybackDelay:     "0s",
		BufferPoolWorkers: 2,
		MaxVoices:         32,
		TrackMappings:     map[string][]int{"click": {1}},
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Errorf("valid settings rejected: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"sample rate too low", func(s *Settings) { s.SampleRate = 4000 }},
		{"sample rate too high", func(s *Settings) { s.SampleRate = 400000 }},
		{"zero channels", func(s *Settings) { s.Channels = 0 }},
		{"too many channels", func(s *Settings) { s.Channels = 100 }},
		{"buffer too small", func(s *Settings) { s.BufferSize = 8 }},
		{"buffer not power of two", func(s *Settings) { s.BufferSize = 500 }},
		{"unknown sample format", func(s *Settings) { s.SampleFormat = "double" }},
		{"uppercase sample format", func(s *Settings) { s.SampleFormat = "FLOAT" }},
		{"float with 16 bits", func(s *Settings) { s.BitsPerSample = 16 }},
		{"int with 24 bits", func(s *Settings) { s.SampleFormat = "int"; s.BitsPerSample = 24 }},
		{"bad playback delay", func(s *Settings) { s.PlaybackDelay = "soon" }},
		{"negative pool workers", func(s *Settings) { s.BufferPoolWorkers = -1 }},
		{"zero max voices", func(s *Settings) { s.MaxVoices = 0 }},
		{"mapping channel out of range", func(s *Settings) { s.TrackMappings = map[string][]int{"x": {3}} }},
		{"mapping channel zero", func(s *Settings) { s.TrackMappings = map[string][]int{"x": {0}} }},
		{"empty mapping", func(s *Settings) { s.TrackMappings = map[string][]int{"x": {}} }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidate_SampleFormatSpellings(t *testing.T) {
	// Exactly four accepted spellings.
	for _, valid := range []string{"int", "Int", "float", "Float"} {
		s := validSettings()
		s.SampleFormat = valid
		if valid == "int" || valid == "Int" {
			s.BitsPerSample = 16
		}
		if err := s.Validate(); err != nil {
			t.Errorf("format %q rejected: %v", valid, err)
		}
	}
	for _, invalid := range []string{"INT", "fLoat", "f32", ""} {
		s := validSettings()
		s.SampleFormat = invalid
		if err := s.Validate(); err == nil {
			t.Errorf("format %q accepted", invalid)
		}
	}
}

func TestValidate_IntBitDepths(t *testing.T) {
	for _, bits := range []int{16, 32} {
		s := validSettings()
		s.SampleFormat = "int"
		s.BitsPerSample = bits
		if err := s.Validate(); err != nil {
			t.Errorf("int %d-bit rejected: %v", bits, err)
		}
	}
}

func TestValidate_SamplesConfigChecked(t *testing.T) {
	s := validSettings()
	s.Samples = map[string]samples.Definition{
		"broken": {}, // no file, no output channels
	}
	if err := s.Validate(); err == nil {
		t.Error("invalid sample definition accepted")
	}
}

func TestTargetFormat(t *testing.T) {
	s := validSettings()
	format, err := s.TargetFormat()
	if err != nil {
		t.Fatalf("TargetFormat() error = %v", err)
	}
	if format.SampleRate != 48000 {
		t.Errorf("SampleRate = %d", format.SampleRate)
	}
	if format.SampleFormat != audio.FormatFloat {
		t.Errorf("SampleFormat = %v", format.SampleFormat)
	}
	if format.BitsPerSample != 32 {
		t.Errorf("BitsPerSample = %d", format.BitsPerSample)
	}
}

func TestPlaybackDelayDuration(t *testing.T) {
	s := validSettings()
	s.PlaybackDelay = "250ms"
	if got := s.PlaybackDelayDuration(); got.Milliseconds() != 250 {
		t.Errorf("PlaybackDelayDuration() = %v", got)
	}

	s.PlaybackDelay = ""
	if got := s.PlaybackDelayDuration(); got != 0 {
		t.Errorf("empty delay = %v, want 0", got)
	}
}

func TestGet_InvalidConfigRejected(t *testing.T) {
	resetViper()
	setupConfigFile(t, "sample_rate: 1000000\n")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := Get(); err == nil {
		t.Error("expected error for out-of-range sample_rate")
	}
}

func TestGet_SamplesAndTriggersParsed(t *testing.T) {
	resetViper()
	setupConfigFile(t, `
sample_rate: 48000
sample_format: float
bits_per_sample: 32
channels: 2
buffer_size: 512
samples:
  kick:
    file: kick.wav
    output_channels: [1]
    retrigger: cut
triggers:
  - sample: kick
    channel: 10
    note: 36
`)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	kick, ok := settings.Samples["kick"]
	if !ok {
		t.Fatal("kick sample not parsed")
	}
	if kick.File != "kick.wav" {
		t.Errorf("kick.File = %q", kick.File)
	}
	if len(settings.Triggers) != 1 {
		t.Fatalf("triggers = %d, want 1", len(settings.Triggers))
	}
	if settings.Triggers[0].Note == nil || *settings.Triggers[0].Note != 36 {
		t.Error("trigger note not parsed")
	}
}
