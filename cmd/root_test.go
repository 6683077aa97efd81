// cmd/root_test.go
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func resetViperForTest() {
	viper.Reset()
}

func setupTestConfig(t *testing.T, content string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	configDir := filepath.Join(tmpDir, ".config", "mtrack")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"device", "d"},
		{"buffer-size", "b"},
		{"channels", "c"},
		{"debug", "D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Errorf("flag %q not found", tt.name)
				return
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
		})
	}
}

func TestRootCmd_Properties(t *testing.T) {
	if rootCmd.Use != "mtrack" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "mtrack")
	}
	if rootCmd.Short == "" {
		t.Error("rootCmd.Short is empty")
	}
	if rootCmd.Long == "" {
		t.Error("rootCmd.Long is empty")
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"play", "devices"} {
		if !names[want] {
			t.Errorf("subcommand %q not registered", want)
		}
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	resetViperForTest()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("Execute() with --help error = %v", err)
	}

	output := buf.String()
	if !bytes.Contains([]byte(output), []byte("mtrack")) {
		t.Errorf("help output should contain 'mtrack'")
	}
	if !bytes.Contains([]byte(output), []byte("--device")) {
		t.Errorf("help output should contain '--device'")
	}
}

func TestRootCmd_FlagDefaults(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name         string
		defaultValue string
	}{
		{"device", ""},
		{"buffer-size", "512"},
		{"channels", "2"},
		{"debug", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.name)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default = %q, want %q", tt.name, flag.DefValue, tt.defaultValue)
			}
		})
	}
}

func TestInitConfig(t *testing.T) {
	resetViperForTest()
	setupTestConfig(t, "max_voices: 48")

	// Should not panic
	initConfig()

	if viper.GetInt("max_voices") != 48 {
		t.Errorf("viper.GetInt(max_voices) = %d, want 48", viper.GetInt("max_voices"))
	}
}

func TestPlayCmd_RequiresSongArgument(t *testing.T) {
	resetViperForTest()
	setupTestConfig(t, "")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"play"})

	if err := rootCmd.Execute(); err == nil {
		t.Error("play without a song argument should fail")
	}
}

func TestPlayCmd_MissingSongDirectory(t *testing.T) {
	resetViperForTest()
	setupTestConfig(t, "")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"play", filepath.Join(t.TempDir(), "absent")})

	if err := rootCmd.Execute(); err == nil {
		t.Error("play with a missing song directory should fail")
	}
}
