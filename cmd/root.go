// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mdwn/mtrack/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "mtrack",
	Short: "Multitrack audio player for live performances",
	Long: `A multitrack playback engine that plays per-track audio files routed to
configured output channels, mixes in MIDI-triggered samples, and keeps
everything locked to one sample clock.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "execution error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().StringP("device", "d", "", "output device name (empty for default)")
	rootCmd.PersistentFlags().IntP("buffer-size", "b", 512, "device buffer size in frames")
	rootCmd.PersistentFlags().IntP("channels", "c", 2, "number of output channels")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	cobra.CheckErr(viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device")))
	cobra.CheckErr(viper.BindPFlag("buffer_size", rootCmd.PersistentFlags().Lookup("buffer-size")))
	cobra.CheckErr(viper.BindPFlag("channels", rootCmd.PersistentFlags().Lookup("channels")))
	cobra.CheckErr(viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")))
}

func initConfig() {
	if err := config.Init(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
}
