// cmd/play.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/config"
	"github.com/mdwn/mtrack/internal/player"
	"github.com/mdwn/mtrack/internal/playsync"
	"github.com/mdwn/mtrack/internal/samples"
	"github.com/mdwn/mtrack/internal/song"
	"github.com/mdwn/mtrack/internal/source"
)

var playFromSeconds float64

var playCmd = &cobra.Command{
	Use:   "play <song directory>",
	Short: "Play a song through the configured output device",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

// runPlay is the main entry point that wires all components together.
func runPlay(_ *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	target, err := settings.TargetFormat()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	loadedSong, err := song.Load(args[0])
	if err != nil {
		return fmt.Errorf("load song: %w", err)
	}

	output, err := audio.NewOutput(audio.OutputConfig{
		DeviceName:       settings.Device,
		Channels:         settings.Channels,
		Format:           target,
		BufferSizeFrames: settings.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	defer func() {
		if err := output.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error closing audio output: %v\n", err)
		}
	}()

	if err := output.Start(); err != nil {
		return fmt.Errorf("start audio output: %w", err)
	}

	var pool *source.FillPool
	if settings.BufferPoolWorkers > 0 {
		pool = source.NewFillPool(settings.BufferPoolWorkers)
		defer pool.Close()
	}
	playbackContext := source.NewPlaybackContext(target, settings.BufferSize, pool)

	// The sample engine listens for raw MIDI events delivered by the MIDI
	// subsystem; samples share the song's mixer clock.
	engine := samples.NewEngine(output.Mixer(), output, settings.MaxVoices, settings.BufferSize)
	if err := engine.LoadConfig(settings.SamplesConfig(), "."); err != nil {
		return fmt.Errorf("load samples: %w", err)
	}

	p := player.New(output, playbackContext, settings.PlaybackDelayDuration())
	cancelHandle := playsync.NewCancelHandle()

	// Handle OS signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutting down", "signal", sig)
		engine.StopAll()
		cancelHandle.Cancel()
	}()

	request := player.Request{
		Song:          loadedSong,
		TrackMappings: settings.TrackMappings,
		CancelHandle:  cancelHandle,
		Barrier:       playsync.NewBarrier(1),
		StartTime:     time.Duration(playFromSeconds * float64(time.Second)),
	}
	return p.Play(request)
}

func init() {
	playCmd.Flags().Float64Var(&playFromSeconds, "from", 0, "start playback at this offset in seconds")
	rootCmd.AddCommand(playCmd)
}
