// internal/player/player.go
package player

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/playsync"
	"github.com/mdwn/mtrack/internal/recovery"
	"github.com/mdwn/mtrack/internal/song"
	"github.com/mdwn/mtrack/internal/source"
)

// finishPollInterval is how often the completion monitor samples the
// per-source finished flags.
const finishPollInterval = 10 * time.Millisecond

// ErrTooManyChannels indicates the song's mappings exceed the device.
var ErrTooManyChannels = errors.New("song requests more channels than the device has")

// Output is the player's view of the audio device: the mixer for
// geometry and the sender for admitting sources.
type Output interface {
	Mixer() *audio.Mixer
	Send(*audio.ActiveSource) error
}

// Player builds the per-song source set and coordinates start and
// completion with the other subsystems.
type Player struct {
	output  Output
	context source.PlaybackContext
	// playbackDelay is applied after the barrier releases, before
	// sources are admitted.
	playbackDelay time.Duration
}

// New creates a player over the given output.
func New(output Output, context source.PlaybackContext, playbackDelay time.Duration) *Player {
	return &Player{
		output:        output,
		context:       context,
		playbackDelay: playbackDelay,
	}
}

// Request is one playback invocation.
type Request struct {
	// Song is the validated song to play.
	Song *song.Song
	// TrackMappings maps track labels to 1-indexed output channels.
	TrackMappings map[string][]int
	// CancelHandle stops playback; shared by every admitted source.
	CancelHandle playsync.CancelHandle
	// Barrier synchronizes the start with MIDI and lighting. May be nil
	// when audio runs alone.
	Barrier *playsync.Barrier
	// StartTime seeks every track before playback.
	StartTime time.Duration
}

// Play runs one song to completion or cancellation. All sources are
// built and validated before the barrier releases: a failing song never
// half-starts. After the barrier, every source is admitted to the mixer
// and the call blocks until all have finished or the cancel handle fires.
func (p *Player) Play(req Request) error {
	s := req.Song
	target := p.context.TargetFormat

	log.Info("playing song",
		"song", s.Name,
		"duration", s.Duration().Round(time.Second),
		"transcoded", s.NeedsTranscoding(target))

	if err := p.validateChannels(req.TrackMappings); err != nil {
		return err
	}

	sources, err := p.buildSources(req)
	if err != nil {
		return err
	}

	if req.Barrier != nil {
		req.Barrier.Wait()
	}
	if req.CancelHandle.IsCancelled() {
		return nil
	}
	if p.playbackDelay > 0 {
		time.Sleep(p.playbackDelay)
	}

	finishFlags := make([]*atomic.Bool, 0, len(sources))
	for _, activeSource := range sources {
		finishFlags = append(finishFlags, activeSource.IsFinished)
		if err := p.output.Send(activeSource); err != nil {
			// Half-admitted song: cancel pulls back everything sent so far.
			req.CancelHandle.Cancel()
			return fmt.Errorf("admit source: %w", err)
		}
	}

	var finished atomic.Bool
	go func() {
		defer recovery.HandlePanicFunc(func() {
			req.CancelHandle.Cancel()
		})
		monitorFinished(finishFlags, &finished, req.CancelHandle)
	}()

	req.CancelHandle.Wait(&finished)
	if req.CancelHandle.IsCancelled() {
		log.Info("song cancelled", "song", s.Name)
	} else {
		log.Info("song finished", "song", s.Name)
	}
	return nil
}

// validateChannels rejects mappings beyond the device's channel count.
func (p *Player) validateChannels(trackMappings map[string][]int) error {
	numChannels := p.output.Mixer().NumChannels()
	for label, channels := range trackMappings {
		for _, ch := range channels {
			if ch < 1 {
				return fmt.Errorf("track mapping %q: output channels are 1-indexed, got %d", label, ch)
			}
			if ch > numChannels {
				return fmt.Errorf("%w: %q wants channel %d of %d", ErrTooManyChannels, label, ch, numChannels)
			}
		}
	}
	return nil
}

// buildSources decodes, transcodes, maps, and (when a fill pool is
// configured) buffers every track, in parallel. Any failure drops the
// whole set.
func (p *Player) buildSources(req Request) ([]*audio.ActiveSource, error) {
	s := req.Song
	sources := make([]*audio.ActiveSource, len(s.Tracks))

	var group errgroup.Group
	for i := range s.Tracks {
		i := i
		group.Go(func() error {
			track := &s.Tracks[i]

			decoded, err := source.FromFile(s.TrackPath(track), req.StartTime)
			if err != nil {
				return fmt.Errorf("track %s: %w", track.File, err)
			}

			labels := track.Labels(decoded.ChannelCount())
			mapped, err := source.NewChannelMappedPipeline(
				decoded, p.context.TargetFormat, labels, p.context.BufferSizeFrames)
			if err != nil {
				return fmt.Errorf("track %s: %w", track.File, err)
			}

			var channelSource audio.ChannelMapped = mapped
			if p.context.FillPool != nil {
				buffered, err := source.NewBufferedSource(
					mapped, p.context.FillPool, p.context.BufferSizeFrames)
				if err != nil {
					return fmt.Errorf("track %s: %w", track.File, err)
				}
				channelSource = buffered
			}

			sources[i] = audio.NewActiveSource(channelSource, req.TrackMappings, req.CancelHandle)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return sources, nil
}

// monitorFinished flips finished once every source's flag is set, then
// wakes the waiting Play call. Checking atomic flags keeps the monitor
// lock-free against the audio callback.
func monitorFinished(flags []*atomic.Bool, finished *atomic.Bool, cancelHandle playsync.CancelHandle) {
	for {
		if cancelHandle.IsCancelled() {
			return
		}
		allFinished := true
		for _, flag := range flags {
			if !flag.Load() {
				allFinished = false
				break
			}
		}
		if allFinished {
			finished.Store(true)
			cancelHandle.Notify()
			return
		}
		time.Sleep(finishPollInterval)
	}
}
