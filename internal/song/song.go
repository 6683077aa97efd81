// internal/song/song.go
package song

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/source"
)

// DefinitionFileName is the per-song definition file.
const DefinitionFileName = "song.yaml"

var (
	// ErrNoTracks indicates a song without tracks.
	ErrNoTracks = errors.New("song has no tracks")
	// ErrTrackFile indicates a track whose audio file is unusable.
	ErrTrackFile = errors.New("track file error")
)

// Track is one audio file of a song plus its routing names. Track names
// are the labels resolved through the device's track mappings.
type Track struct {
	// Name labels every channel of the file. For multichannel files,
	// Names may instead label each channel individually.
	Name string `yaml:"name"`
	// Names labels file channels one by one; overrides Name when set.
	Names []string `yaml:"names"`
	// File is the audio file path, relative to the song directory.
	File string `yaml:"file"`
}

// Labels expands the track's names into per-channel label sets for the
// given file channel count.
func (t *Track) Labels(channelCount int) [][]string {
	labels := make([][]string, channelCount)
	for ch := 0; ch < channelCount; ch++ {
		switch {
		case len(t.Names) > 0:
			if ch < len(t.Names) && t.Names[ch] != "" {
				labels[ch] = []string{t.Names[ch]}
			} else {
				labels[ch] = nil
			}
		case t.Name != "":
			labels[ch] = []string{t.Name}
		}
	}
	return labels
}

// trackInfo is probe metadata cached at load time.
type trackInfo struct {
	channelCount int
	sampleRate   int
	duration     time.Duration
	hasDuration  bool
}

// Song is a loaded song definition with probed track metadata.
type Song struct {
	// Name is the song's display name.
	Name string `yaml:"name"`
	// Tracks are the per-file tracks.
	Tracks []Track `yaml:"tracks"`

	dir    string
	probed []trackInfo
}

// Load reads and validates a song definition. path may be the song
// directory or the definition file itself. Every track file is probed so
// bad songs fail here, not at the start barrier.
func Load(path string) (*Song, error) {
	definitionPath := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load song: %w", err)
	}
	if info.IsDir() {
		definitionPath = filepath.Join(path, DefinitionFileName)
	}

	data, err := os.ReadFile(definitionPath)
	if err != nil {
		return nil, fmt.Errorf("load song: %w", err)
	}

	var s Song
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse song %s: %w", definitionPath, err)
	}
	s.dir = filepath.Dir(definitionPath)
	if s.Name == "" {
		s.Name = filepath.Base(s.dir)
	}

	if err := s.probe(); err != nil {
		return nil, err
	}
	return &s, nil
}

// probe opens each track file for metadata only.
func (s *Song) probe() error {
	if len(s.Tracks) == 0 {
		return ErrNoTracks
	}

	s.probed = make([]trackInfo, len(s.Tracks))
	var errs []error
	for i := range s.Tracks {
		track := &s.Tracks[i]
		if track.File == "" {
			errs = append(errs, fmt.Errorf("%w: track %d has no file", ErrTrackFile, i))
			continue
		}
		if track.Name == "" && len(track.Names) == 0 {
			errs = append(errs, fmt.Errorf("track %d (%s) has no name", i, track.File))
			continue
		}

		src, err := source.FromFile(s.TrackPath(track), 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrTrackFile, track.File, err))
			continue
		}
		duration, hasDuration := src.Duration()
		s.probed[i] = trackInfo{
			channelCount: src.ChannelCount(),
			sampleRate:   src.SampleRate(),
			duration:     duration,
			hasDuration:  hasDuration,
		}
		if closer, ok := src.(source.Closer); ok {
			closer.Close()
		}
	}
	return errors.Join(errs...)
}

// TrackPath resolves a track's file against the song directory.
func (s *Song) TrackPath(t *Track) string {
	if filepath.IsAbs(t.File) {
		return t.File
	}
	return filepath.Join(s.dir, t.File)
}

// TrackChannelCount returns the probed channel count of track i.
func (s *Song) TrackChannelCount(i int) int {
	return s.probed[i].channelCount
}

// Duration returns the longest track duration. Tracks with unknown
// duration contribute nothing.
func (s *Song) Duration() time.Duration {
	var max time.Duration
	for _, info := range s.probed {
		if info.hasDuration && info.duration > max {
			max = info.duration
		}
	}
	return max
}

// NeedsTranscoding reports whether any track differs from the target
// format in rate.
func (s *Song) NeedsTranscoding(target audio.TargetFormat) bool {
	for _, info := range s.probed {
		if info.sampleRate != target.SampleRate {
			return true
		}
	}
	return false
}

// Labels returns every distinct label used by the song's tracks.
func (s *Song) Labels() []string {
	seen := make(map[string]struct{})
	var labels []string
	for i := range s.Tracks {
		for _, channelLabels := range s.Tracks[i].Labels(s.probed[i].channelCount) {
			for _, label := range channelLabels {
				if _, ok := seen[label]; !ok {
					seen[label] = struct{}{}
					labels = append(labels, label)
				}
			}
		}
	}
	return labels
}
