// internal/source/channelmapped.go
package source

import (
	"fmt"

	"github.com/mdwn/mtrack/internal/audio"
)

// defaultChunkFrames is how many frames the adapter pulls from its inner
// source per refill when no hint is given.
const defaultChunkFrames = 1024

// ChannelMappedSource attaches routing labels to a SampleSource and
// serves it frame by frame. It performs no mixing; the labels are
// compiled into concrete output channels by the mixer.
type ChannelMappedSource struct {
	source SampleSource
	labels [][]string

	channelCount int
	chunkFrames  int

	// chunk holds the current planar read-ahead from the inner source.
	chunk    [][]float32
	chunkPos int
	finished bool
}

// NewChannelMappedSource creates the adapter. labels must have one entry
// (possibly empty) per source channel.
func NewChannelMappedSource(src SampleSource, labels [][]string, chunkFrames int) (*ChannelMappedSource, error) {
	channels := src.ChannelCount()
	if len(labels) != channels {
		return nil, fmt.Errorf("%w: %d label sets for %d channels",
			ErrSampleConversion, len(labels), channels)
	}
	if chunkFrames <= 0 {
		chunkFrames = defaultChunkFrames
	}
	return &ChannelMappedSource{
		source:       src,
		labels:       labels,
		channelCount: channels,
		chunkFrames:  chunkFrames,
		chunk:        make([][]float32, channels),
	}, nil
}

// NextFrame implements ChannelMapped.
func (c *ChannelMappedSource) NextFrame(out []float32) (int, error) {
	if len(out) < c.channelCount {
		return 0, fmt.Errorf("%w: output buffer holds %d samples, need %d",
			ErrSampleConversion, len(out), c.channelCount)
	}
	if c.finished {
		return 0, nil
	}

	if c.chunkPos >= c.chunkLen() {
		frames, err := c.source.NextChunk(c.chunk, c.chunkFrames)
		if err != nil {
			c.finished = true
			return 0, err
		}
		if frames == 0 {
			c.finished = true
			return 0, nil
		}
		c.chunkPos = 0
	}

	for ch := 0; ch < c.channelCount; ch++ {
		out[ch] = c.chunk[ch][c.chunkPos]
	}
	c.chunkPos++
	return 1, nil
}

func (c *ChannelMappedSource) chunkLen() int {
	if c.chunk[0] == nil {
		return 0
	}
	return len(c.chunk[0])
}

// ChannelLabels implements ChannelMapped.
func (c *ChannelMappedSource) ChannelLabels() [][]string {
	return c.labels
}

// ChannelCount implements ChannelMapped.
func (c *ChannelMappedSource) ChannelCount() int {
	return c.channelCount
}

// NewChannelMappedPipeline builds the playback pipeline for a decoded
// source: transcode to the target format when rate or representation
// differ, then attach routing labels.
func NewChannelMappedPipeline(src SampleSource, target audio.TargetFormat, labels [][]string, chunkFrames int) (*ChannelMappedSource, error) {
	needsTranscoding := src.SampleRate() != target.SampleRate ||
		src.Format() != target.SampleFormat ||
		src.BitsPerSample() != target.BitsPerSample

	pipeline := src
	if needsTranscoding {
		transcoder, err := NewTranscoder(src, target)
		if err != nil {
			return nil, err
		}
		pipeline = transcoder
	}

	return NewChannelMappedSource(pipeline, labels, chunkFrames)
}
