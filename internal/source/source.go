// internal/source/source.go
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/mdwn/mtrack/internal/audio"
)

var (
	// ErrSampleConversion indicates invalid buffer geometry or a
	// conversion state violation.
	ErrSampleConversion = errors.New("sample conversion failed")
	// ErrUnsupportedFormat indicates a file or configuration the decoders
	// cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrDecode indicates a container or codec failure.
	ErrDecode = errors.New("decode failed")
)

// ResamplingError reports a resampler construction or processing failure
// together with the offending rate pair.
type ResamplingError struct {
	SourceRate int
	TargetRate int
	Err        error
}

func (e *ResamplingError) Error() string {
	return fmt.Sprintf("resampling failed: %dHz -> %dHz: %v", e.SourceRate, e.TargetRate, e.Err)
}

func (e *ResamplingError) Unwrap() error {
	return e.Err
}

// SampleSource produces planar f32 audio. Implementations are pull-based:
// the consumer drives decoding by requesting chunks. A source is finite
// when it eventually returns 0 frames; after EOF or a hard error it must
// keep returning 0 frames.
type SampleSource interface {
	// NextChunk clears each channel slice of output and fills all of them
	// with the same number of frames, up to maxFrames. Returns the number
	// of frames written; 0 means end of stream. output must have exactly
	// ChannelCount elements.
	NextChunk(output [][]float32, maxFrames int) (int, error)

	// ChannelCount returns the number of channels. Must not decode.
	ChannelCount() int

	// SampleRate returns the sample rate in Hz. Must not decode.
	SampleRate() int

	// BitsPerSample returns the bit depth of the underlying encoding.
	BitsPerSample() int

	// Format returns the sample encoding of the underlying data.
	Format() audio.SampleFormat

	// Duration returns the total duration if known.
	Duration() (time.Duration, bool)
}

// validateChunkGeometry checks the planar output buffer shape shared by
// all decoders.
func validateChunkGeometry(output [][]float32, channels int) error {
	if len(output) != channels {
		return fmt.Errorf("%w: output has %d channels, expected %d",
			ErrSampleConversion, len(output), channels)
	}
	return nil
}
