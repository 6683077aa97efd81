// internal/source/aac.go
package source

import (
	"fmt"
	"math"
	"os"
	"time"

	aac "github.com/llehouerou/go-aac"

	"github.com/mdwn/mtrack/internal/audio"
)

// AACSource decodes ADTS AAC streams. The whole file is read up front
// (ADTS carries no index, so frame boundaries come from the decoder) and
// decoded frame by frame on demand.
type AACSource struct {
	decoder *aac.Decoder
	data    []byte
	pos     int

	channelCount int
	sampleRate   int

	// pending holds decoded-but-unread planar samples.
	pending    [][]float32
	pendingPos int
	finished   bool
}

// NewAACSource opens an ADTS AAC file, optionally seeking to startTime.
func NewAACSource(path string, startTime time.Duration) (*AACSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open aac: %w", err)
	}

	decoder := aac.NewDecoder()
	cfg := decoder.Config()
	cfg.OutputFormat = aac.OutputFormatFloat
	decoder.SetConfiguration(cfg)

	sampleRate, channels, err := decoder.SimpleInit(data)
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("%w: init aac: %v", ErrDecode, err)
	}

	s := &AACSource{
		decoder:      decoder,
		data:         data,
		channelCount: int(channels),
		sampleRate:   int(sampleRate),
		pending:      make([][]float32, int(channels)),
	}

	if startTime > 0 {
		// ADTS has no seek table; decode and discard up to the target.
		// Discarded frames never reach the caller.
		target := int(math.Round(startTime.Seconds() * float64(s.sampleRate)))
		scratch := make([][]float32, s.channelCount)
		for target > 0 {
			n, err := s.NextChunk(scratch, target)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("seek aac to %v: %w", startTime, err)
			}
			if n == 0 {
				break
			}
			target -= n
		}
	}

	return s, nil
}

// NextChunk implements SampleSource.
func (s *AACSource) NextChunk(output [][]float32, maxFrames int) (int, error) {
	if err := validateChunkGeometry(output, s.channelCount); err != nil {
		return 0, err
	}
	for ch := range output {
		output[ch] = output[ch][:0]
	}
	if s.finished {
		return 0, nil
	}

	written := 0
	for written < maxFrames {
		if s.pendingPos >= s.pendingLen() {
			if !s.decodeNextFrame() {
				break
			}
			continue
		}

		avail := s.pendingLen() - s.pendingPos
		take := maxFrames - written
		if take > avail {
			take = avail
		}
		for ch := 0; ch < s.channelCount; ch++ {
			output[ch] = append(output[ch], s.pending[ch][s.pendingPos:s.pendingPos+take]...)
		}
		s.pendingPos += take
		written += take
	}
	return written, nil
}

func (s *AACSource) pendingLen() int {
	if s.pending[0] == nil {
		return 0
	}
	return len(s.pending[0])
}

// decodeNextFrame decodes one ADTS frame into pending. Returns false on
// end of stream or on a decode failure; AAC streams routinely end with a
// truncated frame, so failures terminate the source rather than surface.
func (s *AACSource) decodeNextFrame() bool {
	for s.pos < len(s.data) {
		raw, info, err := s.decoder.Decode(s.data[s.pos:])
		if err != nil || info == nil || info.BytesConsumed == 0 {
			s.finished = true
			return false
		}
		s.pos += int(info.BytesConsumed)

		samples, ok := raw.([]float32)
		if !ok || info.Samples == 0 {
			// The first frame carries no output (overlap-add delay).
			continue
		}

		frames := int(info.Samples) / s.channelCount
		for ch := 0; ch < s.channelCount; ch++ {
			if cap(s.pending[ch]) < frames {
				s.pending[ch] = make([]float32, frames)
			}
			s.pending[ch] = s.pending[ch][:frames]
			for f := 0; f < frames; f++ {
				s.pending[ch][f] = samples[f*s.channelCount+ch]
			}
		}
		s.pendingPos = 0
		return true
	}
	s.finished = true
	return false
}

// ChannelCount implements SampleSource.
func (s *AACSource) ChannelCount() int {
	return s.channelCount
}

// SampleRate implements SampleSource.
func (s *AACSource) SampleRate() int {
	return s.sampleRate
}

// BitsPerSample implements SampleSource.
func (s *AACSource) BitsPerSample() int {
	return 32
}

// Format implements SampleSource.
func (s *AACSource) Format() audio.SampleFormat {
	return audio.FormatFloat
}

// Duration implements SampleSource. ADTS streams carry no duration.
func (s *AACSource) Duration() (time.Duration, bool) {
	return 0, false
}

// Close releases the decoder.
func (s *AACSource) Close() error {
	s.decoder.Close()
	return nil
}
