// internal/source/flac.go
package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/mewkiz/flac"

	"github.com/mdwn/mtrack/internal/audio"
)

// FLACSource decodes FLAC files frame by frame. Decoded frames are held
// planar and served across NextChunk calls.
type FLACSource struct {
	file   *os.File
	stream *flac.Stream

	channelCount  int
	sampleRate    int
	bitsPerSample int
	totalFrames   int64

	// pending holds decoded-but-unread samples from the last FLAC frame.
	pending    [][]float32
	pendingPos int
	finished   bool
	// err is a decode error held back until the frames before it are read.
	err        error
}

// NewFLACSource opens a FLAC file, optionally seeking to startTime.
func NewFLACSource(path string, startTime time.Duration) (*FLACSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flac: %w", err)
	}

	stream, err := flac.NewSeek(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: parse flac: %v", ErrDecode, err)
	}

	info := stream.Info
	s := &FLACSource{
		file:          file,
		stream:        stream,
		channelCount:  int(info.NChannels),
		sampleRate:    int(info.SampleRate),
		bitsPerSample: int(info.BitsPerSample),
		totalFrames:   int64(info.NSamples),
		pending:       make([][]float32, int(info.NChannels)),
	}

	if startTime > 0 {
		// flac.Stream.Seek lands on the frame containing the target;
		// discard the remainder to make the seek frame-accurate. The
		// stream's own buffer restarts at the seek point, so no pre-seek
		// samples can leak through.
		target := uint64(math.Round(startTime.Seconds() * float64(s.sampleRate)))
		landed, err := stream.Seek(target)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: seek flac to %v: %v", ErrDecode, startTime, err)
		}
		if landed < target {
			if err := s.discardFrames(int(target - landed)); err != nil {
				file.Close()
				return nil, err
			}
		}
	}

	return s, nil
}

func (s *FLACSource) discardFrames(frames int) error {
	scratch := make([][]float32, s.channelCount)
	for frames > 0 {
		n, err := s.NextChunk(scratch, frames)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		frames -= n
	}
	return nil
}

// NextChunk implements SampleSource.
func (s *FLACSource) NextChunk(output [][]float32, maxFrames int) (int, error) {
	if err := validateChunkGeometry(output, s.channelCount); err != nil {
		return 0, err
	}
	for ch := range output {
		output[ch] = output[ch][:0]
	}
	if s.finished {
		if err := s.err; err != nil {
			s.err = nil
			return 0, err
		}
		return 0, nil
	}

	written := 0
	for written < maxFrames {
		if s.pendingPos >= s.pendingLen() {
			if err := s.decodeNextFrame(); err != nil {
				if written > 0 {
					// Surface the error on the next call; deliver what we have.
					s.finished = true
					if !errors.Is(err, io.EOF) {
						s.err = err
					}
					return written, nil
				}
				s.finished = true
				if errors.Is(err, io.EOF) {
					return 0, nil
				}
				return 0, err
			}
			if s.pendingLen() == 0 {
				continue
			}
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

func (s *FLACSource) pendingLen() int {
	if s.pending[0] == nil {
		return 0
	}
	return len(s.pending[0])
}

func (s *FLACSource) decodeNextFrame() error {
	frame, err := s.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: flac frame: %v", ErrDecode, err)
	}

	for ch := 0; ch < s.channelCount; ch++ {
		samples := frame.Subframes[ch].Samples
		if cap(s.pending[ch]) < len(samples) {
			s.pending[ch] = make([]float32, len(samples))
		}
		s.pending[ch] = s.pending[ch][:len(samples)]
		for i, v := range samples {
			s.pending[ch][i] = audio.ScaleInt(int64(v), s.bitsPerSample)
		}
	}
	s.pendingPos = 0
	return nil
}

// ChannelCount implements SampleSource.
func (s *FLACSource) ChannelCount() int {
	return s.channelCount
}

// SampleRate implements SampleSource.
func (s *FLACSource) SampleRate() int {
	return s.sampleRate
}

// BitsPerSample implements SampleSource.
func (s *FLACSource) BitsPerSample() int {
	return s.bitsPerSample
}

// Format implements SampleSource.
func (s *FLACSource) Format() audio.SampleFormat {
	return audio.FormatInt
}

// Duration implements SampleSource.
func (s *FLACSource) Duration() (time.Duration, bool) {
	if s.totalFrames == 0 {
		return 0, false
	}
	return time.Duration(float64(s.totalFrames) / float64(s.sampleRate) * float64(time.Second)), true
}

// Close releases the stream and the underlying file.
func (s *FLACSource) Close() error {
	s.stream.Close()
	return s.file.Close()
}
