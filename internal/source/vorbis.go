// internal/source/vorbis.go
package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/jfreymuth/oggvorbis"

	"github.com/mdwn/mtrack/internal/audio"
)

// VorbisSource decodes Ogg Vorbis files. The reader yields interleaved
// float32 samples at the stream's native rate.
type VorbisSource struct {
	file   *os.File
	reader *oggvorbis.Reader

	channelCount int
	sampleRate   int
	totalFrames  int64

	readBuf  []float32
	finished bool
}

// NewVorbisSource opens an Ogg Vorbis file, optionally seeking to
// startTime.
func NewVorbisSource(path string, startTime time.Duration) (*VorbisSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vorbis: %w", err)
	}

	reader, err := oggvorbis.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: parse vorbis: %v", ErrDecode, err)
	}

	s := &VorbisSource{
		file:         file,
		reader:       reader,
		channelCount: reader.Channels(),
		sampleRate:   reader.SampleRate(),
		totalFrames:  reader.Length(),
	}

	if startTime > 0 {
		// SetPosition repositions the ogg stream and drops any buffered
		// decoded audio.
		frame := int64(math.Round(startTime.Seconds() * float64(s.sampleRate)))
		if err := reader.SetPosition(frame); err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: seek vorbis to %v: %v", ErrDecode, startTime, err)
		}
	}

	return s, nil
}

// NextChunk implements SampleSource.
func (s *VorbisSource) NextChunk(output [][]float32, maxFrames int) (int, error) {
	if err := validateChunkGeometry(output, s.channelCount); err != nil {
		return 0, err
	}
	for ch := range output {
		output[ch] = output[ch][:0]
	}
	if s.finished {
		return 0, nil
	}

	want := maxFrames * s.channelCount
	if cap(s.readBuf) < want {
		s.readBuf = make([]float32, want)
	}
	buf := s.readBuf[:want]

	read := 0
	for read < want {
		n, err := s.reader.Read(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.finished = true
			return 0, fmt.Errorf("%w: read vorbis: %v", ErrDecode, err)
		}
		if n == 0 {
			break
		}
	}

	frames := read / s.channelCount
	if frames == 0 {
		s.finished = true
		return 0, nil
	}

	for f := 0; f < frames; f++ {
		base := f * s.channelCount
		for ch := 0; ch < s.channelCount; ch++ {
			output[ch] = append(output[ch], buf[base+ch])
		}
	}
	return frames, nil
}

// ChannelCount implements SampleSource.
func (s *VorbisSource) ChannelCount() int {
	return s.channelCount
}

// SampleRate implements SampleSource.
func (s *VorbisSource) SampleRate() int {
	return s.sampleRate
}

// BitsPerSample implements SampleSource. Vorbis is float-native.
func (s *VorbisSource) BitsPerSample() int {
	return 32
}

// Format implements SampleSource.
func (s *VorbisSource) Format() audio.SampleFormat {
	return audio.FormatFloat
}

// Duration implements SampleSource.
func (s *VorbisSource) Duration() (time.Duration, bool) {
	if s.totalFrames <= 0 {
		return 0, false
	}
	return time.Duration(float64(s.totalFrames) / float64(s.sampleRate) * float64(time.Second)), true
}

// Close releases the underlying file.
func (s *VorbisSource) Close() error {
	return s.file.Close()
}
