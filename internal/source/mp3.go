// internal/source/mp3.go
package source

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/mdwn/mtrack/internal/audio"
)

// mp3Channels is fixed: go-mp3 always emits 16-bit stereo PCM.
const mp3Channels = 2

// MP3Source decodes MP3 files via go-mp3, which emits interleaved 16-bit
// little-endian stereo at the file's sample rate.
type MP3Source struct {
	file    *os.File
	decoder *mp3.Decoder

	sampleRate int
	duration   time.Duration
	hasLength  bool

	readBuf  []byte
	finished bool
}

// NewMP3Source opens an MP3 file, optionally seeking to startTime.
func NewMP3Source(path string, startTime time.Duration) (*MP3Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: parse mp3: %v", ErrDecode, err)
	}

	s := &MP3Source{
		file:       file,
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
	}

	const bytesPerFrame = mp3Channels * 2
	if length := decoder.Length(); length > 0 {
		frames := length / bytesPerFrame
		s.duration = time.Duration(float64(frames) / float64(s.sampleRate) * float64(time.Second))
		s.hasLength = true
	}

	if startTime > 0 {
		// The decoder seeks in output-PCM byte space, which resets its
		// internal frame buffer; decoding resumes exactly at the target.
		frame := int64(math.Round(startTime.Seconds() * float64(s.sampleRate)))
		if _, err := decoder.Seek(frame*bytesPerFrame, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: seek mp3 to %v: %v", ErrDecode, startTime, err)
		}
	}

	return s, nil
}

// NextChunk implements SampleSource.
func (s *MP3Source) NextChunk(output [][]float32, maxFrames int) (int, error) {
	if err := validateChunkGeometry(output, mp3Channels); err != nil {
		return 0, err
	}
	for ch := range output {
		output[ch] = output[ch][:0]
	}
	if s.finished {
		return 0, nil
	}

	const bytesPerFrame = mp3Channels * 2
	want := maxFrames * bytesPerFrame
	if cap(s.readBuf) < want {
		s.readBuf = make([]byte, want)
	}
	buf := s.readBuf[:want]

	n, err := io.ReadFull(s.decoder, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		s.finished = true
		return 0, fmt.Errorf("%w: read mp3: %v", ErrDecode, err)
	}

	frames := n / bytesPerFrame
	if frames == 0 {
		s.finished = true
		return 0, nil
	}

	for f := 0; f < frames; f++ {
		base := f * bytesPerFrame
		for ch := 0; ch < mp3Channels; ch++ {
			offset := base + ch*2
			v := int16(uint16(buf[offset]) | uint16(buf[offset+1])<<8)
			output[ch] = append(output[ch], audio.ScaleInt(int64(v), 16))
		}
	}
	return frames, nil
}

// ChannelCount implements SampleSource.
func (s *MP3Source) ChannelCount() int {
	return mp3Channels
}

// SampleRate implements SampleSource.
func (s *MP3Source) SampleRate() int {
	return s.sampleRate
}

// BitsPerSample implements SampleSource.
func (s *MP3Source) BitsPerSample() int {
	return 16
}

// Format implements SampleSource.
func (s *MP3Source) Format() audio.SampleFormat {
	return audio.FormatInt
}

// Duration implements SampleSource.
func (s *MP3Source) Duration() (time.Duration, bool) {
	return s.duration, s.hasLength
}

// Close releases the underlying file.
func (s *MP3Source) Close() error {
	return s.file.Close()
}
