// internal/source/wav.go
package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	wavdec "github.com/go-audio/wav"

	"github.com/mdwn/mtrack/internal/audio"
)

// wavFormatIEEEFloat is the WAV audio format tag for 32-bit float PCM.
const wavFormatIEEEFloat = 3

// WAVSource decodes WAV files: integer PCM at 8 (unsigned), 16, 24 and
// 32 bits and 32-bit IEEE float. Samples are read straight from the PCM
// chunk so seeking is a byte offset and 24-bit data needs no repacking.
type WAVSource struct {
	file    *os.File
	decoder *wavdec.Decoder

	channelCount  int
	sampleRate    int
	bitsPerSample int
	format        audio.SampleFormat
	duration      time.Duration

	bytesPerSample int
	readBuf        []byte
	finished       bool
}

// NewWAVSource opens a WAV file, optionally seeking to startTime. The
// seek is frame-accurate: position = round(startTime * sampleRate).
func NewWAVSource(path string, startTime time.Duration) (*WAVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}

	decoder := wavdec.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%w: %s is not a valid wav file", ErrUnsupportedFormat, path)
	}

	format := audio.FormatInt
	if decoder.WavAudioFormat == wavFormatIEEEFloat {
		format = audio.FormatFloat
	}

	bits := int(decoder.BitDepth)
	switch {
	case format == audio.FormatFloat && bits == 32:
	case format == audio.FormatInt && (bits == 8 || bits == 16 || bits == 24 || bits == 32):
	default:
		file.Close()
		return nil, fmt.Errorf("%w: wav with format %d at %d bits", ErrUnsupportedFormat, decoder.WavAudioFormat, bits)
	}

	if err := decoder.FwdToPCM(); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: locate pcm chunk: %v", ErrDecode, err)
	}

	channels := int(decoder.NumChans)
	rate := int(decoder.SampleRate)
	bytesPerSample := bits / 8
	blockAlign := channels * bytesPerSample

	totalFrames := int(decoder.PCMSize) / blockAlign
	duration := time.Duration(float64(totalFrames) / float64(rate) * float64(time.Second))

	s := &WAVSource{
		file:           file,
		decoder:        decoder,
		channelCount:   channels,
		sampleRate:     rate,
		bitsPerSample:  bits,
		format:         format,
		duration:       duration,
		bytesPerSample: bytesPerSample,
	}

	if startTime > 0 {
		// Skipping bytes inside the PCM chunk discards everything before
		// the seek target; no pre-seek audio can surface later.
		frame := int64(math.Round(startTime.Seconds() * float64(rate)))
		if err := s.skipFrames(frame); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek wav to %v: %w", startTime, err)
		}
	}

	return s, nil
}

func (s *WAVSource) skipFrames(frames int64) error {
	toSkip := frames * int64(s.channelCount*s.bytesPerSample)
	n, err := io.CopyN(io.Discard, s.decoder.PCMChunk, toSkip)
	if err == io.EOF || (err == nil && n < toSkip) {
		s.finished = true
		return nil
	}
	return err
}

// NextChunk implements SampleSource.
func (s *WAVSource) NextChunk(output [][]float32, maxFrames int) (int, error) {
	if err := validateChunkGeometry(output, s.channelCount); err != nil {
		return 0, err
	}
	for ch := range output {
		output[ch] = output[ch][:0]
	}
	if s.finished {
		return 0, nil
	}

	blockAlign := s.channelCount * s.bytesPerSample
	want := maxFrames * blockAlign
	if cap(s.readBuf) < want {
		s.readBuf = make([]byte, want)
	}
	buf := s.readBuf[:want]

	n, err := io.ReadFull(s.decoder.PCMChunk, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		s.finished = true
		return 0, fmt.Errorf("%w: read wav pcm: %v", ErrDecode, err)
	}

	frames := n / blockAlign
	if frames == 0 {
		s.finished = true
		return 0, nil
	}

	for f := 0; f < frames; f++ {
		base := f * blockAlign
		for ch := 0; ch < s.channelCount; ch++ {
			offset := base + ch*s.bytesPerSample
			output[ch] = append(output[ch], s.decodeSample(buf[offset:offset+s.bytesPerSample]))
		}
	}
	return frames, nil
}

// decodeSample converts one little-endian sample to f32 in [-1, 1].
func (s *WAVSource) decodeSample(b []byte) float32 {
	if s.format == audio.FormatFloat {
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}

	switch s.bitsPerSample {
	case 8:
		// 8-bit WAV is unsigned with midpoint 128.
		return audio.ScaleUint(uint64(b[0]), 8)
	case 16:
		return audio.ScaleInt(int64(int16(binary.LittleEndian.Uint16(b))), 16)
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		// Sign-extend from 24 bits.
		if v&0x800000 != 0 {
			v |= ^int32(0xffffff)
		}
		return audio.ScaleInt(int64(v), 24)
	default:
		return audio.ScaleInt(int64(int32(binary.LittleEndian.Uint32(b))), 32)
	}
}

// ChannelCount implements SampleSource.
func (s *WAVSource) ChannelCount() int {
	return s.channelCount
}

// SampleRate implements SampleSource.
func (s *WAVSource) SampleRate() int {
	return s.sampleRate
}

// BitsPerSample implements SampleSource.
func (s *WAVSource) BitsPerSample() int {
	return s.bitsPerSample
}

// Format implements SampleSource.
func (s *WAVSource) Format() audio.SampleFormat {
	return s.format
}

// Duration implements SampleSource.
func (s *WAVSource) Duration() (time.Duration, bool) {
	return s.duration, true
}

// Close releases the underlying file.
func (s *WAVSource) Close() error {
	return s.file.Close()
}
