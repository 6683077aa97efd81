// internal/source/memory.go
package source

import (
	"time"

	"github.com/mdwn/mtrack/internal/audio"
)

// MemorySource reads from a shared interleaved f32 buffer with a
// per-instance cursor and gain. Used for triggered one-shot samples and
// for tests; the underlying buffer is shared between all instances.
type MemorySource struct {
	samples      []float32
	position     int
	channelCount int
	sampleRate   int
	gain         float32
}

// NewMemorySource creates a source over a shared sample buffer. The
// buffer is frame-major interleaved and must not be mutated.
func NewMemorySource(samples []float32, channelCount, sampleRate int, gain float32) *MemorySource {
	return &MemorySource{
		samples:      samples,
		channelCount: channelCount,
		sampleRate:   sampleRate,
		gain:         gain,
	}
}

// NextChunk implements SampleSource.
func (m *MemorySource) NextChunk(output [][]float32, maxFrames int) (int, error) {
	if err := validateChunkGeometry(output, m.channelCount); err != nil {
		return 0, err
	}
	for ch := range output {
		output[ch] = output[ch][:0]
	}

	remaining := (len(m.samples) - m.position) / m.channelCount
	if remaining <= 0 {
		return 0, nil
	}
	frames := remaining
	if frames > maxFrames {
		frames = maxFrames
	}

	for f := 0; f < frames; f++ {
		base := m.position + f*m.channelCount
		for ch := 0; ch < m.channelCount; ch++ {
			output[ch] = append(output[ch], m.samples[base+ch]*m.gain)
		}
	}
	m.position += frames * m.channelCount
	return frames, nil
}

// ChannelCount implements SampleSource.
func (m *MemorySource) ChannelCount() int {
	return m.channelCount
}

// SampleRate implements SampleSource.
func (m *MemorySource) SampleRate() int {
	return m.sampleRate
}

// BitsPerSample implements SampleSource. Memory samples are 32-bit float.
func (m *MemorySource) BitsPerSample() int {
	return 32
}

// Format implements SampleSource.
func (m *MemorySource) Format() audio.SampleFormat {
	return audio.FormatFloat
}

// Duration implements SampleSource.
func (m *MemorySource) Duration() (time.Duration, bool) {
	frames := len(m.samples) / m.channelCount
	return time.Duration(float64(frames) / float64(m.sampleRate) * float64(time.Second)), true
}
