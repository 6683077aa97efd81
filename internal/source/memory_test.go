// internal/source/memory_test.go
package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mdwn/mtrack/internal/audio"
)

func TestMemorySource_ReadsAll(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3, 0.4} // 2 frames, 2 channels
	m := NewMemorySource(samples, 2, 44100, 1.0)

	out := make([][]float32, 2)
	frames, err := m.NextChunk(out, 10)
	require.NoError(t, err)
	require.Equal(t, 2, frames)
	require.Equal(t, []float32{0.1, 0.3}, out[0])
	require.Equal(t, []float32{0.2, 0.4}, out[1])
}

func TestMemorySource_GainApplied(t *testing.T) {
	m := NewMemorySource([]float32{0.5}, 1, 44100, 0.5)

	out := make([][]float32, 1)
	frames, err := m.NextChunk(out, 1)
	require.NoError(t, err)
	require.Equal(t, 1, frames)
	require.InDelta(t, 0.25, out[0][0], 1e-6)
}

func TestMemorySource_EOFIsPermanent(t *testing.T) {
	m := NewMemorySource([]float32{0.5}, 1, 44100, 1.0)

	out := make([][]float32, 1)
	frames, err := m.NextChunk(out, 4)
	require.NoError(t, err)
	require.Equal(t, 1, frames)

	for i := 0; i < 3; i++ {
		frames, err = m.NextChunk(out, 4)
		require.NoError(t, err)
		require.Equal(t, 0, frames, "EOF must persist")
	}
}

func TestMemorySource_SharedBufferIndependentCursors(t *testing.T) {
	shared := []float32{0.1, 0.2, 0.3}
	a := NewMemorySource(shared, 1, 44100, 1.0)
	b := NewMemorySource(shared, 1, 44100, 1.0)

	out := make([][]float32, 1)
	_, err := a.NextChunk(out, 3)
	require.NoError(t, err)

	frames, err := b.NextChunk(out, 3)
	require.NoError(t, err)
	require.Equal(t, 3, frames, "second instance unaffected by first's cursor")
}

func TestMemorySource_Metadata(t *testing.T) {
	m := NewMemorySource(make([]float32, 44100*2), 2, 44100, 1.0)

	require.Equal(t, 2, m.ChannelCount())
	require.Equal(t, 44100, m.SampleRate())
	require.Equal(t, 32, m.BitsPerSample())
	require.Equal(t, audio.FormatFloat, m.Format())

	duration, ok := m.Duration()
	require.True(t, ok)
	require.Equal(t, time.Second, duration)
}

func TestMemorySource_GeometryError(t *testing.T) {
	m := NewMemorySource([]float32{0.1}, 1, 44100, 1.0)
	out := make([][]float32, 2)
	_, err := m.NextChunk(out, 1)
	require.ErrorIs(t, err, ErrSampleConversion)
}
