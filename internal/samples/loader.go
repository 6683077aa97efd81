// internal/samples/loader.go
package samples

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/mdwn/mtrack/internal/dsp"
	"github.com/mdwn/mtrack/internal/source"
)

// loadChunkFrames is the decode chunk size when reading a whole file.
const loadChunkFrames = 4096

// LoadedSample is a fully decoded sample held in a shared immutable
// interleaved f32 buffer, rate-aligned to the device at load time. Every
// playback gets its own cursor over the shared data.
type LoadedSample struct {
	data         []float32
	channelCount int
	sampleRate   int
}

// CreateSource returns a playback source over the shared buffer with the
// given gain.
func (l *LoadedSample) CreateSource(gain float64) *source.MemorySource {
	return source.NewMemorySource(l.data, l.channelCount, l.sampleRate, float32(gain))
}

// ChannelCount returns the number of channels.
func (l *LoadedSample) ChannelCount() int {
	return l.channelCount
}

// MemorySize returns the buffer size in bytes.
func (l *LoadedSample) MemorySize() int {
	return len(l.data) * 4
}

// Loader loads sample files into memory and caches them by path. One-shot
// samples are rate-converted at load time with linear interpolation so
// triggering needs no per-voice resampler.
type Loader struct {
	cache            map[string]*LoadedSample
	targetSampleRate int
}

// NewLoader creates a loader targeting the device sample rate.
func NewLoader(targetSampleRate int) *Loader {
	return &Loader{
		cache:            make(map[string]*LoadedSample),
		targetSampleRate: targetSampleRate,
	}
}

// Load reads the whole file into memory, rate-aligning it to the target
// rate. Repeated loads of the same path share one buffer.
func (l *Loader) Load(path string) (*LoadedSample, error) {
	if cached, ok := l.cache[path]; ok {
		log.Debug("using cached sample", "path", path)
		return cached, nil
	}

	log.Info("loading sample into memory", "path", path)

	src, err := source.FromFile(path, 0)
	if err != nil {
		return nil, fmt.Errorf("load sample %s: %w", path, err)
	}
	if closer, ok := src.(source.Closer); ok {
		defer closer.Close()
	}

	channels := src.ChannelCount()
	sourceRate := src.SampleRate()

	// Decode everything, interleaving as we go.
	chunk := make([][]float32, channels)
	var data []float32
	for {
		frames, err := src.NextChunk(chunk, loadChunkFrames)
		if err != nil {
			return nil, fmt.Errorf("decode sample %s: %w", path, err)
		}
		if frames == 0 {
			break
		}
		for f := 0; f < frames; f++ {
			for ch := 0; ch < channels; ch++ {
				data = append(data, chunk[ch][f])
			}
		}
	}

	finalRate := sourceRate
	if sourceRate != l.targetSampleRate {
		log.Info("rate-aligning sample", "path", path,
			"source_rate", sourceRate, "target_rate", l.targetSampleRate)
		data = dsp.LinearResample(data, channels, sourceRate, l.targetSampleRate)
		finalRate = l.targetSampleRate
	}

	loaded := &LoadedSample{
		data:         data,
		channelCount: channels,
		sampleRate:   finalRate,
	}

	log.Info("sample loaded", "path", path,
		"channels", channels, "sample_rate", finalRate,
		"memory_kb", loaded.MemorySize()/1024)

	l.cache[path] = loaded
	return loaded, nil
}

// LoadDefinition loads every file a definition references, resolving
// relative paths against basePath. Returns a map keyed by resolved path.
func (l *Loader) LoadDefinition(def *Definition, basePath string) (map[string]*LoadedSample, error) {
	loaded := make(map[string]*LoadedSample)
	for _, file := range def.AllFiles() {
		fullPath := file
		if !filepath.IsAbs(file) {
			fullPath = filepath.Join(basePath, file)
		}
		sample, err := l.Load(fullPath)
		if err != nil {
			return nil, err
		}
		loaded[fullPath] = sample
	}
	return loaded, nil
}

// TotalMemoryUsage returns the bytes held by all cached samples.
func (l *Loader) TotalMemoryUsage() int {
	total := 0
	for _, s := range l.cache {
		total += s.MemorySize()
	}
	return total
}
