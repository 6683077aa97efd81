// internal/audio/mixer.go
package audio

import (
	"sync"
	"sync/atomic"

	"github.com/mdwn/mtrack/internal/playsync"
)

// nextSourceID allocates process-wide unique source IDs.
var nextSourceID atomic.Uint64

// NextSourceID returns a globally unique, monotonically increasing source ID.
func NextSourceID() uint64 {
	return nextSourceID.Add(1)
}

// ChannelMapped is what the mixer pulls frames from: a sample source
// whose channels carry routing labels. The labels are resolved through
// the track mappings table to concrete output channels at AddSource time.
type ChannelMapped interface {
	// NextFrame fills out (which must have at least ChannelCount
	// elements) with one frame. Returns 1, or 0 at end of stream.
	NextFrame(out []float32) (int, error)

	// ChannelLabels returns one label set per source channel, in channel
	// order. A channel with no labels is silent in routing.
	ChannelLabels() [][]string

	// ChannelCount returns the number of source channels.
	ChannelCount() int
}

// ActiveSource is a source registered with the mixer, together with its
// precomputed routing and scheduling state.
type ActiveSource struct {
	// ID is the unique source ID.
	ID uint64
	// Source produces the frames.
	Source ChannelMapped
	// TrackMappings maps routing labels to 1-indexed output channels.
	TrackMappings map[string][]int
	// StartAtSample optionally delays the first produced frame to an
	// absolute mixer sample.
	StartAtSample *uint64
	// CancelAt is an absolute mixer sample at which the source stops.
	// 0 means no scheduled cut. Writable at any time for sample-accurate
	// cuts; the mixer only reads it.
	CancelAt *atomic.Uint64
	// IsFinished is set once, when EOF or an error is observed.
	IsFinished *atomic.Bool
	// CancelHandle stops the source at the next callback when cancelled.
	CancelHandle playsync.CancelHandle

	// channelMappings is the compiled routing: source channel index to
	// 0-indexed output channels. Computed by AddSource.
	channelMappings [][]int
	// cachedChannelCount avoids interface calls in the mix loop.
	cachedChannelCount int

	// mu serializes frame pulls; uncontended in steady state because
	// only the callback pulls.
	mu sync.Mutex
}

// NewActiveSource wires up a source for the mixer. The cancel handle is
// shared with whoever needs to stop this source.
func NewActiveSource(src ChannelMapped, trackMappings map[string][]int, cancel playsync.CancelHandle) *ActiveSource {
	return &ActiveSource{
		ID:            NextSourceID(),
		Source:        src,
		TrackMappings: trackMappings,
		CancelAt:      &atomic.Uint64{},
		IsFinished:    &atomic.Bool{},
		CancelHandle:  cancel,
	}
}

// ChannelMappings exposes the compiled routing for inspection in tests.
func (s *ActiveSource) ChannelMappings() [][]int {
	return s.channelMappings
}

// Mixer owns the active sources, the monotonic sample clock, and the
// real-time mix loop. ProcessInto is called from the device callback and
// must not allocate or block beyond the short snapshot lock.
type Mixer struct {
	numChannels int
	sampleRate  int

	// sampleCounter is the frame clock every schedule is expressed in.
	sampleCounter atomic.Uint64

	mu      sync.RWMutex
	sources []*ActiveSource

	// Callback-local scratch, reused across invocations. Resizing is the
	// cold path for sources with more channels than seen before.
	snapshot    []*ActiveSource
	finishedIDs []uint64
	frameBuf    []float32
}

// NewMixer creates a mixer for the given output geometry.
func NewMixer(numChannels, sampleRate int) *Mixer {
	return &Mixer{
		numChannels: numChannels,
		sampleRate:  sampleRate,
		snapshot:    make([]*ActiveSource, 0, 64),
		finishedIDs: make([]uint64, 0, 64),
		frameBuf:    make([]float32, 64),
	}
}

// NumChannels returns the number of output channels.
func (m *Mixer) NumChannels() int {
	return m.numChannels
}

// SampleRate returns the output sample rate.
func (m *Mixer) SampleRate() int {
	return m.sampleRate
}

// CurrentSample returns the monotonic frame clock. Schedulers add their
// latency allowance to this value.
func (m *Mixer) CurrentSample() uint64 {
	return m.sampleCounter.Load()
}

// AddSource compiles the source's routing and appends it to the active
// list. Safe from any goroutine; the write lock is held briefly.
func (m *Mixer) AddSource(s *ActiveSource) {
	if s.cachedChannelCount == 0 {
		s.cachedChannelCount = s.Source.ChannelCount()
	}
	s.channelMappings = precomputeChannelMappings(s.Source.ChannelLabels(), s.TrackMappings, s.cachedChannelCount)

	m.mu.Lock()
	m.sources = append(m.sources, s)
	m.mu.Unlock()
}

// RemoveSources removes sources by ID.
func (m *Mixer) RemoveSources(ids []uint64) {
	if len(ids) == 0 {
		return
	}

	// Linear scan keeps the end-of-callback removal pass allocation-free;
	// the ID list is small in practice.
	drop := func(id uint64) bool {
		for _, v := range ids {
			if v == id {
				return true
			}
		}
		return false
	}

	m.mu.Lock()
	kept := m.sources[:0]
	for _, s := range m.sources {
		if !drop(s.ID) {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(m.sources); i++ {
		m.sources[i] = nil
	}
	m.sources = kept
	m.mu.Unlock()
}

// ActiveSourceCount returns the number of registered sources.
func (m *Mixer) ActiveSourceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}

// precomputeChannelMappings resolves per-channel labels against the track
// mappings table. The output list for a source channel concatenates, in
// label order, the output channels of each label; duplicates are kept so
// a sample may be mixed into the same output more than once.
func precomputeChannelMappings(labels [][]string, trackMappings map[string][]int, channelCount int) [][]int {
	mappings := make([][]int, channelCount)
	for ch := 0; ch < channelCount; ch++ {
		var outputs []int
		if ch < len(labels) {
			for _, label := range labels[ch] {
				for _, trackChannel := range trackMappings[label] {
					// Track channels are 1-indexed in configuration.
					outputs = append(outputs, trackChannel-1)
				}
			}
		}
		mappings[ch] = outputs
	}
	return mappings
}

// ProcessInto mixes numFrames frames additively into out, which must hold
// numFrames * NumChannels interleaved samples. This is the real-time
// entry point: it zeroes the buffer, snapshots the source list under a
// short read lock, applies per-source start/cut scheduling, advances the
// sample clock by exactly numFrames, and finally removes finished sources
// under a short write lock.
func (m *Mixer) ProcessInto(out []float32, numFrames int) {
	currentSample := m.sampleCounter.Load()
	bufferEnd := currentSample + uint64(numFrames)

	for i := range out {
		out[i] = 0
	}

	m.mu.RLock()
	m.snapshot = append(m.snapshot[:0], m.sources...)
	m.mu.RUnlock()

	m.finishedIDs = m.finishedIDs[:0]

	for _, s := range m.snapshot {
		s.mu.Lock()

		if s.IsFinished.Load() || s.CancelHandle.IsCancelled() {
			m.finishedIDs = append(m.finishedIDs, s.ID)
			s.mu.Unlock()
			continue
		}

		// A cut at or before the buffer start removes the source now.
		if cancelAt := s.CancelAt.Load(); cancelAt > 0 && currentSample >= cancelAt {
			s.IsFinished.Store(true)
			m.finishedIDs = append(m.finishedIDs, s.ID)
			s.mu.Unlock()
			continue
		}

		startFrame := 0
		if s.StartAtSample != nil {
			startAt := *s.StartAtSample
			if startAt >= bufferEnd {
				// Not yet due; first audible frame is in a later buffer.
				s.mu.Unlock()
				continue
			}
			if startAt > currentSample {
				startFrame = int(startAt - currentSample)
			}
		}

		endFrame := numFrames
		if cancelAt := s.CancelAt.Load(); cancelAt > 0 && cancelAt > currentSample && cancelAt < bufferEnd {
			// The last contributing frame is cancelAt-1.
			endFrame = int(cancelAt - currentSample)
		}

		channelCount := s.cachedChannelCount
		if len(m.frameBuf) < channelCount {
			m.frameBuf = make([]float32, channelCount)
		}
		frame := m.frameBuf[:channelCount]

		for frameIndex := startFrame; frameIndex < endFrame; frameIndex++ {
			n, err := s.Source.NextFrame(frame)
			if err != nil || n == 0 {
				s.IsFinished.Store(true)
				m.finishedIDs = append(m.finishedIDs, s.ID)
				break
			}

			base := frameIndex * m.numChannels
			for sourceChannel := 0; sourceChannel < channelCount; sourceChannel++ {
				sample := frame[sourceChannel]
				for _, outputIndex := range s.channelMappings[sourceChannel] {
					if outputIndex >= 0 && outputIndex < m.numChannels {
						out[base+outputIndex] += sample
					}
				}
			}
		}

		s.mu.Unlock()
	}

	m.sampleCounter.Add(uint64(numFrames))

	if len(m.finishedIDs) > 0 {
		m.RemoveSources(m.finishedIDs)
	}
}

// ProcessFrames mixes numFrames frames and returns the interleaved
// result. Convenience wrapper used by tests and offline verification.
func (m *Mixer) ProcessFrames(numFrames int) []float32 {
	out := make([]float32, numFrames*m.numChannels)
	m.ProcessInto(out, numFrames)
	return out
}
