// internal/source/buffered.go
package source

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mdwn/mtrack/internal/audio"
)

// BufferedSource prefetches frames from a ChannelMapped source into a
// ring buffer filled on the shared FillPool, so the audio callback reads
// decoded frames without ever decoding or resampling itself.
//
// The ring holds 4x the device buffer in frames. Construction blocks (off
// the audio thread) until at least one device buffer of frames is ready
// or the source ends. When occupancy drops to half capacity a refill job
// is spawned; at most one fill job per buffer is in flight.
type BufferedSource struct {
	inner   audio.ChannelMapped
	innerMu sync.Mutex

	pool     *FillPool
	channels int
	labels   [][]string

	capacityFrames  int
	refillThreshold int
	warmupMinFrames int

	mu    sync.Mutex
	cond  *sync.Cond
	state ringState

	finishedFlag atomic.Bool
}

type ringState struct {
	// data is interleaved: frame-major, channels per frame.
	data       []float32
	readIndex  int
	writeIndex int
	lenFrames  int
	// finished is set when the inner source has been fully consumed.
	finished bool
	// refillInProgress guards against overlapping fill jobs.
	refillInProgress bool
}

// NewBufferedSource wraps inner with a prefetch ring sized from
// deviceBufferFrames and blocks until the warmup fill completes.
func NewBufferedSource(inner audio.ChannelMapped, pool *FillPool, deviceBufferFrames int) (*BufferedSource, error) {
	if deviceBufferFrames < 1 {
		deviceBufferFrames = 1
	}
	channels := inner.ChannelCount()
	if channels < 1 {
		return nil, fmt.Errorf("%w: source has no channels", ErrSampleConversion)
	}

	capacity := deviceBufferFrames * 4
	b := &BufferedSource{
		inner:           inner,
		pool:            pool,
		channels:        channels,
		labels:          inner.ChannelLabels(),
		capacityFrames:  capacity,
		refillThreshold: capacity / 2,
		warmupMinFrames: deviceBufferFrames,
	}
	b.cond = sync.NewCond(&b.mu)
	b.state.data = make([]float32, capacity*channels)

	b.mu.Lock()
	b.state.refillInProgress = true
	b.mu.Unlock()
	if err := pool.Spawn(b.fillJob); err != nil {
		return nil, fmt.Errorf("spawn warmup fill: %w", err)
	}

	// Wait for warmup; runs on the song-setup thread, never the callback.
	b.mu.Lock()
	for !b.state.finished && b.state.lenFrames < b.warmupMinFrames {
		b.cond.Wait()
	}
	b.mu.Unlock()

	return b, nil
}

// fillJob pulls frames from the inner source into the ring until the ring
// is full or the source ends.
func (b *BufferedSource) fillJob() {
	frame := make([]float32, b.channels)

	for {
		b.mu.Lock()
		if b.state.finished || b.state.lenFrames >= b.capacityFrames {
			b.state.refillInProgress = false
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		// Pull with no ring lock held: decode work must not block readers.
		b.innerMu.Lock()
		n, err := b.inner.NextFrame(frame)
		b.innerMu.Unlock()

		b.mu.Lock()
		if err != nil || n == 0 {
			b.state.finished = true
			b.finishedFlag.Store(true)
			b.state.refillInProgress = false
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}

		if b.state.lenFrames < b.capacityFrames {
			base := b.state.writeIndex * b.channels
			copy(b.state.data[base:base+b.channels], frame)
			b.state.writeIndex = (b.state.writeIndex + 1) % b.capacityFrames
			b.state.lenFrames++
			if b.state.lenFrames >= b.warmupMinFrames {
				b.cond.Broadcast()
			}
		}
		b.mu.Unlock()
	}
}

// NextFrame implements ChannelMapped. Reads one frame from the ring; on
// underrun it falls back to a synchronous pull from the inner source
// rather than reporting a false end of stream.
func (b *BufferedSource) NextFrame(out []float32) (int, error) {
	if len(out) < b.channels {
		return 0, fmt.Errorf("%w: output buffer holds %d samples, need %d",
			ErrSampleConversion, len(out), b.channels)
	}

	spawnRefill := false

	b.mu.Lock()
	if b.state.lenFrames == 0 {
		if b.state.finished {
			b.mu.Unlock()
			return 0, nil
		}
		b.mu.Unlock()

		// Underrun: the prefetch fell behind. Pull synchronously; heavier
		// work on the consumer, but the source is never truncated.
		b.innerMu.Lock()
		n, err := b.inner.NextFrame(out)
		b.innerMu.Unlock()

		if err != nil || n == 0 {
			b.mu.Lock()
			b.state.finished = true
			b.finishedFlag.Store(true)
			b.cond.Broadcast()
			b.mu.Unlock()
			return 0, err
		}
		return n, nil
	}

	base := b.state.readIndex * b.channels
	copy(out[:b.channels], b.state.data[base:base+b.channels])
	b.state.readIndex = (b.state.readIndex + 1) % b.capacityFrames
	b.state.lenFrames--

	if !b.state.finished && !b.state.refillInProgress && b.state.lenFrames <= b.refillThreshold {
		b.state.refillInProgress = true
		spawnRefill = true
	}
	b.mu.Unlock()

	if spawnRefill {
		if err := b.pool.Spawn(b.fillJob); err != nil {
			b.mu.Lock()
			b.state.refillInProgress = false
			b.mu.Unlock()
		}
	}
	return 1, nil
}

// ChannelLabels implements ChannelMapped.
func (b *BufferedSource) ChannelLabels() [][]string {
	return b.labels
}

// ChannelCount implements ChannelMapped.
func (b *BufferedSource) ChannelCount() int {
	return b.channels
}

// Buffered reports the current ring occupancy in frames.
func (b *BufferedSource) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.lenFrames
}
