// internal/source/context.go
package source

import (
	"github.com/mdwn/mtrack/internal/audio"
)

// PlaybackContext bundles the parameters source-creation paths need so
// call sites don't thread many separate arguments. Immutable once built.
type PlaybackContext struct {
	// TargetFormat is the device's output format.
	TargetFormat audio.TargetFormat
	// BufferSizeFrames is the device period size in frames. Also sizes
	// prefetch rings and decode chunks.
	BufferSizeFrames int
	// FillPool, when non-nil, enables BufferedSource prefetching for
	// song sources.
	FillPool *FillPool
}

// NewPlaybackContext builds a context from the given format, buffer size,
// and optional shared fill pool.
func NewPlaybackContext(format audio.TargetFormat, bufferSizeFrames int, pool *FillPool) PlaybackContext {
	return PlaybackContext{
		TargetFormat:     format,
		BufferSizeFrames: bufferSizeFrames,
		FillPool:         pool,
	}
}
