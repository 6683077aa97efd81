// internal/source/factory.go
package source

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FromFile creates a SampleSource for the given file, selecting a decoder
// by extension. startTime seeks the source frame-accurately before the
// first read.
//
// Supported: .wav, .wave, .flac, .mp3, .ogg, .oga. ALAC and MP4-contained
// AAC have no pure-Go decoder in this stack and are rejected; raw ADTS
// AAC (.aac) is supported.
func FromFile(path string, startTime time.Duration) (SampleSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return NewWAVSource(path, startTime)
	case ".flac":
		return NewFLACSource(path, startTime)
	case ".mp3":
		return NewMP3Source(path, startTime)
	case ".ogg", ".oga":
		return NewVorbisSource(path, startTime)
	case ".aac":
		return NewAACSource(path, startTime)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Closer is implemented by sources holding OS resources.
type Closer interface {
	Close() error
}
