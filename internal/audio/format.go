// internal/audio/format.go
package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSampleRate indicates the sample rate must be positive.
	ErrInvalidSampleRate = errors.New("sample rate must be greater than 0")
	// ErrUnknownSampleFormat indicates an unrecognized sample format string.
	ErrUnknownSampleFormat = errors.New("unknown sample format")
	// ErrUnsupportedBitDepth indicates a bit depth the output path cannot produce.
	ErrUnsupportedBitDepth = errors.New("unsupported bits per sample")
)

// SampleFormat distinguishes integer from floating point sample encoding.
type SampleFormat int

const (
	// FormatInt is integer PCM (8/16/24/32-bit).
	FormatInt SampleFormat = iota
	// FormatFloat is 32-bit floating point PCM.
	FormatFloat
)

// ParseSampleFormat converts a configuration string to a SampleFormat.
// Accepted values are exactly "int", "Int", "float" and "Float".
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "int", "Int":
		return FormatInt, nil
	case "float", "Float":
		return FormatFloat, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSampleFormat, s)
	}
}

// String returns the canonical configuration spelling.
func (f SampleFormat) String() string {
	if f == FormatFloat {
		return "float"
	}
	return "int"
}

// TargetFormat describes the sample rate, format, and bit depth a device
// expects. Immutable once created.
type TargetFormat struct {
	SampleRate    int
	SampleFormat  SampleFormat
	BitsPerSample int
}

// NewTargetFormat validates and creates a TargetFormat.
func NewTargetFormat(sampleRate int, format SampleFormat, bitsPerSample int) (TargetFormat, error) {
	if sampleRate <= 0 {
		return TargetFormat{}, ErrInvalidSampleRate
	}
	return TargetFormat{
		SampleRate:    sampleRate,
		SampleFormat:  format,
		BitsPerSample: bitsPerSample,
	}, nil
}

// ScaleInt converts a signed integer sample of the given bit width to f32
// in [-1.0, 1.0] by dividing by 2^(bits-1).
func ScaleInt(sample int64, bits int) float32 {
	return float32(sample) / float32(int64(1)<<(bits-1))
}

// ScaleUint converts an unsigned integer sample of the given bit width to
// f32 by removing the midpoint bias and dividing by 2^(bits-1), so the
// midpoint maps to 0.0.
func ScaleUint(sample uint64, bits int) float32 {
	half := int64(1) << (bits - 1)
	return float32(int64(sample)-half) / float32(half)
}

// SaturateToI16 converts an f32 sample to i16 with clamping at full scale.
func SaturateToI16(sample float32) int16 {
	if sample >= 1.0 {
		return 32767
	}
	if sample <= -1.0 {
		return -32768
	}
	return int16(sample * 32767.0)
}

// SaturateToI32 converts an f32 sample to i32 with clamping at full scale.
func SaturateToI32(sample float32) int32 {
	if sample >= 1.0 {
		return 2147483647
	}
	if sample <= -1.0 {
		return -2147483648
	}
	return int32(float64(sample) * 2147483647.0)
}
