// internal/dsp/resampler.go
package dsp

import (
	"errors"
	"math"
)

var (
	// ErrInvalidRate indicates source and target rates must be positive.
	ErrInvalidRate = errors.New("sample rates must be positive")
	// ErrInvalidChannels indicates channel count must be positive.
	ErrInvalidChannels = errors.New("channel count must be positive")
	// ErrBadBlockSize indicates Process was called with the wrong number of input frames.
	ErrBadBlockSize = errors.New("input block must contain exactly BlockFrames frames")
	// ErrChannelMismatch indicates the input slice has the wrong channel count.
	ErrChannelMismatch = errors.New("input channel count mismatch")
)

const (
	// BlockFrames is the fixed number of input frames consumed per Process call.
	BlockFrames = 1024
	// sincLen is the length of each sinc subfilter.
	sincLen = 256
	// oversampling is the number of fractional-phase subfilters.
	oversampling = 128
	// cutoffRel places the filter cutoff at 0.95 of the narrower Nyquist.
	cutoffRel = 0.95
)

// ResamplerConfig holds the rate conversion parameters.
type ResamplerConfig struct {
	// SourceRate is the input sample rate in Hz.
	SourceRate int
	// TargetRate is the output sample rate in Hz.
	TargetRate int
	// Channels is the number of interleaved channels (processed planar).
	Channels int
}

// SincResampler converts between sample rates with a windowed-sinc FIR,
// evaluated at fractional positions by linear interpolation between
// precomputed phase subfilters. Input is consumed in fixed blocks of
// BlockFrames frames; output length varies per block with the conversion
// ratio. State (filter history and fractional phase) carries across
// blocks so the stream is continuous.
type SincResampler struct {
	config ResamplerConfig
	ratio  float64 // output frames per input frame
	step   float64 // input frames advanced per output frame

	// filters holds oversampling+1 subfilters so phase interpolation can
	// always read the p and p+1 entries.
	filters [][]float32

	// history holds, per channel, the retained filter tail plus the
	// current block. Outputs are produced while a full sinc window fits.
	history [][]float32
	// phase is the fractional read position into history.
	phase float64

	// out is the reused planar output scratch.
	out  [][]float32
	view [][]float32
}

// NewSincResampler creates a resampler for the given configuration.
func NewSincResampler(cfg ResamplerConfig) (*SincResampler, error) {
	if cfg.SourceRate <= 0 || cfg.TargetRate <= 0 {
		return nil, ErrInvalidRate
	}
	if cfg.Channels <= 0 {
		return nil, ErrInvalidChannels
	}

	ratio := float64(cfg.TargetRate) / float64(cfg.SourceRate)

	// When downsampling, the cutoff tracks the output Nyquist to suppress
	// aliasing; when upsampling, the input Nyquist already bounds content.
	cutoff := cutoffRel
	if ratio < 1.0 {
		cutoff = cutoffRel * ratio
	}

	filters := buildSincFilters(cutoff)

	// Worst-case output per call: one full block plus retained history and
	// the flush tail.
	maxOut := int(math.Ceil(float64(BlockFrames+2*sincLen)*ratio)) + 2

	r := &SincResampler{
		config:  cfg,
		ratio:   ratio,
		step:    1.0 / ratio,
		filters: filters,
		history: make([][]float32, cfg.Channels),
		out:     make([][]float32, cfg.Channels),
		view:    make([][]float32, cfg.Channels),
	}
	for c := 0; c < cfg.Channels; c++ {
		// Prime with half a window of silence so the first output aligns
		// with the start of the stream within the filter's group delay.
		r.history[c] = make([]float32, sincLen/2, sincLen/2+BlockFrames+sincLen)
		r.out[c] = make([]float32, maxOut)
	}
	return r, nil
}

// Ratio returns output frames per input frame.
func (r *SincResampler) Ratio() float64 {
	return r.ratio
}

// Process consumes exactly BlockFrames frames per channel and returns the
// planar output frames produced. The returned slices are valid until the
// next Process or ProcessPartial call.
func (r *SincResampler) Process(input [][]float32) ([][]float32, error) {
	if len(input) != r.config.Channels {
		return nil, ErrChannelMismatch
	}
	for _, ch := range input {
		if len(ch) != BlockFrames {
			return nil, ErrBadBlockSize
		}
	}
	return r.run(input, 0), nil
}

// ProcessPartial consumes the remaining (shorter than BlockFrames) input
// at end of stream, flushing the filter tail with silence. May be called
// with empty channels to flush only.
func (r *SincResampler) ProcessPartial(input [][]float32) ([][]float32, error) {
	if len(input) != r.config.Channels {
		return nil, ErrChannelMismatch
	}
	n := len(input[0])
	for _, ch := range input {
		if len(ch) != n {
			return nil, ErrBadBlockSize
		}
	}
	return r.run(input, sincLen), nil
}

func (r *SincResampler) run(input [][]float32, flushZeros int) [][]float32 {
	for c := range r.history {
		r.history[c] = append(r.history[c], input[c]...)
		for i := 0; i < flushZeros; i++ {
			r.history[c] = append(r.history[c], 0)
		}
	}

	histLen := len(r.history[0])
	pos := r.phase
	outN := 0

	for int(pos)+sincLen <= histLen {
		n := int(pos)
		frac := pos - float64(n)
		sub := frac * oversampling
		si := int(sub)
		sfrac := float32(sub - float64(si))
		f0 := r.filters[si]
		f1 := r.filters[si+1]

		for c := 0; c < r.config.Channels; c++ {
			buf := r.history[c][n : n+sincLen]
			var a, b float32
			for k := 0; k < sincLen; k++ {
				s := buf[k]
				a += s * f0[k]
				b += s * f1[k]
			}
			r.out[c][outN] = a + sfrac*(b-a)
		}
		outN++
		pos += r.step
	}

	// Drain the consumed whole frames; the fractional remainder carries
	// into the next block.
	drain := int(pos)
	if drain > histLen {
		drain = histLen
	}
	for c := range r.history {
		kept := copy(r.history[c], r.history[c][drain:])
		r.history[c] = r.history[c][:kept]
	}
	r.phase = pos - float64(drain)

	for c := 0; c < r.config.Channels; c++ {
		r.view[c] = r.out[c][:outN]
	}
	return r.view
}

// buildSincFilters precomputes the phase subfilters. Subfilter p holds the
// windowed sinc kernel evaluated at fractional offset p/oversampling, each
// normalized to unit DC gain.
func buildSincFilters(cutoff float64) [][]float32 {
	filters := make([][]float32, oversampling+1)
	center := float64(sincLen / 2)

	for p := 0; p <= oversampling; p++ {
		frac := float64(p) / float64(oversampling)
		taps := make([]float32, sincLen)
		var sum float64

		for k := 0; k < sincLen; k++ {
			t := float64(k) - center - frac
			var s float64
			if t == 0 {
				s = cutoff
			} else {
				x := math.Pi * cutoff * t
				s = cutoff * math.Sin(x) / x
			}
			// Blackman-Harris window evaluated at the shifted tap position.
			w := blackmanHarris((float64(k) - frac) / float64(sincLen-1))
			v := s * w
			taps[k] = float32(v)
			sum += v
		}

		// Unit DC gain so in-band amplitude is preserved.
		if sum != 0 {
			inv := float32(1.0 / sum)
			for k := range taps {
				taps[k] *= inv
			}
		}
		filters[p] = taps
	}
	return filters
}

// blackmanHarris evaluates the 4-term Blackman-Harris window at u in [0, 1].
func blackmanHarris(u float64) float64 {
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	const (
		a0 = 0.35875
		a1 = 0.48829
		a2 = 0.14128
		a3 = 0.01168
	)
	x := 2 * math.Pi * u
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x) - a3*math.Cos(3*x)
}

// LinearResample converts an interleaved buffer between rates using linear
// interpolation. Used for one-shot sample loading where the whole file is
// in memory and filter latency is unwanted.
func LinearResample(samples []float32, channels, sourceRate, targetRate int) []float32 {
	if sourceRate == targetRate || len(samples) == 0 || channels <= 0 {
		return samples
	}

	ratio := float64(targetRate) / float64(sourceRate)
	sourceFrames := len(samples) / channels
	targetFrames := int(math.Ceil(float64(sourceFrames) * ratio))

	output := make([]float32, 0, targetFrames*channels)
	for frame := 0; frame < targetFrames; frame++ {
		pos := float64(frame) / ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		for ch := 0; ch < channels; ch++ {
			i0 := idx*channels + ch
			i1 := (idx+1)*channels + ch

			var s0, s1 float32
			if i0 < len(samples) {
				s0 = samples[i0]
			}
			if i1 < len(samples) {
				s1 = samples[i1]
			} else {
				s1 = s0
			}
			output = append(output, s0+(s1-s0)*frac)
		}
	}
	return output
}
