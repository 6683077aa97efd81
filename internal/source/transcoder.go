// internal/source/transcoder.go
package source

import (
	"time"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/dsp"
)

// Transcoder adapts a SampleSource to a target format. Rate conversion
// streams through the windowed-sinc resampler in fixed input blocks; when
// the rates already match the transcoder is a strict pass-through.
//
// Streaming works against a sliding per-channel input buffer and a FIFO
// of ready output frames: pull input until a full block is available,
// process it, then drain exactly the frames the resampler consumed. EOF
// with a partial block left runs one flush pass.
type Transcoder struct {
	source    SampleSource
	resampler *dsp.SincResampler

	targetRate int
	targetBits int
	channels   int

	// input is the sliding per-channel buffer feeding the resampler.
	input    [][]float32
	inputEOF bool
	flushed  bool

	// fifo holds planar output frames ready for consumption.
	fifo    [][]float32
	fifoPos int

	// readBuf is the scratch for pulling chunks from the inner source.
	readBuf [][]float32
	// blockView holds per-channel views of exactly one input block.
	blockView [][]float32
}

// NewTranscoder wraps source so its output conforms to target. Returns
// the source's rate error as a ResamplingError when the resampler cannot
// be built.
func NewTranscoder(src SampleSource, target audio.TargetFormat) (*Transcoder, error) {
	channels := src.ChannelCount()
	t := &Transcoder{
		source:     src,
		targetRate: target.SampleRate,
		targetBits: target.BitsPerSample,
		channels:   channels,
	}

	if src.SampleRate() != target.SampleRate {
		r, err := dsp.NewSincResampler(dsp.ResamplerConfig{
			SourceRate: src.SampleRate(),
			TargetRate: target.SampleRate,
			Channels:   channels,
		})
		if err != nil {
			return nil, &ResamplingError{
				SourceRate: src.SampleRate(),
				TargetRate: target.SampleRate,
				Err:        err,
			}
		}
		t.resampler = r
		t.input = make([][]float32, channels)
		t.fifo = make([][]float32, channels)
		t.readBuf = make([][]float32, channels)
		t.blockView = make([][]float32, channels)
	}

	return t, nil
}

// NextChunk implements SampleSource.
func (t *Transcoder) NextChunk(output [][]float32, maxFrames int) (int, error) {
	if t.resampler == nil {
		return t.source.NextChunk(output, maxFrames)
	}

	if err := validateChunkGeometry(output, t.channels); err != nil {
		return 0, err
	}
	for ch := range output {
		output[ch] = output[ch][:0]
	}

	written := 0
	for written < maxFrames {
		if t.fifoPos >= t.fifoLen() {
			produced, err := t.fillFIFO()
			if err != nil {
				return written, err
			}
			if !produced {
				break
			}
			continue
		}

		avail := t.fifoLen() - t.fifoPos
		take := maxFrames - written
		if take > avail {
			take = avail
		}
		for ch := 0; ch < t.channels; ch++ {
			output[ch] = append(output[ch], t.fifo[ch][t.fifoPos:t.fifoPos+take]...)
		}
		t.fifoPos += take
		written += take
	}
	return written, nil
}

func (t *Transcoder) fifoLen() int {
	if t.fifo[0] == nil {
		return 0
	}
	return len(t.fifo[0])
}

// fillFIFO runs the resampler once and reports whether any output frames
// became available.
func (t *Transcoder) fillFIFO() (bool, error) {
	for {
		// Pull input until a full block is buffered or the source ends.
		for !t.inputEOF && len(t.input[0]) < dsp.BlockFrames {
			frames, err := t.source.NextChunk(t.readBuf, dsp.BlockFrames-len(t.input[0]))
			if err != nil {
				t.inputEOF = true
				t.flushed = true
				return false, err
			}
			if frames == 0 {
				t.inputEOF = true
				break
			}
			for ch := 0; ch < t.channels; ch++ {
				t.input[ch] = append(t.input[ch], t.readBuf[ch]...)
			}
		}

		switch {
		case len(t.input[0]) >= dsp.BlockFrames:
			for ch := 0; ch < t.channels; ch++ {
				t.blockView[ch] = t.input[ch][:dsp.BlockFrames]
			}
			out, err := t.resampler.Process(t.blockView)
			if err != nil {
				t.inputEOF = true
				t.flushed = true
				return false, &ResamplingError{
					SourceRate: t.source.SampleRate(),
					TargetRate: t.targetRate,
					Err:        err,
				}
			}

			// Drain exactly the consumed block; anything less accumulates
			// input without bound.
			for ch := 0; ch < t.channels; ch++ {
				kept := copy(t.input[ch], t.input[ch][dsp.BlockFrames:])
				t.input[ch] = t.input[ch][:kept]
			}

			if t.appendFIFO(out) {
				return true, nil
			}
			// No output this block (extreme downsampling); keep going.

		case t.inputEOF && !t.flushed:
			if len(t.input[0]) == 0 {
				t.flushed = true
				return false, nil
			}
			for ch := 0; ch < t.channels; ch++ {
				t.blockView[ch] = t.input[ch]
			}
			out, err := t.resampler.ProcessPartial(t.blockView)
			t.flushed = true
			for ch := 0; ch < t.channels; ch++ {
				t.input[ch] = t.input[ch][:0]
			}
			if err != nil {
				return false, &ResamplingError{
					SourceRate: t.source.SampleRate(),
					TargetRate: t.targetRate,
					Err:        err,
				}
			}
			return t.appendFIFO(out), nil

		default:
			return false, nil
		}
	}
}

// appendFIFO copies resampler output (valid only until its next call)
// into the FIFO. Returns whether any frames were added.
func (t *Transcoder) appendFIFO(out [][]float32) bool {
	if len(out[0]) == 0 {
		return false
	}
	for ch := 0; ch < t.channels; ch++ {
		t.fifo[ch] = append(t.fifo[ch][:0], out[ch]...)
	}
	t.fifoPos = 0
	return true
}

// ChannelCount implements SampleSource.
func (t *Transcoder) ChannelCount() int {
	return t.channels
}

// SampleRate implements SampleSource. The transcoder reports the rate it
// produces, not the source rate.
func (t *Transcoder) SampleRate() int {
	return t.targetRate
}

// BitsPerSample implements SampleSource.
func (t *Transcoder) BitsPerSample() int {
	return t.targetBits
}

// Format implements SampleSource. Resampled output is float; a
// pass-through reports the source's own format.
func (t *Transcoder) Format() audio.SampleFormat {
	if t.resampler == nil {
		return t.source.Format()
	}
	return audio.FormatFloat
}

// Duration implements SampleSource. Rate conversion does not change the
// duration, so it is delegated.
func (t *Transcoder) Duration() (time.Duration, bool) {
	return t.source.Duration()
}
