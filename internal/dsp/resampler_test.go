// internal/dsp/resampler_test.go
package dsp

import (
	"math"
	"testing"
)

const (
	testRateA = 48000
	testRateB = 44100
)

// generateSine creates a sine wave at the specified frequency.
func generateSine(frequency float64, sampleRate, numSamples int, amplitude float64) []float32 {
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

// generateNoise creates deterministic band-limited-ish noise.
func generateNoise(numSamples int, amplitude float64) []float32 {
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = float32(amplitude * math.Sin(float64(i*7919)) * 0.7)
	}
	return samples
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func mean(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

// resampleAll pushes a full mono signal through the resampler in
// BlockFrames chunks and collects the output.
func resampleAll(t *testing.T, input []float32, sourceRate, targetRate int) []float32 {
	t.Helper()

	r, err := NewSincResampler(ResamplerConfig{
		SourceRate: sourceRate,
		TargetRate: targetRate,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("NewSincResampler: %v", err)
	}

	var output []float32
	pos := 0
	for pos+BlockFrames <= len(input) {
		out, err := r.Process([][]float32{input[pos : pos+BlockFrames]})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		output = append(output, out[0]...)
		pos += BlockFrames
	}
	out, err := r.ProcessPartial([][]float32{input[pos:]})
	if err != nil {
		t.Fatalf("ProcessPartial: %v", err)
	}
	output = append(output, out[0]...)
	return output
}

func TestNewSincResampler_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  ResamplerConfig
	}{
		{"zero source rate", ResamplerConfig{SourceRate: 0, TargetRate: 48000, Channels: 1}},
		{"zero target rate", ResamplerConfig{SourceRate: 48000, TargetRate: 0, Channels: 1}},
		{"zero channels", ResamplerConfig{SourceRate: 48000, TargetRate: 44100, Channels: 0}},
		{"negative rate", ResamplerConfig{SourceRate: -1, TargetRate: 44100, Channels: 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSincResampler(tc.cfg); err == nil {
				t.Error("invalid config should be rejected")
			}
		})
	}
}

func TestProcess_WrongBlockSize(t *testing.T) {
	r, err := NewSincResampler(ResamplerConfig{SourceRate: testRateA, TargetRate: testRateB, Channels: 1})
	if err != nil {
		t.Fatalf("NewSincResampler: %v", err)
	}
	if _, err := r.Process([][]float32{make([]float32, BlockFrames-1)}); err == nil {
		t.Error("short block should be rejected")
	}
	if _, err := r.Process([][]float32{make([]float32, BlockFrames), make([]float32, BlockFrames)}); err == nil {
		t.Error("channel mismatch should be rejected")
	}
}

func TestResample_OutputLength(t *testing.T) {
	input := generateSine(440, testRateA, testRateA, 0.5) // 1 second
	output := resampleAll(t, input, testRateA, testRateB)

	expected := float64(len(input)) * float64(testRateB) / float64(testRateA)
	if math.Abs(float64(len(output))-expected) > sincLen {
		t.Errorf("output length %d, expected ~%.0f", len(output), expected)
	}
}

func TestResample_ToneRMSPreserved(t *testing.T) {
	input := generateSine(1000, testRateA, testRateA/2, 0.5)
	inputRMS := rms(input)

	output := resampleAll(t, input, testRateA, testRateB)
	outputRMS := rms(output)

	if math.Abs(outputRMS-inputRMS)/inputRMS > 0.2 {
		t.Errorf("tone RMS %v after resample, input %v (>20%% drift)", outputRMS, inputRMS)
	}
}

func TestResample_RoundtripRMS(t *testing.T) {
	testCases := []struct {
		name  string
		input []float32
	}{
		{"1kHz tone", generateSine(1000, testRateA, testRateA, 0.5)},
		{"440Hz tone", generateSine(440, testRateA, testRateA, 0.8)},
		{"noise", generateNoise(testRateA, 0.5)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			down := resampleAll(t, tc.input, testRateA, testRateB)
			up := resampleAll(t, down, testRateB, testRateA)

			inputRMS := rms(tc.input)
			outputRMS := rms(up)
			if math.Abs(outputRMS-inputRMS)/inputRMS > 0.2 {
				t.Errorf("roundtrip RMS %v, input %v (>20%% drift)", outputRMS, inputRMS)
			}

			if drift := math.Abs(mean(up) - mean(tc.input)); drift > 0.2 {
				t.Errorf("DC drift %v > 0.2", drift)
			}
		})
	}
}

func TestResample_DCPreserved(t *testing.T) {
	input := make([]float32, testRateA/2)
	for i := range input {
		input[i] = 0.25
	}

	output := resampleAll(t, input, testRateA, testRateB)

	// Skip the filter edges; the steady-state region must hold DC.
	if len(output) < 4*sincLen {
		t.Fatalf("output too short: %d", len(output))
	}
	steady := output[sincLen : len(output)-sincLen]
	m := mean(steady)
	if math.Abs(m-0.25) > 0.01 {
		t.Errorf("DC level %v, want 0.25", m)
	}
}

func TestResample_OutputFinite(t *testing.T) {
	inputs := [][]float32{
		generateSine(20000, testRateA, testRateA/4, 1.0), // near Nyquist
		generateNoise(testRateA/4, 1.0),
		make([]float32, testRateA/4), // silence
	}

	for _, input := range inputs {
		output := resampleAll(t, input, testRateA, testRateB)
		for i, s := range output {
			if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
				t.Fatalf("non-finite output at %d: %v", i, s)
			}
		}
	}
}

func TestResample_HighFrequencyAttenuatedOnDownsample(t *testing.T) {
	// 22kHz is above the 44.1k/2 * 0.95 cutoff when downsampling from 48k;
	// its energy must be strongly attenuated, not aliased through.
	input := generateSine(22000, testRateA, testRateA/2, 0.8)
	output := resampleAll(t, input, testRateA, testRateB)

	inputRMS := rms(input)
	outputRMS := rms(output)
	if outputRMS > inputRMS*0.5 {
		t.Errorf("above-cutoff energy not attenuated: in %v out %v", inputRMS, outputRMS)
	}
}

func TestResample_Stereo(t *testing.T) {
	r, err := NewSincResampler(ResamplerConfig{SourceRate: testRateA, TargetRate: testRateB, Channels: 2})
	if err != nil {
		t.Fatalf("NewSincResampler: %v", err)
	}

	left := generateSine(500, testRateA, BlockFrames, 0.5)
	right := make([]float32, BlockFrames) // silent

	// Push a few blocks so steady state is reached.
	var outLeft, outRight []float32
	for i := 0; i < 8; i++ {
		out, err := r.Process([][]float32{left, right})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		outLeft = append(outLeft, out[0]...)
		outRight = append(outRight, out[1]...)
	}

	if rms(outLeft) < 0.1 {
		t.Error("left channel lost signal")
	}
	if rms(outRight) > 1e-6 {
		t.Error("silent right channel gained signal (channel bleed)")
	}
}

func TestLinearResample(t *testing.T) {
	t.Run("same rate passthrough", func(t *testing.T) {
		input := []float32{0.1, 0.2, 0.3}
		output := LinearResample(input, 1, 48000, 48000)
		if len(output) != len(input) {
			t.Fatalf("passthrough changed length: %d", len(output))
		}
		for i := range input {
			if output[i] != input[i] {
				t.Fatalf("passthrough changed sample %d", i)
			}
		}
	})

	t.Run("upsample length", func(t *testing.T) {
		input := generateSine(440, 44100, 4410, 0.5)
		output := LinearResample(input, 1, 44100, 48000)
		expected := int(math.Ceil(4410.0 * 48000.0 / 44100.0))
		if len(output) != expected {
			t.Errorf("length %d, want %d", len(output), expected)
		}
	})

	t.Run("stereo preserves channels", func(t *testing.T) {
		// L=1.0, R=-1.0 throughout.
		input := []float32{1, -1, 1, -1, 1, -1, 1, -1}
		output := LinearResample(input, 2, 44100, 48000)
		if len(output) < 8 {
			t.Fatalf("output too short: %d", len(output))
		}
		if math.Abs(float64(output[0])-1.0) > 0.1 {
			t.Errorf("first left sample %v", output[0])
		}
		if math.Abs(float64(output[1])+1.0) > 0.1 {
			t.Errorf("first right sample %v", output[1])
		}
	})

	t.Run("rms preserved", func(t *testing.T) {
		input := generateSine(440, 44100, 44100, 0.5)
		output := LinearResample(input, 1, 44100, 48000)
		if math.Abs(rms(output)-rms(input))/rms(input) > 0.05 {
			t.Errorf("linear resample RMS drift: %v vs %v", rms(output), rms(input))
		}
	})
}
