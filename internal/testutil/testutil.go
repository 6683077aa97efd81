// internal/testutil/testutil.go
//
// Test fixtures shared by the source, song, and player tests: generated
// signals and small WAV files written to temp directories.
package testutil

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	wavenc "github.com/go-audio/wav"
)

// GenerateSine creates an interleaved sine wave on every channel.
func GenerateSine(frequency float64, sampleRate, frames, channels int, amplitude float64) []float32 {
	samples := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		t := float64(i) / float64(sampleRate)
		v := float32(amplitude * math.Sin(2*math.Pi*frequency*t))
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = v
		}
	}
	return samples
}

// WriteWAVInt16 writes interleaved f32 samples as a 16-bit PCM WAV file.
func WriteWAVInt16(path string, samples []float32, channels, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wavenc.NewEncoder(f, sampleRate, 16, channels, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           data,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// WriteWAVFloat32 writes interleaved f32 samples as a 32-bit IEEE float
// WAV file. Written by hand: the encoder library only emits integer PCM.
func WriteWAVFloat32(path string, samples []float32, channels, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dataSize := len(samples) * 4
	blockAlign := channels * 4
	byteRate := sampleRate * blockAlign

	var header []byte
	header = append(header, []byte("RIFF")...)
	header = binary.LittleEndian.AppendUint32(header, uint32(36+dataSize))
	header = append(header, []byte("WAVE")...)
	header = append(header, []byte("fmt ")...)
	header = binary.LittleEndian.AppendUint32(header, 16)
	header = binary.LittleEndian.AppendUint16(header, 3) // IEEE float
	header = binary.LittleEndian.AppendUint16(header, uint16(channels))
	header = binary.LittleEndian.AppendUint32(header, uint32(sampleRate))
	header = binary.LittleEndian.AppendUint32(header, uint32(byteRate))
	header = binary.LittleEndian.AppendUint16(header, uint16(blockAlign))
	header = binary.LittleEndian.AppendUint16(header, 32)
	header = append(header, []byte("data")...)
	header = binary.LittleEndian.AppendUint32(header, uint32(dataSize))

	if _, err := f.Write(header); err != nil {
		return err
	}
	body := make([]byte, 0, dataSize)
	for _, s := range samples {
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(s))
	}
	if _, err := f.Write(body); err != nil {
		return err
	}
	return nil
}

// ConstantSamples returns frames of a fixed value on every channel.
func ConstantSamples(value float32, frames, channels int) []float32 {
	samples := make([]float32, frames*channels)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

// StepSamples returns a signal whose first half is `first` and second
// half is `second`, for seek verification.
func StepSamples(first, second float32, frames, channels int) []float32 {
	samples := make([]float32, frames*channels)
	half := frames / 2
	for i := 0; i < frames; i++ {
		v := first
		if i >= half {
			v = second
		}
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = v
		}
	}
	return samples
}

// SongYAML renders a minimal song definition.
func SongYAML(name string, tracks map[string]string) string {
	out := fmt.Sprintf("name: %s\ntracks:\n", name)
	for trackName, file := range tracks {
		out += fmt.Sprintf("  - name: %s\n    file: %s\n", trackName, file)
	}
	return out
}
