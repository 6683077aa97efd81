// internal/audio/device.go
package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

const (
	// SourceChannelCapacity bounds the new-source channel per device.
	// When full, senders block (backpressure) instead of growing a queue.
	SourceChannelCapacity = 64
	// bytesPerFloat32 is the size of one f32 sample in the device buffer.
	bytesPerFloat32 = 4
)

var (
	// ErrNoDevice indicates no playback device matched the requested name.
	ErrNoDevice = errors.New("no matching playback device")
	// ErrOutputClosed indicates a send after Close.
	ErrOutputClosed = errors.New("audio output is closed")
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("audio output already started")
)

// DeviceDescription describes an enumerated playback device.
type DeviceDescription struct {
	// Name is the backend-reported device name.
	Name string
	// MaxChannels is the maximum output channel count.
	MaxChannels int
	// IsDefault reports whether the backend considers this the default
	// output device.
	IsDefault bool
}

func (d DeviceDescription) String() string {
	return fmt.Sprintf("%s (Channels=%d)", d.Name, d.MaxChannels)
}

// ListDevices enumerates playback-capable devices (output channels > 0).
func ListDevices() ([]DeviceDescription, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	var devices []DeviceDescription
	for _, info := range infos {
		full, err := ctx.DeviceInfo(malgo.Playback, info.ID, malgo.Shared)
		if err != nil {
			log.Warn("unable to query device", "device", info.Name(), "err", err)
			continue
		}
		if full.MaxChannels == 0 {
			continue
		}
		devices = append(devices, DeviceDescription{
			Name:        info.Name(),
			MaxChannels: int(full.MaxChannels),
			IsDefault:   info.IsDefault != 0,
		})
	}
	return devices, nil
}

// OutputConfig configures an Output.
type OutputConfig struct {
	// DeviceName selects a device by name; empty selects the default.
	DeviceName string
	// Channels is the number of output channels to open.
	Channels int
	// Format is the device sample rate, representation, and bit depth.
	Format TargetFormat
	// BufferSizeFrames is the period size requested from the backend.
	BufferSizeFrames int
}

// Output binds a Mixer to a concrete malgo playback device. It owns the
// bounded new-source channel drained by the data callback and rebuilds
// the device when the backend reports a failure, retaining all mixer
// sources across the rebuild.
type Output struct {
	config OutputConfig
	mixer  *Mixer

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	mu     sync.Mutex

	deviceID unsafe.Pointer

	running atomic.Bool
	closed  atomic.Bool

	sourceCh chan *ActiveSource

	// rebuildCh is signalled by the backend stop callback when the device
	// dies underneath us.
	rebuildCh chan struct{}
	doneCh    chan struct{}

	// intScratch is the preallocated mix target for integer output.
	// Grown only on the cold path when the backend delivers a larger
	// period than configured.
	intScratch []float32
}

// NewOutput creates an output for the given configuration. The device is
// located eagerly; Start opens the stream.
func NewOutput(cfg OutputConfig) (*Output, error) {
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("%w: %d channels requested", ErrNoDevice, cfg.Channels)
	}
	if cfg.Format.SampleFormat == FormatInt &&
		cfg.Format.BitsPerSample != 16 && cfg.Format.BitsPerSample != 32 {
		return nil, fmt.Errorf("%w: %d-bit integer output", ErrUnsupportedBitDepth, cfg.Format.BitsPerSample)
	}
	if cfg.BufferSizeFrames < 1 {
		return nil, errors.New("buffer size must be at least 1 frame")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	o := &Output{
		config:     cfg,
		mixer:      NewMixer(cfg.Channels, cfg.Format.SampleRate),
		ctx:        ctx,
		sourceCh:   make(chan *ActiveSource, SourceChannelCapacity),
		rebuildCh:  make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
		intScratch: make([]float32, cfg.BufferSizeFrames*cfg.Channels),
	}

	if cfg.DeviceName != "" {
		if err := o.resolveDeviceID(); err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return nil, err
		}
	}

	return o, nil
}

func (o *Output) resolveDeviceID() error {
	infos, err := o.ctx.Devices(malgo.Playback)
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	for i := range infos {
		if infos[i].Name() == o.config.DeviceName {
			o.deviceID = infos[i].ID.Pointer()
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNoDevice, o.config.DeviceName)
}

// Mixer returns the mixer bound to this output.
func (o *Output) Mixer() *Mixer {
	return o.mixer
}

// Send delivers a new source to the audio callback, which adds it to the
// mixer at the start of its next invocation. Blocks when the bounded
// channel is full.
func (o *Output) Send(s *ActiveSource) error {
	if o.closed.Load() {
		return ErrOutputClosed
	}
	o.sourceCh <- s
	return nil
}

// Start opens the device stream and begins the recovery watcher.
func (o *Output) Start() error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := o.buildDevice(); err != nil {
		o.running.Store(false)
		return err
	}

	go o.recoveryLoop()
	return nil
}

// buildDevice creates and starts the malgo device with the configured
// format. Called at Start and again by the recovery loop.
func (o *Output) buildDevice() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = uint32(o.config.Format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(o.config.BufferSizeFrames)
	deviceConfig.Playback.Channels = uint32(o.config.Channels)
	if o.deviceID != nil {
		deviceConfig.Playback.DeviceID = o.deviceID
	}

	var dataProc malgo.DataProc
	if o.config.Format.SampleFormat == FormatFloat {
		deviceConfig.Playback.Format = malgo.FormatF32
		dataProc = o.floatCallback
	} else if o.config.Format.BitsPerSample == 16 {
		deviceConfig.Playback.Format = malgo.FormatS16
		dataProc = o.int16Callback
	} else {
		deviceConfig.Playback.Format = malgo.FormatS32
		dataProc = o.int32Callback
	}

	callbacks := malgo.DeviceCallbacks{
		Data: dataProc,
		Stop: o.onStop,
	}

	device, err := malgo.InitDevice(o.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}

	o.mu.Lock()
	o.device = device
	o.mu.Unlock()
	return nil
}

// onStop runs when the backend stops the device. A stop while we believe
// we are running means the backend failed; wake the recovery loop.
func (o *Output) onStop() {
	if o.running.Load() && !o.closed.Load() {
		select {
		case o.rebuildCh <- struct{}{}:
		default:
		}
	}
}

// recoveryLoop rebuilds the stream after backend errors. Mixer state is
// untouched, so active sources survive the rebuild.
func (o *Output) recoveryLoop() {
	for {
		select {
		case <-o.doneCh:
			return
		case <-o.rebuildCh:
		}
		if !o.running.Load() || o.closed.Load() {
			return
		}

		log.Warn("audio backend stopped unexpectedly, rebuilding stream",
			"device", o.config.DeviceName)

		o.mu.Lock()
		if o.device != nil {
			o.device.Uninit()
			o.device = nil
		}
		o.mu.Unlock()

		if err := o.buildDevice(); err != nil {
			log.Error("audio stream rebuild failed", "err", err)
			return
		}
		log.Info("audio stream recovered after backend error")
	}
}

// drainNewSources admits pending sources without blocking. Runs at the
// start of every callback so trigger order equals mixer insertion order.
func (o *Output) drainNewSources() {
	for {
		select {
		case s := <-o.sourceCh:
			o.mixer.AddSource(s)
		default:
			return
		}
	}
}

// floatCallback mixes straight into the device buffer; zero copies.
func (o *Output) floatCallback(outputSamples, _ []byte, frameCount uint32) {
	o.drainNewSources()
	if len(outputSamples) < bytesPerFloat32 {
		return
	}
	samples := unsafe.Slice((*float32)(unsafe.Pointer(&outputSamples[0])), len(outputSamples)/bytesPerFloat32)
	o.mixer.ProcessInto(samples, int(frameCount))
}

// int16Callback mixes into the preallocated f32 scratch, then converts
// with saturation into the device's i16 buffer.
func (o *Output) int16Callback(outputSamples, _ []byte, frameCount uint32) {
	o.drainNewSources()

	n := int(frameCount) * o.config.Channels
	scratch := o.scratchFor(n)
	o.mixer.ProcessInto(scratch, int(frameCount))

	for i := 0; i < n; i++ {
		v := uint16(SaturateToI16(scratch[i]))
		outputSamples[i*2] = byte(v)
		outputSamples[i*2+1] = byte(v >> 8)
	}
}

// int32Callback is the 32-bit integer variant of int16Callback.
func (o *Output) int32Callback(outputSamples, _ []byte, frameCount uint32) {
	o.drainNewSources()

	n := int(frameCount) * o.config.Channels
	scratch := o.scratchFor(n)
	o.mixer.ProcessInto(scratch, int(frameCount))

	for i := 0; i < n; i++ {
		v := uint32(SaturateToI32(scratch[i]))
		outputSamples[i*4] = byte(v)
		outputSamples[i*4+1] = byte(v >> 8)
		outputSamples[i*4+2] = byte(v >> 16)
		outputSamples[i*4+3] = byte(v >> 24)
	}
}

// scratchFor returns the scratch sized for n samples, growing it only
// when the backend hands over a larger period than configured.
func (o *Output) scratchFor(n int) []float32 {
	if len(o.intScratch) < n {
		o.intScratch = make([]float32, n)
	}
	return o.intScratch[:n]
}

// Close stops the stream and releases the context. Sources still in the
// mixer are dropped with it.
func (o *Output) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.running.Store(false)
	close(o.doneCh)

	o.mu.Lock()
	if o.device != nil {
		o.device.Uninit()
		o.device = nil
	}
	o.mu.Unlock()

	if o.ctx != nil {
		if err := o.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
		o.ctx.Free()
		o.ctx = nil
	}
	return nil
}
