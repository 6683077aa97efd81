// internal/samples/engine.go
package samples

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/playsync"
	"github.com/mdwn/mtrack/internal/source"
)

// SourceSender delivers new sources to the audio callback. Implemented
// by audio.Output; tests substitute a direct-to-mixer sender.
type SourceSender interface {
	Send(*audio.ActiveSource) error
}

// precomputedSample is per-file data computed at load time so triggering
// allocates as little as possible.
type precomputedSample struct {
	loaded        *LoadedSample
	channelLabels [][]string
	trackMappings map[string][]int
}

// activeSample is a loaded sample definition.
type activeSample struct {
	definition Definition
	retrigger  RetriggerBehavior
	noteOff    NoteOffBehavior
	files      map[string]*precomputedSample
	basePath   string
}

// activeTrigger is a trigger with its definition resolved for matching.
type activeTrigger struct {
	def        Trigger
	sampleName string
}

// matches reports whether a parsed MIDI message fires this trigger,
// returning the event's velocity byte for layer selection. Velocity is
// never part of the match for note triggers.
func (t *activeTrigger) matches(msg midi.Message) (uint8, bool) {
	var channel, a, b uint8
	switch {
	case t.def.Note != nil:
		if msg.GetNoteStart(&channel, &a, &b) &&
			int(channel) == t.def.Channel-1 && int(a) == *t.def.Note {
			return b, true
		}
	case t.def.Controller != nil:
		if msg.GetControlChange(&channel, &a, &b) &&
			int(channel) == t.def.Channel-1 &&
			int(a) == *t.def.Controller && int(b) == *t.def.Value {
			return b, true
		}
	case t.def.Program != nil:
		if msg.GetProgramChange(&channel, &a) &&
			int(channel) == t.def.Channel-1 && int(a) == *t.def.Program {
			return 127, true
		}
	}
	return 0, false
}

// Engine interprets MIDI events as sample triggers, allocates voices,
// and schedules sources through the mixer with a fixed latency so
// concurrently-triggered voices align to the frame.
type Engine struct {
	loader *Loader
	mixer  *audio.Mixer
	sender SourceSender

	// fixedDelaySamples schedules every trigger this far ahead of the
	// mixer clock, past the buffer currently being mixed.
	fixedDelaySamples uint64

	// configMu guards samples and triggers; they change only between
	// songs.
	configMu sync.RWMutex
	samples  map[string]*activeSample
	triggers []activeTrigger

	// voiceMu guards the voice manager. Held briefly: stops are atomic
	// stores or handle cancels, never mixer locks.
	voiceMu sync.Mutex
	voices  *VoiceManager
}

// NewEngine creates a sample engine bound to a mixer. bufferSize is the
// device buffer size in frames; it becomes the fixed trigger delay so a
// trigger arriving mid-callback always lands in a future buffer.
func NewEngine(mixer *audio.Mixer, sender SourceSender, maxVoices, bufferSize int) *Engine {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Engine{
		loader:            NewLoader(mixer.SampleRate()),
		mixer:             mixer,
		sender:            sender,
		fixedDelaySamples: uint64(bufferSize),
		samples:           make(map[string]*activeSample),
		voices:            NewVoiceManager(maxVoices),
	}
}

// FixedDelaySamples returns the scheduling latency applied to triggers.
func (e *Engine) FixedDelaySamples() uint64 {
	return e.fixedDelaySamples
}

// LoadConfig loads sample definitions and triggers, preloading all audio
// data. Later loads merge over earlier ones (song config overrides
// global config).
func (e *Engine) LoadConfig(cfg *Config, basePath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("samples config: %w", err)
	}

	log.Info("loading samples configuration",
		"samples", len(cfg.Samples), "triggers", len(cfg.Triggers))

	e.configMu.Lock()
	defer e.configMu.Unlock()

	for name, def := range cfg.Samples {
		if err := e.loadSampleLocked(name, def, basePath); err != nil {
			return err
		}
	}
	for _, trigger := range cfg.Triggers {
		e.addTriggerLocked(trigger)
	}

	log.Info("samples loaded",
		"loaded_samples", len(e.samples),
		"loaded_triggers", len(e.triggers),
		"memory_kb", e.loader.TotalMemoryUsage()/1024)
	return nil
}

func (e *Engine) loadSampleLocked(name string, def Definition, basePath string) error {
	files, err := e.loader.LoadDefinition(&def, basePath)
	if err != nil {
		return fmt.Errorf("sample %q: %w", name, err)
	}

	retrigger, err := ParseRetrigger(def.Retrigger)
	if err != nil {
		return fmt.Errorf("sample %q: %w", name, err)
	}
	noteOff, err := ParseNoteOff(def.NoteOff)
	if err != nil {
		return fmt.Errorf("sample %q: %w", name, err)
	}

	// Precompute per-file routing so triggering does no string work.
	precomputed := make(map[string]*precomputedSample, len(files))
	for path, loaded := range files {
		labels := make([]string, 0, len(def.OutputChannels))
		trackMappings := make(map[string][]int, len(def.OutputChannels))
		for _, ch := range def.OutputChannels {
			label := fmt.Sprintf("internal output-channel-%d", ch)
			labels = append(labels, label)
			trackMappings[label] = []int{ch}
		}
		channelLabels := make([][]string, loaded.ChannelCount())
		for i := range channelLabels {
			channelLabels[i] = labels
		}
		precomputed[path] = &precomputedSample{
			loaded:        loaded,
			channelLabels: channelLabels,
			trackMappings: trackMappings,
		}
	}

	if def.MaxVoices > 0 {
		e.voiceMu.Lock()
		e.voices.SetSampleLimit(name, def.MaxVoices)
		e.voiceMu.Unlock()
	}

	e.samples[name] = &activeSample{
		definition: def,
		retrigger:  retrigger,
		noteOff:    noteOff,
		files:      precomputed,
		basePath:   basePath,
	}

	log.Debug("sample loaded", "name", name)
	return nil
}

// addTriggerLocked registers a trigger, replacing any existing trigger
// with the same MIDI shape.
func (e *Engine) addTriggerLocked(trigger Trigger) {
	kept := e.triggers[:0]
	for _, t := range e.triggers {
		if !sameTriggerShape(&t.def, &trigger) {
			kept = append(kept, t)
		}
	}
	e.triggers = append(kept, activeTrigger{def: trigger, sampleName: trigger.Sample})
	log.Debug("trigger added", "sample", trigger.Sample)
}

func sameTriggerShape(a, b *Trigger) bool {
	if a.Channel != b.Channel {
		return false
	}
	switch {
	case a.Note != nil && b.Note != nil:
		return *a.Note == *b.Note
	case a.Controller != nil && b.Controller != nil:
		return *a.Controller == *b.Controller && intPtrEqual(a.Value, b.Value)
	case a.Program != nil && b.Program != nil:
		return *a.Program == *b.Program
	}
	return false
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ProcessMIDIEvent is the entry point for raw MIDI bytes from the input
// port. Note Offs (including Note On with velocity 0) are handled first,
// then triggers are matched.
func (e *Engine) ProcessMIDIEvent(raw []byte) {
	msg := midi.Message(raw)

	var channel, key uint8
	if msg.GetNoteEnd(&channel, &key) {
		e.handleNoteOff(key, channel+1)
	}

	e.configMu.RLock()
	defer e.configMu.RUnlock()

	for i := range e.triggers {
		if velocity, ok := e.triggers[i].matches(msg); ok {
			e.triggerSampleLocked(e.triggers[i].sampleName, velocity, msg)
		}
	}
}

// triggerSampleLocked fires one sample. Caller holds configMu.RLock.
func (e *Engine) triggerSampleLocked(sampleName string, velocity uint8, msg midi.Message) {
	sample, ok := e.samples[sampleName]
	if !ok {
		log.Warn("sample not found", "sample", sampleName)
		return
	}

	file, gain, ok := sample.definition.FileForVelocity(int(velocity))
	if !ok {
		log.Warn("no sample file for velocity", "sample", sampleName, "velocity", velocity)
		return
	}
	fullPath := file
	if !filepath.IsAbs(file) {
		fullPath = filepath.Join(sample.basePath, file)
	}
	precomputed, ok := sample.files[fullPath]
	if !ok {
		log.Error("sample file not loaded", "sample", sampleName, "path", fullPath)
		return
	}

	memSource := precomputed.loaded.CreateSource(gain)
	mapped, err := source.NewChannelMappedSource(memSource, precomputed.channelLabels, 0)
	if err != nil {
		log.Error("sample source construction failed", "sample", sampleName, "err", err)
		return
	}

	// Track the trigger's note and channel so Note Off can find the voice.
	var triggerNote, triggerChannel *uint8
	var ch, key, vel uint8
	if msg.GetNoteStart(&ch, &key, &vel) {
		note := key
		channel := ch + 1
		triggerNote = &note
		triggerChannel = &channel
	}

	cancelHandle := playsync.NewCancelHandle()
	activeSource := audio.NewActiveSource(mapped, precomputed.trackMappings, cancelHandle)

	// Fixed-latency scheduling: always a full buffer ahead of the clock,
	// so the source can never arrive in the past of the current buffer.
	startAt := e.mixer.CurrentSample() + e.fixedDelaySamples
	activeSource.StartAtSample = &startAt

	voice := NewVoice(sampleName, triggerNote, triggerChannel,
		activeSource.ID, cancelHandle, activeSource.CancelAt)

	// Voice bookkeeping happens before the source reaches the mixer so a
	// concurrent retrigger of the same sample cannot race the cut.
	e.voiceMu.Lock()
	toStop := e.voices.AddVoice(voice, sample.retrigger)
	for _, cancelAt := range toStop {
		// Stolen voices stop on the exact frame the new voice starts.
		cancelAt.Store(startAt)
	}
	e.voiceMu.Unlock()

	if err := e.sender.Send(activeSource); err != nil {
		log.Error("failed to send sample to mixer", "err", err)
		return
	}

	log.Debug("sample triggered",
		"sample", sampleName, "velocity", velocity,
		"gain", gain, "source_id", activeSource.ID)
}

// handleNoteOff cancels voices whose sample reacts to Note Off.
func (e *Engine) handleNoteOff(note, channel uint8) {
	e.configMu.RLock()
	behaviorFor := func(sampleName string) NoteOffBehavior {
		if s, ok := e.samples[sampleName]; ok {
			return s.noteOff
		}
		return NoteOffPlayToCompletion
	}

	e.voiceMu.Lock()
	toStop := e.voices.HandleNoteOff(note, channel, behaviorFor)
	e.voiceMu.Unlock()
	e.configMu.RUnlock()

	for _, handle := range toStop {
		handle.Cancel()
	}
	if len(toStop) > 0 {
		log.Debug("note off handled", "note", note, "channel", channel, "stopped", len(toStop))
	}
}

// StopAll cancels every active voice.
func (e *Engine) StopAll() {
	e.voiceMu.Lock()
	toStop := e.voices.Clear()
	e.voiceMu.Unlock()

	for _, handle := range toStop {
		handle.Cancel()
	}
	if len(toStop) > 0 {
		log.Info("all samples stopped", "stopped", len(toStop))
	}
}

// ActiveVoiceCount returns the number of active voices.
func (e *Engine) ActiveVoiceCount() int {
	e.voiceMu.Lock()
	defer e.voiceMu.Unlock()
	return e.voices.ActiveCount()
}

// ReapFinishedVoices drops voices whose cancel handle has been cancelled.
// A source that reaches the end of its data only sets its IsFinished flag
// and leaves the cancel handle untouched, so its voice is not dropped here
// and still counts toward the voice limits.
func (e *Engine) ReapFinishedVoices() {
	e.voiceMu.Lock()
	kept := e.voices.voices[:0]
	for _, v := range e.voices.voices {
		if !v.cancelHandle.IsCancelled() {
			kept = append(kept, v)
		}
	}
	e.voices.voices = kept
	e.voiceMu.Unlock()
}

// MemoryUsage returns the bytes held by loaded samples.
func (e *Engine) MemoryUsage() int {
	return e.loader.TotalMemoryUsage()
}
