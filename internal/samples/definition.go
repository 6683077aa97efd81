// internal/samples/definition.go
package samples

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFile indicates a sample definition with neither a file nor
	// velocity layers.
	ErrNoFile = errors.New("sample definition needs a file or velocity layers")
	// ErrBadVelocityRange indicates an invalid velocity layer range.
	ErrBadVelocityRange = errors.New("velocity range must satisfy 0 <= min <= max <= 127")
	// ErrNoOutputChannels indicates a sample definition without output routing.
	ErrNoOutputChannels = errors.New("sample definition needs at least one output channel")
	// ErrBadTrigger indicates a trigger missing its MIDI selector.
	ErrBadTrigger = errors.New("trigger needs a note, controller, or program")
)

// RetriggerBehavior controls what happens when a sample is triggered
// while voices of the same sample are still playing.
type RetriggerBehavior int

const (
	// RetriggerCut stops all existing voices of the sample on the exact
	// frame the new voice starts.
	RetriggerCut RetriggerBehavior = iota
	// RetriggerPolyphonic lets voices overlap up to the per-sample limit,
	// stealing the oldest beyond it.
	RetriggerPolyphonic
)

// ParseRetrigger converts the configuration string.
func ParseRetrigger(s string) (RetriggerBehavior, error) {
	switch s {
	case "", "cut":
		return RetriggerCut, nil
	case "polyphonic":
		return RetriggerPolyphonic, nil
	default:
		return 0, fmt.Errorf("unknown retrigger behavior %q", s)
	}
}

// NoteOffBehavior controls the reaction to a matching Note Off.
type NoteOffBehavior int

const (
	// NoteOffPlayToCompletion ignores Note Off.
	NoteOffPlayToCompletion NoteOffBehavior = iota
	// NoteOffStop cancels matching voices immediately.
	NoteOffStop
	// NoteOffFade is reserved; it currently behaves as NoteOffStop.
	NoteOffFade
)

// ParseNoteOff converts the configuration string.
func ParseNoteOff(s string) (NoteOffBehavior, error) {
	switch s {
	case "", "play_to_completion":
		return NoteOffPlayToCompletion, nil
	case "stop":
		return NoteOffStop, nil
	case "fade":
		return NoteOffFade, nil
	default:
		return 0, fmt.Errorf("unknown note off behavior %q", s)
	}
}

// VelocityLayer maps a velocity range to a file and gain.
type VelocityLayer struct {
	// MinVelocity and MaxVelocity bound the matching range, inclusive.
	MinVelocity int `mapstructure:"min_velocity" yaml:"min_velocity"`
	MaxVelocity int `mapstructure:"max_velocity" yaml:"max_velocity"`
	// File is the audio file for this layer.
	File string `mapstructure:"file" yaml:"file"`
	// Gain multiplies the layer's samples; 0 means 1.0.
	Gain float64 `mapstructure:"gain" yaml:"gain"`
}

// Definition describes one triggerable sample.
type Definition struct {
	// File is the audio file when no velocity layers are used.
	File string `mapstructure:"file" yaml:"file"`
	// VelocityLayers selects different files by trigger velocity.
	VelocityLayers []VelocityLayer `mapstructure:"velocity_layers" yaml:"velocity_layers"`
	// Gain multiplies the sample when File is used; 0 means 1.0.
	Gain float64 `mapstructure:"gain" yaml:"gain"`
	// OutputChannels is the set of 1-indexed output channels the sample
	// is routed to.
	OutputChannels []int `mapstructure:"output_channels" yaml:"output_channels"`
	// Retrigger is "cut" (default) or "polyphonic".
	Retrigger string `mapstructure:"retrigger" yaml:"retrigger"`
	// NoteOff is "play_to_completion" (default), "stop", or "fade".
	NoteOff string `mapstructure:"note_off" yaml:"note_off"`
	// MaxVoices limits concurrent voices of this sample; 0 means no
	// per-sample limit.
	MaxVoices int `mapstructure:"max_voices" yaml:"max_voices"`
}

// Validate checks the definition for structural errors.
func (d *Definition) Validate() error {
	var errs []error

	if d.File == "" && len(d.VelocityLayers) == 0 {
		errs = append(errs, ErrNoFile)
	}
	if len(d.OutputChannels) == 0 {
		errs = append(errs, ErrNoOutputChannels)
	}
	for _, ch := range d.OutputChannels {
		if ch < 1 {
			errs = append(errs, fmt.Errorf("output channels are 1-indexed, got %d", ch))
		}
	}
	for _, layer := range d.VelocityLayers {
		if layer.MinVelocity < 0 || layer.MaxVelocity > 127 || layer.MinVelocity > layer.MaxVelocity {
			errs = append(errs, fmt.Errorf("%w: [%d, %d]", ErrBadVelocityRange, layer.MinVelocity, layer.MaxVelocity))
		}
		if layer.File == "" {
			errs = append(errs, errors.New("velocity layer needs a file"))
		}
	}
	if _, err := ParseRetrigger(d.Retrigger); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseNoteOff(d.NoteOff); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// FileForVelocity returns the file and gain to play for the given
// velocity byte. Velocity layers take precedence over the plain file.
func (d *Definition) FileForVelocity(velocity int) (string, float64, bool) {
	for _, layer := range d.VelocityLayers {
		if velocity >= layer.MinVelocity && velocity <= layer.MaxVelocity {
			gain := layer.Gain
			if gain == 0 {
				gain = 1.0
			}
			return layer.File, gain, true
		}
	}
	if d.File != "" {
		gain := d.Gain
		if gain == 0 {
			gain = 1.0
		}
		return d.File, gain, true
	}
	return "", 0, false
}

// AllFiles returns every file referenced by the definition.
func (d *Definition) AllFiles() []string {
	var files []string
	if d.File != "" {
		files = append(files, d.File)
	}
	for _, layer := range d.VelocityLayers {
		if layer.File != "" {
			files = append(files, layer.File)
		}
	}
	return files
}

// Trigger binds a MIDI event shape to a sample name. Exactly one of
// Note, Controller, or Program selects the message kind.
type Trigger struct {
	// Sample is the sample definition name to trigger.
	Sample string `mapstructure:"sample" yaml:"sample"`
	// Channel is the 1-indexed MIDI channel.
	Channel int `mapstructure:"channel" yaml:"channel"`
	// Note selects Note On messages with this key.
	Note *int `mapstructure:"note" yaml:"note"`
	// Controller and Value select Control Change messages.
	Controller *int `mapstructure:"controller" yaml:"controller"`
	Value      *int `mapstructure:"value" yaml:"value"`
	// Program selects Program Change messages.
	Program *int `mapstructure:"program" yaml:"program"`
}

// Validate checks the trigger for structural errors.
func (t *Trigger) Validate() error {
	var errs []error
	if t.Sample == "" {
		errs = append(errs, errors.New("trigger needs a sample name"))
	}
	if t.Channel < 1 || t.Channel > 16 {
		errs = append(errs, fmt.Errorf("MIDI channel must be 1-16, got %d", t.Channel))
	}

	selectors := 0
	if t.Note != nil {
		selectors++
		if *t.Note < 0 || *t.Note > 127 {
			errs = append(errs, fmt.Errorf("note must be 0-127, got %d", *t.Note))
		}
	}
	if t.Controller != nil {
		selectors++
		if t.Value == nil {
			errs = append(errs, errors.New("controller trigger needs a value"))
		}
	}
	if t.Program != nil {
		selectors++
	}
	if selectors != 1 {
		errs = append(errs, ErrBadTrigger)
	}

	return errors.Join(errs...)
}

// Config is the sample engine's configuration: named definitions plus
// the triggers that fire them.
type Config struct {
	// Samples maps sample names to definitions.
	Samples map[string]Definition `mapstructure:"samples" yaml:"samples"`
	// Triggers fire samples from MIDI events.
	Triggers []Trigger `mapstructure:"triggers" yaml:"triggers"`
}

// Validate checks every definition and trigger.
func (c *Config) Validate() error {
	var errs []error
	for name, def := range c.Samples {
		d := def
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sample %q: %w", name, err))
		}
	}
	for i, trigger := range c.Triggers {
		tr := trigger
		if err := tr.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("trigger %d: %w", i, err))
		}
		if _, ok := c.Samples[trigger.Sample]; trigger.Sample != "" && !ok {
			errs = append(errs, fmt.Errorf("trigger %d references unknown sample %q", i, trigger.Sample))
		}
	}
	return errors.Join(errs...)
}
