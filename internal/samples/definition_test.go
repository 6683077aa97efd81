// internal/samples/definition_test.go
package samples

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefinition_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{
			name: "valid simple",
			def:  Definition{File: "kick.wav", OutputChannels: []int{1}},
		},
		{
			name: "valid layered",
			def: Definition{
				VelocityLayers: []VelocityLayer{{MinVelocity: 0, MaxVelocity: 127, File: "a.wav"}},
				OutputChannels: []int{1, 2},
			},
		},
		{
			name:    "no file",
			def:     Definition{OutputChannels: []int{1}},
			wantErr: true,
		},
		{
			name:    "no output channels",
			def:     Definition{File: "kick.wav"},
			wantErr: true,
		},
		{
			name:    "zero-indexed channel",
			def:     Definition{File: "kick.wav", OutputChannels: []int{0}},
			wantErr: true,
		},
		{
			name: "inverted velocity range",
			def: Definition{
				VelocityLayers: []VelocityLayer{{MinVelocity: 100, MaxVelocity: 50, File: "a.wav"}},
				OutputChannels: []int{1},
			},
			wantErr: true,
		},
		{
			name: "velocity above 127",
			def: Definition{
				VelocityLayers: []VelocityLayer{{MinVelocity: 0, MaxVelocity: 200, File: "a.wav"}},
				OutputChannels: []int{1},
			},
			wantErr: true,
		},
		{
			name:    "unknown retrigger",
			def:     Definition{File: "a.wav", OutputChannels: []int{1}, Retrigger: "bounce"},
			wantErr: true,
		},
		{
			name:    "unknown note off",
			def:     Definition{File: "a.wav", OutputChannels: []int{1}, NoteOff: "slow"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefinition_FileForVelocity(t *testing.T) {
	def := Definition{
		VelocityLayers: []VelocityLayer{
			{MinVelocity: 0, MaxVelocity: 63, File: "soft.wav", Gain: 0.5},
			{MinVelocity: 64, MaxVelocity: 127, File: "hard.wav"},
		},
		OutputChannels: []int{1},
	}

	file, gain, ok := def.FileForVelocity(0)
	require.True(t, ok)
	require.Equal(t, "soft.wav", file)
	require.Equal(t, 0.5, gain)

	file, _, ok = def.FileForVelocity(63)
	require.True(t, ok)
	require.Equal(t, "soft.wav", file, "range boundaries are inclusive")

	file, gain, ok = def.FileForVelocity(64)
	require.True(t, ok)
	require.Equal(t, "hard.wav", file)
	require.Equal(t, 1.0, gain, "zero gain defaults to 1.0")

	file, _, ok = def.FileForVelocity(127)
	require.True(t, ok)
	require.Equal(t, "hard.wav", file)
}

func TestDefinition_FileForVelocityGap(t *testing.T) {
	def := Definition{
		VelocityLayers: []VelocityLayer{
			{MinVelocity: 100, MaxVelocity: 127, File: "hard.wav"},
		},
	}
	_, _, ok := def.FileForVelocity(50)
	require.False(t, ok, "velocity outside every layer with no fallback file")

	withFallback := def
	withFallback.File = "default.wav"
	file, _, ok := withFallback.FileForVelocity(50)
	require.True(t, ok)
	require.Equal(t, "default.wav", file)
}

func TestParseBehaviors(t *testing.T) {
	retrigger, err := ParseRetrigger("")
	require.NoError(t, err)
	require.Equal(t, RetriggerCut, retrigger, "cut is the default")

	retrigger, err = ParseRetrigger("polyphonic")
	require.NoError(t, err)
	require.Equal(t, RetriggerPolyphonic, retrigger)

	noteOff, err := ParseNoteOff("")
	require.NoError(t, err)
	require.Equal(t, NoteOffPlayToCompletion, noteOff, "play to completion is the default")

	noteOff, err = ParseNoteOff("fade")
	require.NoError(t, err)
	require.Equal(t, NoteOffFade, noteOff)

	_, err = ParseRetrigger("x")
	require.Error(t, err)
	_, err = ParseNoteOff("x")
	require.Error(t, err)
}

func TestTrigger_Validate(t *testing.T) {
	note := 36
	controller, value := 80, 127
	program := 5

	valid := []Trigger{
		{Sample: "kick", Channel: 10, Note: &note},
		{Sample: "kick", Channel: 1, Controller: &controller, Value: &value},
		{Sample: "kick", Channel: 16, Program: &program},
	}
	for i, tr := range valid {
		require.NoError(t, tr.Validate(), "trigger %d", i)
	}

	badNote := 200
	invalid := []Trigger{
		{Sample: "kick", Channel: 10},                                      // no selector
		{Sample: "kick", Channel: 0, Note: &note},                          // bad channel
		{Sample: "kick", Channel: 17, Note: &note},                         // bad channel
		{Sample: "", Channel: 10, Note: &note},                             // no sample
		{Sample: "kick", Channel: 10, Note: &badNote},                      // bad note
		{Sample: "kick", Channel: 10, Controller: &controller},             // no value
		{Sample: "kick", Channel: 10, Note: &note, Program: &program},      // two selectors
	}
	for i, tr := range invalid {
		require.Error(t, tr.Validate(), "trigger %d", i)
	}
}

func TestConfig_ValidateCrossReferences(t *testing.T) {
	note := 36
	cfg := Config{
		Samples: map[string]Definition{
			"kick": {File: "kick.wav", OutputChannels: []int{1}},
		},
		Triggers: []Trigger{{Sample: "ghost", Channel: 10, Note: &note}},
	}
	require.Error(t, cfg.Validate(), "trigger referencing unknown sample")

	cfg.Triggers[0].Sample = "kick"
	require.NoError(t, cfg.Validate())
}
