// internal/samples/voice.go
package samples

import (
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mdwn/mtrack/internal/playsync"
)

// nextVoiceID allocates process-wide unique voice IDs.
var nextVoiceID atomic.Uint64

// Voice is one playing instance of a sample. It holds only a logical
// reference to its mixer source (the ID) plus the cancel primitives the
// mixer shares with it.
type Voice struct {
	id         uint64
	sampleName string

	// triggerNote and triggerChannel match Note Off events; nil channel
	// matches any channel.
	triggerNote    *uint8
	triggerChannel *uint8

	startTime time.Time

	// mixerSourceID identifies the source in the mixer, for diagnostics.
	mixerSourceID uint64

	// cancelHandle stops the voice at the next callback.
	cancelHandle playsync.CancelHandle
	// cancelAt schedules a sample-accurate cut; shared with the mixer's
	// ActiveSource so stores here are visible to the mix loop.
	cancelAt *atomic.Uint64
}

// NewVoice creates a voice for a triggered sample.
func NewVoice(sampleName string, triggerNote, triggerChannel *uint8, mixerSourceID uint64, cancelHandle playsync.CancelHandle, cancelAt *atomic.Uint64) *Voice {
	return &Voice{
		id:             nextVoiceID.Add(1),
		sampleName:     sampleName,
		triggerNote:    triggerNote,
		triggerChannel: triggerChannel,
		startTime:      time.Now(),
		mixerSourceID:  mixerSourceID,
		cancelHandle:   cancelHandle,
		cancelAt:       cancelAt,
	}
}

// MatchesNoteOff reports whether this voice should react to a Note Off
// for the given note and 1-indexed channel.
func (v *Voice) MatchesNoteOff(note, channel uint8) bool {
	if v.triggerNote == nil {
		return false
	}
	if *v.triggerNote != note {
		return false
	}
	if v.triggerChannel == nil {
		return true
	}
	return *v.triggerChannel == channel
}

// CancelHandle returns the voice's cancel handle.
func (v *Voice) CancelHandle() playsync.CancelHandle {
	return v.cancelHandle
}

// CancelAt returns the voice's scheduled-cut atomic.
func (v *Voice) CancelAt() *atomic.Uint64 {
	return v.cancelAt
}

// VoiceManager tracks active voices and enforces polyphony limits.
// Callers hold the engine's lock; the manager itself is not concurrent.
type VoiceManager struct {
	voices       []*Voice
	maxVoices    int
	sampleLimits map[string]int
}

// NewVoiceManager creates a manager with the given global voice limit.
func NewVoiceManager(maxVoices int) *VoiceManager {
	if maxVoices < 1 {
		maxVoices = 1
	}
	return &VoiceManager{
		maxVoices:    maxVoices,
		sampleLimits: make(map[string]int),
	}
}

// SetSampleLimit sets the per-sample voice limit.
func (m *VoiceManager) SetSampleLimit(sampleName string, limit int) {
	m.sampleLimits[sampleName] = limit
}

// AddVoice inserts a voice, applying the retrigger behavior and voice
// limits. Returns the cancelAt atomics of every voice that must stop;
// the caller stores the new voice's start sample into them so old voices
// cut exactly when the new one begins.
func (m *VoiceManager) AddVoice(voice *Voice, retrigger RetriggerBehavior) []*atomic.Uint64 {
	var toStop []*atomic.Uint64

	switch retrigger {
	case RetriggerCut:
		kept := m.voices[:0]
		for _, v := range m.voices {
			if v.sampleName == voice.sampleName {
				toStop = append(toStop, v.cancelAt)
			} else {
				kept = append(kept, v)
			}
		}
		m.voices = kept

	case RetriggerPolyphonic:
		if limit, ok := m.sampleLimits[voice.sampleName]; ok {
			count := 0
			for _, v := range m.voices {
				if v.sampleName == voice.sampleName {
					count++
				}
			}
			if count >= limit {
				if oldest := m.oldestFor(voice.sampleName); oldest != nil {
					toStop = append(toStop, oldest.cancelAt)
					m.removeByID(oldest.id)
					log.Debug("per-sample voice limit reached, stealing oldest",
						"sample", voice.sampleName, "limit", limit)
				}
			}
		}
	}

	if len(m.voices) >= m.maxVoices {
		if oldest := m.oldestFor(""); oldest != nil {
			toStop = append(toStop, oldest.cancelAt)
			m.removeByID(oldest.id)
			log.Warn("global voice limit reached, stealing oldest",
				"max_voices", m.maxVoices)
		}
	}

	m.voices = append(m.voices, voice)
	return toStop
}

// oldestFor returns the oldest voice, optionally restricted to one
// sample. Voice IDs are monotonic, so the lowest ID breaks start-time
// ties deterministically.
func (m *VoiceManager) oldestFor(sampleName string) *Voice {
	var oldest *Voice
	for _, v := range m.voices {
		if sampleName != "" && v.sampleName != sampleName {
			continue
		}
		if oldest == nil || v.startTime.Before(oldest.startTime) ||
			(v.startTime.Equal(oldest.startTime) && v.id < oldest.id) {
			oldest = v
		}
	}
	return oldest
}

func (m *VoiceManager) removeByID(id uint64) {
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.id != id {
			kept = append(kept, v)
		}
	}
	m.voices = kept
}

// RemoveBySourceID drops the voice whose mixer source finished.
func (m *VoiceManager) RemoveBySourceID(sourceID uint64) {
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.mixerSourceID != sourceID {
			kept = append(kept, v)
		}
	}
	m.voices = kept
}

// HandleNoteOff removes voices matching the Note Off whose sample's
// behavior asks for it, and returns their cancel handles. behaviorFor
// resolves a sample name to its configured behavior; Fade currently
// behaves as Stop (no ramp).
func (m *VoiceManager) HandleNoteOff(note, channel uint8, behaviorFor func(sampleName string) NoteOffBehavior) []playsync.CancelHandle {
	var toStop []playsync.CancelHandle
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.MatchesNoteOff(note, channel) && behaviorFor(v.sampleName) != NoteOffPlayToCompletion {
			toStop = append(toStop, v.cancelHandle)
		} else {
			kept = append(kept, v)
		}
	}
	m.voices = kept
	return toStop
}

// ActiveCount returns the number of tracked voices.
func (m *VoiceManager) ActiveCount() int {
	return len(m.voices)
}

// Clear removes every voice and returns their cancel handles.
func (m *VoiceManager) Clear() []playsync.CancelHandle {
	handles := make([]playsync.CancelHandle, 0, len(m.voices))
	for _, v := range m.voices {
		handles = append(handles, v.cancelHandle)
	}
	m.voices = m.voices[:0]
	return handles
}
