package instrument

import (
	"math"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/trackengine-go/internal/chiptune"
	"github.com/cbegin/trackengine-go/internal/fm"
	"github.com/cbegin/trackengine-go/internal/nesapu"
	"github.com/cbegin/trackengine-go/internal/wavetable"
)

// synthCore is the subset of the teacher's four synthesis engines that Voice
// actually drives. It is satisfied structurally by *fm.Engine, *chiptune.Engine,
// *nesapu.Engine and *wavetable.Engine without any of them needing to know
// about this package.
type synthCore interface {
	NoteOn(note, velocity, pan, program int) int
	NoteOff(id int)
	RenderFrame() (float32, float32)
	SetMasterGain(gain float64)
	ActiveVoiceCount() int
}

// bendRangeSemitones is the coarse pitch-bend range applied to the note
// number of the next NoteOn on a channel. None of the four synthesis cores
// expose a live pitch-bend/glide API; spec.md §1 puts real soundfont/SFZ
// engines with proper bend support out of scope, so this is a deliberately
// approximate stand-in rather than a sample-accurate glide.
const bendRangeSemitones = 2

// Voice adapts one of the teacher's polyphonic synthesis cores to the
// Instrument interface, translating MIDI 1.0 channel voice messages into the
// core's NoteOn/NoteOff/RenderFrame calls.
type Voice struct {
	core   synthCore
	stereo bool

	active    map[uint16]int  // (channel<<8|note) -> core voice id
	pan       map[uint8]int   // per-channel last CC10 value, 0-127
	pitchBend map[uint8]int16 // per-channel last 14-bit bend, centered at 8192
}

// NewFMVoice wraps a freshly constructed FM synthesis core.
func NewFMVoice(sampleRate int) *Voice {
	return newVoice(fm.New(sampleRate, fm.DefaultParams()))
}

// NewChiptuneVoice wraps a freshly constructed chiptune synthesis core.
func NewChiptuneVoice(sampleRate int) *Voice {
	return newVoice(chiptune.New(sampleRate, chiptune.DefaultParams()))
}

// NewNESAPUVoice wraps a freshly constructed NES APU synthesis core.
func NewNESAPUVoice(sampleRate int) *Voice {
	return newVoice(nesapu.New(sampleRate, nesapu.DefaultParams()))
}

// NewWavetableVoice wraps a freshly constructed wavetable synthesis core.
func NewWavetableVoice(sampleRate int) *Voice {
	return newVoice(wavetable.New(sampleRate, wavetable.DefaultParams()))
}

func newVoice(core synthCore) *Voice {
	return &Voice{
		core:      core,
		active:    make(map[uint16]int),
		pan:       make(map[uint8]int),
		pitchBend: make(map[uint8]int16),
	}
}

func (v *Voice) SetOutputFormat(sampleRate uint32, stereo bool) bool {
	// The underlying core's sample rate is fixed at construction; per
	// spec.md §1 instruments never resample their own output, so a mismatch
	// here is a configuration error on the caller's part, not something
	// Voice can correct. stereo is honored in Render.
	v.stereo = stereo
	return true
}

func (v *Voice) Render(out []float32, frames uint32) {
	if v.stereo {
		for i := uint32(0); i < frames; i++ {
			l, r := v.core.RenderFrame()
			out[i*2] = l
			out[i*2+1] = r
		}
		return
	}
	for i := uint32(0); i < frames; i++ {
		l, r := v.core.RenderFrame()
		out[i] = (l + r) * 0.5
	}
}

func (v *Voice) HandleMidi(status, data1, data2 byte) {
	msg := midi.Message([]byte{status, data1, data2})

	var channel, key, velocity, controller, value uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		if velocity == 0 {
			v.noteOff(channel, key)
		} else {
			v.noteOn(channel, key, velocity)
		}
	case msg.GetNoteOff(&channel, &key, &velocity):
		v.noteOff(channel, key)
	case msg.GetControlChange(&channel, &controller, &value):
		if controller == 10 { // pan
			v.pan[channel] = int(value)
		}
	case status&0xF0 == 0xE0:
		channel = status & 0x0F
		v.pitchBend[channel] = int16(uint16(data2)<<7 | uint16(data1))
	}
}

func (v *Voice) Reset() {
	for _, id := range v.active {
		v.core.NoteOff(id)
	}
	v.active = make(map[uint16]int)
	v.pan = make(map[uint8]int)
	v.pitchBend = make(map[uint8]int16)
}

func (v *Voice) noteOn(channel, note, velocity uint8) {
	pan := 64
	if p, ok := v.pan[channel]; ok {
		pan = p
	}
	targetNote := int(note) + v.bendSemitones(channel)
	id := v.core.NoteOn(targetNote, int(velocity), pan-64, 0)
	v.active[voiceKey(channel, note)] = id
}

func (v *Voice) noteOff(channel, note uint8) {
	k := voiceKey(channel, note)
	if id, ok := v.active[k]; ok {
		v.core.NoteOff(id)
		delete(v.active, k)
	}
}

func (v *Voice) bendSemitones(channel uint8) int {
	raw, ok := v.pitchBend[channel]
	if !ok {
		return 0
	}
	norm := (float64(raw) - 8192) / 8192
	return int(math.Round(norm * bendRangeSemitones))
}

func voiceKey(channel, note uint8) uint16 {
	return uint16(channel)<<8 | uint16(note)
}
