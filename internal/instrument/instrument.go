// Package instrument defines the Instrument contract the Mixer renders
// through (spec.md §4.4) and a handful of concrete implementations: a
// Silence instrument, and Voice, an adapter that turns one of the four
// synthesis cores (FM, chiptune, NES APU, wavetable) into a MIDI-driven
// Instrument. The real SoundFont/SFZ sample players
// these stand in for are explicitly out of scope (spec.md §1); Voice exists
// so the scheduler/mixer core has concrete, testable collaborators.
package instrument

// Instrument is the contract the Mixer renders tracks through. Real
// synthesis engines (SoundFont, SFZ samplers) are accessed only behind this
// interface (spec.md §1, §4.4).
type Instrument interface {
	// SetOutputFormat configures the instrument for the engine's sample
	// rate and channel layout. It returns false if the instrument cannot
	// honor the requested format; per spec.md §1, instruments never
	// resample their own output.
	SetOutputFormat(sampleRate uint32, stereo bool) bool

	// Render writes frames*channels interleaved float32 samples to out.
	// Must write silence if uninitialized, and must not allocate.
	Render(out []float32, frames uint32)

	// HandleMidi processes one MIDI 1.0 channel voice message.
	HandleMidi(status, data1, data2 byte)

	// Reset silences all voices and returns the instrument to its initial
	// state. Called by Scheduler.ResetTrack's OnResetTrack hook; the
	// scheduler itself never synthesizes MIDI to do this (spec.md §9).
	Reset()
}
