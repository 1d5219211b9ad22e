package instrument

// Silence is the trivial Instrument variant: it ignores every MIDI message
// and always renders zeros. Useful as a placeholder track and in tests that
// want a mixer slot with no audio contribution.
type Silence struct{}

func (Silence) SetOutputFormat(sampleRate uint32, stereo bool) bool { return true }

func (Silence) Render(out []float32, frames uint32) {
	for i := range out {
		out[i] = 0
	}
}

func (Silence) HandleMidi(status, data1, data2 byte) {}

func (Silence) Reset() {}
