package instrument

import "testing"

func TestSilenceRendersZeros(t *testing.T) {
	s := Silence{}
	out := make([]float32, 8)
	for i := range out {
		out[i] = 1
	}
	s.Render(out, 4)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("index %d: expected 0, got %v", i, v)
		}
	}
}

func TestVoiceNoteOnNoteOffTracksActiveVoice(t *testing.T) {
	v := NewFMVoice(44100)
	v.HandleMidi(0x90, 60, 100) // note on, channel 0
	if len(v.active) != 1 {
		t.Fatalf("expected one active voice, got %d", len(v.active))
	}
	v.HandleMidi(0x80, 60, 0) // note off, channel 0
	if len(v.active) != 0 {
		t.Fatalf("expected zero active voices after note off, got %d", len(v.active))
	}
}

func TestVoiceNoteOnVelocityZeroActsAsNoteOff(t *testing.T) {
	v := NewChiptuneVoice(44100)
	v.HandleMidi(0x90, 64, 100)
	if len(v.active) != 1 {
		t.Fatalf("expected one active voice, got %d", len(v.active))
	}
	v.HandleMidi(0x90, 64, 0) // note-on with velocity 0 == note off
	if len(v.active) != 0 {
		t.Fatalf("expected zero active voices, got %d", len(v.active))
	}
}

func TestVoiceResetSilencesAllTrackedVoices(t *testing.T) {
	v := NewNESAPUVoice(44100)
	v.HandleMidi(0x90, 60, 100)
	v.HandleMidi(0x91, 64, 90) // channel 1
	if len(v.active) != 2 {
		t.Fatalf("expected two active voices, got %d", len(v.active))
	}
	v.Reset()
	if len(v.active) != 0 {
		t.Fatalf("expected Reset to clear all tracked voices, got %d", len(v.active))
	}
}

func TestVoiceRenderMonoWithNoNotesDoesNotPanic(t *testing.T) {
	v := NewWavetableVoice(44100)
	v.SetOutputFormat(44100, false)
	out := make([]float32, 16)
	v.Render(out, 16) // no notes active: must not panic
}

func TestVoiceRenderStereoWithNoNotesDoesNotPanic(t *testing.T) {
	v := NewFMVoice(44100)
	v.SetOutputFormat(44100, true)
	out := make([]float32, 8) // 4 frames * 2 channels
	v.Render(out, 4)
}

func TestVoicePitchBendIsTrackedPerChannel(t *testing.T) {
	v := NewFMVoice(44100)
	v.HandleMidi(0xE0, 0, 127) // channel 0, near max bend
	if _, ok := v.pitchBend[0]; !ok {
		t.Fatalf("expected pitch bend recorded for channel 0")
	}
	v.HandleMidi(0x90, 60, 100)
	if len(v.active) != 1 {
		t.Fatalf("expected note on to still register a voice with bend applied")
	}
}

func TestVoiceControlChangePanIsTrackedPerChannel(t *testing.T) {
	v := NewChiptuneVoice(44100)
	v.HandleMidi(0xB0, 10, 20) // CC10 pan, channel 0
	if v.pan[0] != 20 {
		t.Fatalf("expected pan 20 recorded, got %d", v.pan[0])
	}
}
