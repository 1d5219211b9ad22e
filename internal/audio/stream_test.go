package audio

import (
	"encoding/binary"
	"testing"
)

type constantSource struct{ value int16 }

func (c constantSource) Render(out []int16, frames uint32) {
	for i := range out {
		out[i] = c.value
	}
}

func TestStreamReaderEncodesLittleEndianPCM16(t *testing.T) {
	r := NewStreamReader(constantSource{value: 1000}, 2)
	p := make([]byte, 4*4) // 4 stereo frames
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(p) {
		t.Fatalf("expected %d bytes, got %d", len(p), n)
	}
	for i := 0; i < n; i += 2 {
		got := int16(binary.LittleEndian.Uint16(p[i:]))
		if got != 1000 {
			t.Fatalf("sample at byte %d: expected 1000, got %d", i, got)
		}
	}
}

type finishingSource struct{ constantSource }

func (finishingSource) Finished() bool { return true }

func TestStreamReaderSignalsEOFWhenSourceFinished(t *testing.T) {
	r := NewStreamReader(finishingSource{constantSource{value: 0}}, 2)
	p := make([]byte, 16)
	_, err := r.Read(p)
	if err == nil {
		t.Fatalf("expected io.EOF from a finished source")
	}
}
