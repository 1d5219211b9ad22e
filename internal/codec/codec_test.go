package codec

import (
	"bytes"
	"testing"

	"github.com/cbegin/trackengine-go/internal/event"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []event.SchedulerEvent{
		event.Midi(0, 0x90, 60, 100),
		event.Midi(64, 0x80, 60, 0),
		event.Volume(128, 0.5),
	}
	raw := Encode(events)
	if len(raw) != len(events)*RecordSize {
		t.Fatalf("expected %d bytes, got %d", len(events)*RecordSize, len(raw))
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Fatalf("event %d mismatch: got %+v want %+v", i, got[i], events[i])
		}
	}
}

func TestEncodeDecodeBytesRoundTrip(t *testing.T) {
	events := []event.SchedulerEvent{
		event.Midi(5, 0xB0, 7, 127),
		event.Volume(10, 1.0),
	}
	raw := Encode(events)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	reencoded := Encode(decoded)
	if !bytes.Equal(raw, reencoded) {
		t.Fatalf("encode(decode(bytes)) != bytes")
	}
}

func TestDecodeRejectsTruncatedBatch(t *testing.T) {
	if _, err := Decode(make([]byte, RecordSize+1)); err == nil {
		t.Fatalf("expected error for truncated batch")
	}
}

func TestDecodeRejectsNonChannelVoiceStatus(t *testing.T) {
	raw := Encode([]event.SchedulerEvent{event.Midi(0, 0xF0, 0, 0)})
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected error for non-channel-voice status byte")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw := Encode([]event.SchedulerEvent{event.Midi(0, 0x90, 1, 1)})
	raw[0] = 2 // corrupt the type tag
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected error for unknown type tag")
	}
}
