// Package codec converts the packed byte stream submitted by control-side
// callers into typed event.SchedulerEvent values, and back.
//
// Wire format (spec.md §6.2), little-endian, fixed-size records
// concatenated into a batch:
//
//	offset 0  : u8    type     (0 = MIDI, 1 = VOLUME)
//	offset 1  : u32   frame
//	offset 5  : u8[N] payload  (N=3 for MIDI: status,d1,d2; N=4 for VOLUME: f32 gain)
//
// Per spec.md §9.3 this layout is a reconstruction — the original
// control-side encoder was not part of the retrieved source — so RecordSize
// and the type tags are this package's own contract: Encode/Decode round-
// trip against each other rather than against an external wire format.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cbegin/trackengine-go/internal/event"
)

const (
	typeMidi   byte = 0
	typeVolume byte = 1

	// RecordSize is the size in bytes of one packed event record.
	RecordSize = 1 + 4 + 4
)

// Decode parses a batch of packed event records into SchedulerEvents.
// A batch whose length is not a multiple of RecordSize is rejected up front
// with an error and no events. Malformed records (unknown type tag, or a MIDI
// status byte outside the 0x80-0xEF channel-voice range) stop decoding at
// that record and return an error; events decoded before the bad record are
// still returned so a caller can decide whether a partial batch is useful.
func Decode(raw []byte) ([]event.SchedulerEvent, error) {
	if len(raw)%RecordSize != 0 {
		return nil, fmt.Errorf("codec: %d bytes is not a multiple of the %d-byte record size", len(raw), RecordSize)
	}
	count := len(raw) / RecordSize
	events := make([]event.SchedulerEvent, 0, count)
	for i := 0; i < count; i++ {
		rec := raw[i*RecordSize : (i+1)*RecordSize]
		typ := rec[0]
		frame := event.Frame(binary.LittleEndian.Uint32(rec[1:5]))
		payload := rec[5:9]

		switch typ {
		case typeMidi:
			status, d1, d2 := payload[0], payload[1], payload[2]
			if !isChannelVoiceStatus(status) {
				return events, fmt.Errorf("codec: record %d: status byte 0x%02X is not a MIDI 1.0 channel voice message", i, status)
			}
			events = append(events, event.Midi(frame, status, d1, d2))
		case typeVolume:
			bits := binary.LittleEndian.Uint32(payload)
			gain := math.Float32frombits(bits)
			events = append(events, event.Volume(frame, gain))
		default:
			return events, fmt.Errorf("codec: record %d: unknown event type tag %d", i, typ)
		}
	}
	return events, nil
}

// Encode packs events into a batch of fixed-size records in wire format.
func Encode(events []event.SchedulerEvent) []byte {
	out := make([]byte, len(events)*RecordSize)
	for i, e := range events {
		rec := out[i*RecordSize : (i+1)*RecordSize]
		binary.LittleEndian.PutUint32(rec[1:5], uint32(e.Frame))
		switch e.Kind {
		case event.KindMidi:
			rec[0] = typeMidi
			rec[5] = e.Midi.Status
			rec[6] = e.Midi.Data1
			rec[7] = e.Midi.Data2
		case event.KindVolume:
			rec[0] = typeVolume
			binary.LittleEndian.PutUint32(rec[5:9], math.Float32bits(e.Volume.Gain))
		}
	}
	return out
}

// isChannelVoiceStatus reports whether status is a MIDI 1.0 channel voice
// message (0x80-0xEF). Finer classification (note on/off, CC, pitch bend)
// happens downstream in internal/instrument, which uses
// gitlab.com/gomidi/midi/v2 to decode the full 3-byte message once an
// Instrument actually needs channel/key/velocity/bend values; the codec
// only needs to reject bytes that can never be a channel voice message
// (system common/realtime, 0xF0-0xFF).
func isChannelVoiceStatus(status byte) bool {
	return status >= 0x80 && status <= 0xEF
}
