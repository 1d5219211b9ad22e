// Package mixer implements the summing, gain-applying render core described
// in spec.md §4.3, transcribed from the original Mixer (original_source/
// android/src/main/cpp/AndroidInstruments/Mixer.h). Where the original is a
// Mixer-is-a-BaseScheduler subclass, this Mixer instead implements
// scheduler.Hooks and is driven by a *scheduler.Scheduler it owns.
package mixer

import (
	"math"
	"sync/atomic"

	"github.com/cbegin/trackengine-go/internal/alog"
	"github.com/cbegin/trackengine-go/internal/event"
	"github.com/cbegin/trackengine-go/internal/instrument"
	"github.com/cbegin/trackengine-go/internal/scheduler"
)

// MaxBlockFrames bounds the number of frames any single Render call may
// request. Track scratch buffers are sized against it at AddTrack time so
// the render path never allocates (spec.md §5).
const MaxBlockFrames = 4096

// DefaultChannelCount is the canonical output layout (spec.md §6.3); the
// original Mixer.h also supports mono via setChannelCount, carried here as
// SetChannelCount for parity even though nothing in this module changes it
// by default.
const DefaultChannelCount = 2

type trackSlot struct {
	instrument instrument.Instrument
	scratch    []float32
	gainBits   atomic.Uint32
}

func newTrackSlot(inst instrument.Instrument, channelCount int) *trackSlot {
	s := &trackSlot{instrument: inst, scratch: make([]float32, MaxBlockFrames*channelCount)}
	s.setGain(1.0)
	return s
}

func (s *trackSlot) setGain(gain float32) { s.gainBits.Store(math.Float32bits(gain)) }
func (s *trackSlot) getGain() float32     { return math.Float32frombits(s.gainBits.Load()) }

type slotArray = [scheduler.MaxTracks]*trackSlot

// Mixer sums per-track instrument output into a single output buffer,
// applying each track's linear gain. It is real-time safe: Render never
// allocates and never blocks, and a panicking instrument only silences its
// own track for the current block (spec.md §7.3) instead of crashing the
// render path.
type Mixer struct {
	scheduler *scheduler.Scheduler
	log       *alog.Ring

	tracks       atomic.Pointer[slotArray]
	channelCount atomic.Int32
	sampleRate   uint32

	// droppedFrames counts frames rendered as silence because an
	// instrument's Render panicked (a HandleMidi panic is logged but not
	// counted here, since it silences no frames). Not in the original
	// Mixer.h; added per spec.md's recoverable-failure design (§7.3) so the
	// failure is at least observable instead of silently swallowed.
	droppedFrames atomic.Uint64
}

// New creates a Mixer with DefaultChannelCount output channels, driving a
// fresh *scheduler.Scheduler the caller can retrieve via Scheduler(). log
// receives CodeDroppedEvent and CodeInstrumentPanic records from the render
// path; it may be nil, in which case those records are simply discarded.
func New(sampleRate uint32, log *alog.Ring) *Mixer {
	m := &Mixer{sampleRate: sampleRate, log: log}
	m.channelCount.Store(DefaultChannelCount)
	m.scheduler = scheduler.New(m)
	var empty slotArray
	m.tracks.Store(&empty)
	return m
}

func (m *Mixer) pushLog(rec alog.Record) {
	if m.log != nil {
		m.log.Push(rec)
	}
}

// Scheduler returns the scheduler this Mixer drives, so an Engine façade can
// forward transport/event control calls to it directly.
func (m *Mixer) Scheduler() *scheduler.Scheduler { return m.scheduler }

// SetChannelCount reconfigures the output layout. Carried over from the
// original Mixer.h's getChannelCount/setChannelCount; canonical use is fixed
// stereo, but nothing here assumes 2 specifically. Must be called before any
// track is added, since track scratch buffers are sized against it.
func (m *Mixer) SetChannelCount(n int) { m.channelCount.Store(int32(n)) }

// ChannelCount reports the current output layout.
func (m *Mixer) ChannelCount() int { return int(m.channelCount.Load()) }

// DroppedFrames returns the cumulative number of frames rendered as silence
// due to a recovered instrument panic.
func (m *Mixer) DroppedFrames() uint64 { return m.droppedFrames.Load() }

// AddTrack allocates a scheduler slot and an RCU track slot wrapping inst,
// returning event.InvalidTrack if the scheduler is full.
func (m *Mixer) AddTrack(inst instrument.Instrument) event.TrackIndex {
	track := m.scheduler.AddTrack()
	if track == event.InvalidTrack {
		return event.InvalidTrack
	}
	channelCount := m.ChannelCount()
	inst.SetOutputFormat(m.sampleRate, channelCount == 2)
	m.storeSlot(track, newTrackSlot(inst, channelCount))
	return track
}

// RemoveTrack detaches the track; the scheduler's OnRemoveTrack hook removes
// the RCU slot.
func (m *Mixer) RemoveTrack(track event.TrackIndex) { m.scheduler.RemoveTrack(track) }

// SetTrackVolumeNow applies a gain change immediately, bypassing the event
// buffer, via Scheduler.HandleEventsNow.
func (m *Mixer) SetTrackVolumeNow(track event.TrackIndex, gain float32) {
	m.scheduler.HandleEventsNow(track, []event.SchedulerEvent{event.Volume(0, gain)})
}

// TrackVolume returns the track's current linear gain, or (0, false) for an
// unknown track.
func (m *Mixer) TrackVolume(track event.TrackIndex) (float32, bool) {
	slot := m.slot(track)
	if slot == nil {
		return 0, false
	}
	return slot.getGain(), true
}

// Render sums numFrames of every active track's instrument output, scaled by
// its gain, into out. out must hold at least numFrames*ChannelCount
// float32s; numFrames must not exceed MaxBlockFrames. Tracks with gain <= 0
// still have HandleFrames called against them -- their buffered events are
// consumed and their instruments rendered into scratch -- but are skipped
// during summation, per the open question resolved in spec.md §9 (the
// original Mixer.h instead skips handleFrames entirely for silent tracks).
func (m *Mixer) Render(out []float32, numFrames uint32) {
	channelCount := m.ChannelCount()
	n := int(numFrames) * channelCount
	for i := 0; i < n; i++ {
		out[i] = 0
	}

	snapshot := m.tracks.Load()
	for i, slot := range snapshot {
		if slot == nil {
			continue
		}
		m.scheduler.HandleFrames(event.TrackIndex(i), numFrames)

		gain := slot.getGain()
		if gain <= 0 {
			continue
		}
		mixIn(out[:n], slot.scratch[:n], gain)
	}
}

func mixIn(out, in []float32, gain float32) {
	if gain == 1 {
		for i := range out {
			out[i] += in[i]
		}
		return
	}
	for i := range out {
		out[i] += in[i] * gain
	}
}

// RenderRange implements scheduler.Hooks: renders numFrames of track's
// instrument into its scratch buffer at offsetFrames, recovering a
// panicking instrument into silence plus a dropped-frames count.
func (m *Mixer) RenderRange(track event.TrackIndex, offsetFrames, numFrames uint32) {
	if numFrames == 0 {
		return
	}
	slot := m.slot(track)
	if slot == nil {
		return
	}
	channelCount := m.ChannelCount()
	start := int(offsetFrames) * channelCount
	end := start + int(numFrames)*channelCount
	buf := slot.scratch[start:end]
	m.safeRender(track, slot, buf, numFrames)
}

func (m *Mixer) safeRender(track event.TrackIndex, slot *trackSlot, buf []float32, numFrames uint32) {
	defer func() {
		if recover() != nil {
			for i := range buf {
				buf[i] = 0
			}
			m.droppedFrames.Add(uint64(numFrames))
			m.pushLog(alog.Record{Code: alog.CodeInstrumentPanic, A: int64(track), B: int64(numFrames)})
		}
	}()
	slot.instrument.Render(buf, numFrames)
}

// Dispatch implements scheduler.Hooks: applies a volume event to the
// track's gain, or forwards a MIDI event to its instrument.
func (m *Mixer) Dispatch(track event.TrackIndex, evt event.SchedulerEvent, offsetFrames uint32) {
	slot := m.slot(track)
	if slot == nil {
		return
	}
	switch evt.Kind {
	case event.KindVolume:
		slot.setGain(evt.Volume.Gain)
	case event.KindMidi:
		m.safeHandleMidi(track, slot, evt.Midi)
	}
}

func (m *Mixer) safeHandleMidi(track event.TrackIndex, slot *trackSlot, p event.MidiPayload) {
	defer func() {
		if recover() != nil {
			m.pushLog(alog.Record{Code: alog.CodeInstrumentPanic, A: int64(track)})
		}
	}()
	slot.instrument.HandleMidi(p.Status, p.Data1, p.Data2)
}

// OnEventDropped implements scheduler.Hooks: records a stale-event drop
// (spec.md §4.2) so it is observable instead of silently discarded.
func (m *Mixer) OnEventDropped(track event.TrackIndex, frame event.Frame) {
	m.pushLog(alog.Record{Code: alog.CodeDroppedEvent, A: int64(track), B: int64(frame)})
}

// OnRemoveTrack implements scheduler.Hooks: detaches the RCU slot.
func (m *Mixer) OnRemoveTrack(track event.TrackIndex) { m.storeSlot(track, nil) }

// OnResetTrack implements scheduler.Hooks: resets the track's instrument.
// Never sends synthetic MIDI (spec.md §9, open question 1).
func (m *Mixer) OnResetTrack(track event.TrackIndex) {
	slot := m.slot(track)
	if slot == nil {
		return
	}
	slot.instrument.Reset()
}

func (m *Mixer) slot(track event.TrackIndex) *trackSlot {
	if track < 0 || int(track) >= scheduler.MaxTracks {
		return nil
	}
	return m.tracks.Load()[track]
}

// storeSlot performs a copy-on-write update of the RCU track array: a reader
// mid-Render always sees either the old or the new array in full, never a
// torn mix of the two.
func (m *Mixer) storeSlot(track event.TrackIndex, slot *trackSlot) {
	for {
		old := m.tracks.Load()
		next := *old
		next[track] = slot
		if m.tracks.CompareAndSwap(old, &next) {
			return
		}
	}
}
