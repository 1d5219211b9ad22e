package scheduler

import (
	"reflect"
	"testing"

	"github.com/cbegin/trackengine-go/internal/event"
)

type renderCall struct {
	offset, frames uint32
}

type dispatchCall struct {
	evt    event.SchedulerEvent
	offset uint32
}

type droppedCall struct {
	track event.TrackIndex
	frame event.Frame
}

type recordingHooks struct {
	renders       []renderCall
	dispatches    []dispatchCall
	removedTracks []event.TrackIndex
	resetTracks   []event.TrackIndex
	dropped       []droppedCall
}

func (h *recordingHooks) RenderRange(track event.TrackIndex, offset, frames uint32) {
	h.renders = append(h.renders, renderCall{offset, frames})
}
func (h *recordingHooks) Dispatch(track event.TrackIndex, evt event.SchedulerEvent, offset uint32) {
	h.dispatches = append(h.dispatches, dispatchCall{evt, offset})
}
func (h *recordingHooks) OnRemoveTrack(track event.TrackIndex) {
	h.removedTracks = append(h.removedTracks, track)
}
func (h *recordingHooks) OnResetTrack(track event.TrackIndex) {
	h.resetTracks = append(h.resetTracks, track)
}
func (h *recordingHooks) OnEventDropped(track event.TrackIndex, frame event.Frame) {
	h.dropped = append(h.dropped, droppedCall{track, frame})
}

func TestAddTrackAllocatesLowestFreeIndex(t *testing.T) {
	s := New(&recordingHooks{})
	a := s.AddTrack()
	b := s.AddTrack()
	if a != 0 || b != 1 {
		t.Fatalf("expected indices 0,1; got %d,%d", a, b)
	}
	s.RemoveTrack(a)
	c := s.AddTrack()
	if c != 0 {
		t.Fatalf("expected reused index 0, got %d", c)
	}
}

func TestAddTrackExhaustion(t *testing.T) {
	s := New(&recordingHooks{})
	for i := 0; i < MaxTracks; i++ {
		if idx := s.AddTrack(); idx == event.InvalidTrack {
			t.Fatalf("unexpected exhaustion at %d", i)
		}
	}
	if s.AddTrack() != event.InvalidTrack {
		t.Fatalf("expected -1 once all slots are used")
	}
}

func TestEventAtPositionFiresAtOffsetZeroOfNextBlock(t *testing.T) {
	hooks := &recordingHooks{}
	s := New(hooks)
	track := s.AddTrack()
	s.Play()
	s.ScheduleEvents(track, []event.SchedulerEvent{event.Midi(128, 0x90, 60, 100)})

	s.HandleFrames(track, 128) // position 0..128; event at 128 is NOT in this block
	if len(hooks.dispatches) != 0 {
		t.Fatalf("expected no dispatch in first block, got %v", hooks.dispatches)
	}
	if s.Position() != 128 {
		t.Fatalf("expected position 128, got %d", s.Position())
	}

	s.HandleFrames(track, 128) // position 128..256
	if len(hooks.dispatches) != 1 || hooks.dispatches[0].offset != 0 {
		t.Fatalf("expected dispatch at offset 0, got %v", hooks.dispatches)
	}
}

func TestEventAtLastFrameOfBlockFiresAtOffsetNMinus1(t *testing.T) {
	hooks := &recordingHooks{}
	s := New(hooks)
	track := s.AddTrack()
	s.Play()
	s.ScheduleEvents(track, []event.SchedulerEvent{event.Midi(127, 0x90, 60, 100)})

	s.HandleFrames(track, 128)
	if len(hooks.dispatches) != 1 || hooks.dispatches[0].offset != 127 {
		t.Fatalf("expected dispatch at offset 127, got %v", hooks.dispatches)
	}
}

func TestLateEventClampsToStartOfBlock(t *testing.T) {
	hooks := &recordingHooks{}
	s := New(hooks)
	track := s.AddTrack()
	s.Play()

	// Advance position to 200 by rendering with no events queued.
	s.HandleFrames(track, 200)
	if s.Position() != 200 {
		t.Fatalf("expected position 200, got %d", s.Position())
	}
	hooks.dispatches = nil
	hooks.renders = nil

	s.ScheduleEvents(track, []event.SchedulerEvent{event.Midi(100, 0x90, 60, 100)})
	s.HandleFrames(track, 128)
	if len(hooks.dispatches) != 1 || hooks.dispatches[0].offset != 0 {
		t.Fatalf("expected clamped dispatch at offset 0, got %v", hooks.dispatches)
	}
}

func TestVeryLateEventIsDropped(t *testing.T) {
	hooks := &recordingHooks{}
	s := New(hooks)
	track := s.AddTrack()
	s.Play()

	s.HandleFrames(track, 2500)
	hooks.dispatches = nil

	s.ScheduleEvents(track, []event.SchedulerEvent{event.Midi(1199, 0x90, 60, 100)})
	s.HandleFrames(track, 128)
	if len(hooks.dispatches) != 0 {
		t.Fatalf("expected event to be dropped, got %v", hooks.dispatches)
	}
	if avail := s.BufferAvailableCount(track); avail != event.DefaultCapacity {
		t.Fatalf("expected buffer drained after drop, got available=%d", avail)
	}
	if len(hooks.dropped) != 1 || hooks.dropped[0] != (droppedCall{track, 1199}) {
		t.Fatalf("expected OnEventDropped hook call for frame 1199, got %v", hooks.dropped)
	}
}

func TestSameFrameEventsDispatchInInsertionOrder(t *testing.T) {
	hooks := &recordingHooks{}
	s := New(hooks)
	track := s.AddTrack()
	s.Play()

	first := event.Midi(10, 0x90, 60, 100)
	second := event.Midi(10, 0x90, 64, 100)
	s.ScheduleEvents(track, []event.SchedulerEvent{first, second})
	s.HandleFrames(track, 128)

	if len(hooks.dispatches) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(hooks.dispatches))
	}
	if hooks.dispatches[0].evt != first || hooks.dispatches[1].evt != second {
		t.Fatalf("expected FIFO order, got %+v", hooks.dispatches)
	}
	if hooks.dispatches[0].offset != 10 || hooks.dispatches[1].offset != 10 {
		t.Fatalf("expected both at offset 10, got %+v", hooks.dispatches)
	}
}

func TestPauseRendersWithoutAdvancingPosition(t *testing.T) {
	hooks := &recordingHooks{}
	s := New(hooks)
	track := s.AddTrack()

	s.HandleFrames(track, 128)
	if s.Position() != 0 {
		t.Fatalf("expected position unchanged while paused, got %d", s.Position())
	}
	if len(hooks.renders) != 1 || hooks.renders[0] != (renderCall{0, 128}) {
		t.Fatalf("expected a single silence render, got %v", hooks.renders)
	}
}

func TestResetTrackClearsBufferWithoutDispatch(t *testing.T) {
	hooks := &recordingHooks{}
	s := New(hooks)
	track := s.AddTrack()
	s.ScheduleEvents(track, []event.SchedulerEvent{event.Midi(0, 0x90, 60, 100)})

	s.ResetTrack(track)
	if !reflect.DeepEqual(hooks.dispatches, []dispatchCall(nil)) {
		t.Fatalf("expected no dispatch from reset, got %v", hooks.dispatches)
	}
	if len(hooks.resetTracks) != 1 || hooks.resetTracks[0] != track {
		t.Fatalf("expected OnResetTrack hook call, got %v", hooks.resetTracks)
	}
	if avail := s.BufferAvailableCount(track); avail != event.DefaultCapacity {
		t.Fatalf("expected buffer cleared, available=%d", avail)
	}
}
