package scheduler

import (
	"testing"

	"github.com/cbegin/trackengine-go/internal/event"
)

type noopHooks struct{}

func (noopHooks) RenderRange(track event.TrackIndex, offset, frames uint32)            {}
func (noopHooks) Dispatch(track event.TrackIndex, evt event.SchedulerEvent, offset uint32) {}
func (noopHooks) OnRemoveTrack(track event.TrackIndex)                                 {}
func (noopHooks) OnResetTrack(track event.TrackIndex)                                  {}
func (noopHooks) OnEventDropped(track event.TrackIndex, frame event.Frame)             {}

func BenchmarkHandleFrames(b *testing.B) {
	events := make([]event.SchedulerEvent, 0, 64)
	var frame event.Frame
	for i := 0; i < 64; i++ {
		events = append(events, event.Midi(frame, 0x90, byte(60+i%12), 100))
		frame += 2
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := New(noopHooks{})
		track := s.AddTrack()
		s.Play()
		s.ScheduleEvents(track, events)
		s.HandleFrames(track, 128)
	}
}
