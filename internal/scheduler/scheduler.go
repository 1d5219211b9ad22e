// Package scheduler implements the frame-accurate per-track event dispatch
// loop described in spec.md §4.2, transcribed from the original
// BaseScheduler::handleFrames (original_source/ios/Classes/Scheduler/BaseScheduler.cpp).
package scheduler

import (
	"sync/atomic"

	"github.com/cbegin/trackengine-go/internal/event"
)

// StaleThreshold is the number of frames an event may be in the past before
// it is dropped rather than clamped to "now" (spec.md §4.2, §6.3).
const StaleThreshold event.Frame = 1024

// MaxTracks bounds the track-index array-of-slots. 64 is the documented
// limit in the original source (spec.md §6.3); the scheduler itself does
// not depend on this number beyond sizing the slot array.
const MaxTracks = 64

// Hooks lets a Scheduler's owner (the Mixer) provide the render and
// dispatch behavior that the frame-slicing algorithm below is agnostic to.
// This replaces the original design's single-inheritance Mixer-is-a-
// BaseScheduler relationship (spec.md §9) with composition: Scheduler owns
// the transport and event-buffer bookkeeping, Hooks owns instruments.
type Hooks interface {
	// RenderRange renders numFrames of audio for track into its scratch
	// buffer starting at offsetFrames. Called with numFrames == 0 is a
	// valid no-op per spec.md §4.2.
	RenderRange(track event.TrackIndex, offsetFrames, numFrames uint32)
	// Dispatch delivers one event to the track's instrument or gain at
	// offsetFrames within the current block.
	Dispatch(track event.TrackIndex, evt event.SchedulerEvent, offsetFrames uint32)
	// OnRemoveTrack is called once a track's buffer has been detached.
	OnRemoveTrack(track event.TrackIndex)
	// OnResetTrack is called once a track's buffer has been cleared. It
	// must not itself emit MIDI events (spec.md §9, open question 1).
	OnResetTrack(track event.TrackIndex)
	// OnEventDropped is called when a queued event is discarded for being
	// more than StaleThreshold frames in the past, rather than clamped
	// (spec.md §4.2).
	OnEventDropped(track event.TrackIndex, frame event.Frame)
}

type trackState struct {
	active      bool
	buffer      *event.Buffer
	hasRendered bool
}

// Scheduler owns per-track event buffers, the shared transport position,
// and the is_playing flag. It drives Hooks to do the actual rendering and
// event dispatch.
type Scheduler struct {
	hooks  Hooks
	tracks [MaxTracks]trackState

	isPlaying        atomic.Bool
	position         atomic.Uint64
	lastRenderTimeUs atomic.Uint64
}

// New creates a Scheduler backed by the given Hooks.
func New(hooks Hooks) *Scheduler {
	return &Scheduler{hooks: hooks}
}

// AddTrack finds the lowest free track index, allocates an EventBuffer for
// it, and returns the index. It returns event.InvalidTrack if all MaxTracks
// slots are occupied.
func (s *Scheduler) AddTrack() event.TrackIndex {
	for i := range s.tracks {
		if !s.tracks[i].active {
			s.tracks[i] = trackState{active: true, buffer: event.NewBuffer(event.DefaultCapacity)}
			return event.TrackIndex(i)
		}
	}
	return event.InvalidTrack
}

// RemoveTrack detaches the track's buffer and invokes the OnRemoveTrack
// hook. It is a no-op for an invalid or already-removed index.
func (s *Scheduler) RemoveTrack(track event.TrackIndex) {
	ts, ok := s.track(track)
	if !ok {
		return
	}
	s.tracks[track] = trackState{}
	_ = ts
	s.hooks.OnRemoveTrack(track)
}

// HandleEventsNow dispatches events immediately at frame offset 0 of the
// current block, without buffering them.
func (s *Scheduler) HandleEventsNow(track event.TrackIndex, events []event.SchedulerEvent) {
	if _, ok := s.track(track); !ok {
		return
	}
	for _, e := range events {
		s.hooks.Dispatch(track, e, 0)
	}
}

// ScheduleEvents appends events to the track's buffer and returns the
// number accepted (spec.md §4.1).
func (s *Scheduler) ScheduleEvents(track event.TrackIndex, events []event.SchedulerEvent) uint32 {
	ts, ok := s.track(track)
	if !ok {
		return 0
	}
	return ts.buffer.Append(events)
}

// ClearEvents removes queued events with Frame >= fromFrame.
func (s *Scheduler) ClearEvents(track event.TrackIndex, fromFrame event.Frame) {
	ts, ok := s.track(track)
	if !ok {
		return
	}
	ts.buffer.ClearAfter(fromFrame)
}

// ResetTrack clears the track's event buffer and invokes OnResetTrack. Per
// spec.md §9 (open question 1), this never synthesizes MIDI all-notes-off;
// the instrument itself is responsible for silencing voices in its Reset.
func (s *Scheduler) ResetTrack(track event.TrackIndex) {
	ts, ok := s.track(track)
	if !ok {
		return
	}
	ts.buffer.Clear()
	s.hooks.OnResetTrack(track)
}

// BufferAvailableCount returns the track's remaining event-buffer capacity,
// or 0 for an invalid track.
func (s *Scheduler) BufferAvailableCount(track event.TrackIndex) uint32 {
	ts, ok := s.track(track)
	if !ok {
		return 0
	}
	return ts.buffer.Available()
}

// Play sets is_playing.
func (s *Scheduler) Play() { s.isPlaying.Store(true) }

// Pause clears is_playing. The next block renders silence-equivalent
// output for every track (spec.md §5); instruments keep responding to
// HandleEventsNow in the meantime.
func (s *Scheduler) Pause() { s.isPlaying.Store(false) }

// IsPlaying reports the transport's play/pause state.
func (s *Scheduler) IsPlaying() bool { return s.isPlaying.Load() }

// Position returns the current transport position in frames.
func (s *Scheduler) Position() event.Frame { return s.position.Load() }

// RecordRenderTime stores the wall-clock time (microseconds since epoch) of
// the most recently started render block. Called by the Mixer/Engine at
// the top of a render, per spec.md §4.5.
func (s *Scheduler) RecordRenderTime(us uint64) { s.lastRenderTimeUs.Store(us) }

// LastRenderTimeUs returns the wall-clock time recorded by RecordRenderTime.
func (s *Scheduler) LastRenderTimeUs() uint64 { return s.lastRenderTimeUs.Load() }

func (s *Scheduler) track(track event.TrackIndex) (*trackState, bool) {
	if track < 0 || int(track) >= len(s.tracks) || !s.tracks[track].active {
		return nil, false
	}
	return &s.tracks[track], true
}

// HandleFrames is the core per-block, per-track algorithm (spec.md §4.2).
// It slices [0, numFrames) at each queued event's frame offset, rendering
// audio up to the event, dispatching the event, and repeating, until the
// remainder of the block is rendered with no more due events. Events more
// than StaleThreshold frames in the past are dropped; events up to
// StaleThreshold frames late are clamped to the start of this block. Once
// every active track has rendered this block, the transport position
// advances by numFrames (unless a concurrent SetPosition-style mutation
// already changed it during this call).
func (s *Scheduler) HandleFrames(track event.TrackIndex, numFrames uint32) {
	if !s.isPlaying.Load() {
		s.hooks.RenderRange(track, 0, numFrames)
		return
	}

	ts, ok := s.track(track)
	if !ok {
		return
	}

	originalPosition := s.position.Load()
	start := originalPosition
	last := start
	var rendered uint32

	for {
		evt, ok := ts.buffer.Peek()
		if !ok {
			break
		}
		ef := evt.Frame
		if ef < start {
			if ef+StaleThreshold < start {
				s.hooks.OnEventDropped(track, ef)
				ts.buffer.Pop()
				continue
			}
			ef = start
		}

		gap64 := ef - last
		if uint64(rendered)+gap64 >= uint64(numFrames) {
			break
		}
		gap := uint32(gap64)

		s.hooks.RenderRange(track, rendered, gap)
		rendered += gap
		last = ef

		s.hooks.Dispatch(track, evt, rendered)
		ts.buffer.Pop()
	}

	s.hooks.RenderRange(track, rendered, numFrames-rendered)
	ts.hasRendered = true

	allRendered := true
	for i := range s.tracks {
		if s.tracks[i].active && !s.tracks[i].hasRendered {
			allRendered = false
			break
		}
	}
	if allRendered {
		if s.position.Load() == originalPosition {
			s.position.Store(start + event.Frame(numFrames))
		}
		for i := range s.tracks {
			if s.tracks[i].active {
				s.tracks[i].hasRendered = false
			}
		}
	}
}
