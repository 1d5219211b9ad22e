// Package engine implements the process-scoped Engine façade (spec.md §6.1,
// §4.5): the method set a future cgo boundary would wrap, and the owner of
// the Mixer and the fallback timer thread. The audio device sink
// (internal/audio) is created separately and pulls Render itself.
package engine

import (
	"sync"
	"time"

	"github.com/cbegin/trackengine-go/internal/alog"
	"github.com/cbegin/trackengine-go/internal/event"
	"github.com/cbegin/trackengine-go/internal/instrument"
	"github.com/cbegin/trackengine-go/internal/mixer"
)

// Canonical configuration constants (spec.md §6.3).
const (
	SampleRate  = 44100
	Channels    = 2
	BlockFrames = 128
	MaxTracks   = 64
)

// Program selects which stand-in synthesis core an AddTrack* call attaches,
// since real SoundFont/SFZ engines are out of scope (spec.md §1).
type Program int

const (
	ProgramFM Program = iota
	ProgramChiptune
	ProgramNESAPU
	ProgramWavetable
)

// Config parameterizes an Engine away from the canonical constants above,
// per the teacher's Default*()-constructor option pattern
// (internal/fm.DefaultParams, player.go's PlayerOption).
type Config struct {
	SampleRate  uint32
	Channels    int
	BlockFrames uint32
	LogPath     string // empty disables audio-thread log draining
}

// DefaultConfig returns the canonical spec.md §6.3 configuration.
func DefaultConfig() Config {
	return Config{SampleRate: SampleRate, Channels: Channels, BlockFrames: BlockFrames}
}

// Engine owns the Mixer, the fallback timer thread, and the audio-thread log
// ring. Control-thread methods are safe to call concurrently with an
// in-flight render; AddTrack* load instruments on a detached goroutine and
// only hand the finished Instrument to the Mixer once ready (spec.md §5).
type Engine struct {
	cfg    Config
	mixer  *mixer.Mixer
	log    alog.Ring
	logger *alog.Logger

	closeOnce sync.Once
	startOnce sync.Once
	stopTimer chan struct{}
	started   bool
	wg        sync.WaitGroup

	// renderScratch is the Render-path float32 staging buffer, grown once
	// and reused rather than allocated per call (spec.md §5: the audio
	// thread must not allocate), mirroring internal/audio.StreamReader.buf.
	renderScratch []float32
}

// NewEngine constructs an Engine. The fallback timer thread (spec.md §4.5,
// §7.4) is not started automatically -- exactly one of StartFallbackTimer
// or a real device sink (internal/audio.NewPlayer, which pulls Render
// itself) may drive the render path at a time; running both concurrently
// would call Render from two goroutines at once, which the scheduler and
// mixer assume never happens.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg, stopTimer: make(chan struct{})}
	m := mixer.New(cfg.SampleRate, &e.log)
	m.SetChannelCount(cfg.Channels)
	e.mixer = m

	if cfg.LogPath != "" {
		if l, err := alog.NewLogger(cfg.LogPath); err == nil {
			e.logger = l
		}
	}
	return e
}

// StartFallbackTimer begins rendering on a wall-clock tick so the transport
// keeps advancing and scheduled events still dispatch with no device
// callback attached. Idempotent; a caller that instead drives Render from a
// real device sink should never call this.
func (e *Engine) StartFallbackTimer() {
	e.startOnce.Do(func() {
		e.started = true
		e.wg.Add(1)
		go e.fallbackTimer()
	})
}

// Close stops the fallback timer, if running, and releases the log file.
// Idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.started {
			close(e.stopTimer)
			e.wg.Wait()
		}
		e.log.Drain(e.logger)
		err = e.logger.Close()
	})
	return err
}

// fallbackTimer renders a block on a wall-clock tick so the transport keeps
// advancing and scheduled events still dispatch even with no device
// callback attached (spec.md §4.5, §7.4). A real device sink supersedes
// this by calling Render itself at its own callback rate; this goroutine
// simply discards the samples it produces.
func (e *Engine) fallbackTimer() {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.BlockFrames) * time.Second / time.Duration(e.cfg.SampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scratch := make([]float32, e.cfg.BlockFrames*uint32(e.cfg.Channels))
	for {
		select {
		case <-e.stopTimer:
			return
		case <-ticker.C:
			e.mixer.Scheduler().RecordRenderTime(uint64(time.Now().UnixMicro()))
			e.mixer.Render(scratch, e.cfg.BlockFrames)
			e.log.Drain(e.logger)
		}
	}
}

// Render produces one block of PCM16 little-endian device-format audio,
// the format internal/audio's stream adapter ultimately writes to the
// device. frames must not exceed mixer.MaxBlockFrames. This is the hot
// audio-callback path (reached from internal/audio.StreamReader.Read on
// every pull from the device sink) and must not allocate, so renderScratch
// is grown once and reused rather than allocated per call.
func (e *Engine) Render(out []int16, frames uint32) {
	e.mixer.Scheduler().RecordRenderTime(uint64(time.Now().UnixMicro()))

	n := int(frames) * e.cfg.Channels
	if cap(e.renderScratch) < n {
		e.renderScratch = make([]float32, n)
	}
	scratch := e.renderScratch[:n]
	e.mixer.Render(scratch, frames)
	for i, v := range scratch {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(v * 32767)
	}
}

func newVoice(program Program, sampleRate uint32) instrument.Instrument {
	switch program {
	case ProgramChiptune:
		return instrument.NewChiptuneVoice(int(sampleRate))
	case ProgramNESAPU:
		return instrument.NewNESAPUVoice(int(sampleRate))
	case ProgramWavetable:
		return instrument.NewWavetableVoice(int(sampleRate))
	default:
		return instrument.NewFMVoice(int(sampleRate))
	}
}

// AddTrackSF2 loads the stand-in FM-synthesis instrument asynchronously,
// on a detached worker goroutine, and hands it to the Mixer only once ready
// (spec.md §5); cb receives the new track index, or event.InvalidTrack on
// failure. path is accepted for interface parity with the original SF2
// loader but is not read: real SoundFont parsing is out of scope (spec.md §1).
func (e *Engine) AddTrackSF2(path string, cb func(event.TrackIndex)) {
	e.addTrackAsync(ProgramFM, cb)
}

// AddTrackSFZ mirrors AddTrackSF2 for the wavetable stand-in.
func (e *Engine) AddTrackSFZ(path string, cb func(event.TrackIndex)) {
	e.addTrackAsync(ProgramWavetable, cb)
}

// AddTrackSFZString mirrors AddTrackSFZ for callers that already have SFZ
// text in memory rather than a path, but attaches the chiptune stand-in;
// sfzText is likewise unused.
func (e *Engine) AddTrackSFZString(sfzText string, cb func(event.TrackIndex)) {
	e.addTrackAsync(ProgramChiptune, cb)
}

// AddTrackWithProgram is a convenience entry point beyond spec.md §6.1's
// three named loaders, letting a caller pick any of the four stand-in
// synthesis cores directly (the NES APU core has no dedicated AddTrack*
// loader of its own).
func (e *Engine) AddTrackWithProgram(program Program, cb func(event.TrackIndex)) {
	e.addTrackAsync(program, cb)
}

func (e *Engine) addTrackAsync(program Program, cb func(event.TrackIndex)) {
	go func() {
		voice := newVoice(program, e.cfg.SampleRate)
		track := e.mixer.AddTrack(voice)
		if track == event.InvalidTrack {
			e.log.Push(alog.Record{Code: alog.CodeTrackAddFailed})
		}
		if cb != nil {
			cb(track)
		}
	}()
}

// RemoveTrack detaches a track.
func (e *Engine) RemoveTrack(track event.TrackIndex) { e.mixer.RemoveTrack(track) }

// ResetTrack clears a track's event buffer and resets its instrument.
func (e *Engine) ResetTrack(track event.TrackIndex) { e.mixer.Scheduler().ResetTrack(track) }

// TrackVolume returns a track's current linear gain.
func (e *Engine) TrackVolume(track event.TrackIndex) (float32, bool) { return e.mixer.TrackVolume(track) }

// SetTrackVolume applies a gain change immediately (the original Android
// Mixer.h's setLevel), bypassing the event buffer.
func (e *Engine) SetTrackVolume(track event.TrackIndex, gain float32) {
	e.mixer.SetTrackVolumeNow(track, gain)
}

// Position returns the current transport position in frames.
func (e *Engine) Position() event.Frame { return e.mixer.Scheduler().Position() }

// LastRenderTimeUs returns the wall-clock microsecond timestamp of the most
// recently started render block.
func (e *Engine) LastRenderTimeUs() uint64 { return e.mixer.Scheduler().LastRenderTimeUs() }

// BufferAvailableCount returns a track's remaining event-buffer capacity.
func (e *Engine) BufferAvailableCount(track event.TrackIndex) uint32 {
	return e.mixer.Scheduler().BufferAvailableCount(track)
}

// HandleEventsNow dispatches events immediately, bypassing the event buffer.
func (e *Engine) HandleEventsNow(track event.TrackIndex, events []event.SchedulerEvent) {
	e.mixer.Scheduler().HandleEventsNow(track, events)
}

// ScheduleEvents appends frame-ordered events to a track's buffer, returning
// the number accepted.
func (e *Engine) ScheduleEvents(track event.TrackIndex, events []event.SchedulerEvent) uint32 {
	return e.mixer.Scheduler().ScheduleEvents(track, events)
}

// ClearEvents removes a track's queued events at or after fromFrame. The
// caller is responsible for not calling this concurrently with
// ScheduleEvents on the same track (spec.md §9.2, §9, open question 2).
func (e *Engine) ClearEvents(track event.TrackIndex, fromFrame event.Frame) {
	e.mixer.Scheduler().ClearEvents(track, fromFrame)
}

// Play starts the transport.
func (e *Engine) Play() { e.mixer.Scheduler().Play() }

// Pause stops the transport; queued events remain buffered.
func (e *Engine) Pause() { e.mixer.Scheduler().Pause() }

// TrackCount reports how many of MaxTracks slots currently hold a track,
// for use by a monitor UI; it is not itself part of spec.md §6.1.
func (e *Engine) TrackCount() int {
	n := 0
	for i := event.TrackIndex(0); i < MaxTracks; i++ {
		if _, ok := e.mixer.TrackVolume(i); ok {
			n++
		}
	}
	return n
}
