// Package alog is the audio-thread-safe logger spec.md §9 requires: the
// render path may never format a string or take a lock, so it posts fixed
//-size records into a lock-free single-producer/single-consumer ring, and a
// control-thread Drain call turns those records into the timestamped,
// category-tagged lines the teacher's debug package writes
// (_examples/grahamseamans-go-sequence/debug/log.go), just without the
// mutex or the direct fmt.Sprintf call on the hot path.
package alog

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Code identifies the situation a Record describes. Kept as a small integer
// rather than a pre-formatted string so the producer never allocates.
type Code uint8

const (
	// CodeDroppedEvent: a scheduled event was more than the stale threshold
	// in the past and was discarded instead of clamped.
	CodeDroppedEvent Code = iota
	// CodeInstrumentPanic: an instrument's Render or HandleMidi panicked
	// and was recovered; A holds the track index, B the frame count.
	CodeInstrumentPanic
	// CodeTrackAddFailed: AddTrack was called with no free slots.
	CodeTrackAddFailed
	// CodeDeviceFallback: the audio device failed to open or stalled, and
	// playback fell back to the timer-driven renderer (spec.md §4.5, §7.4).
	CodeDeviceFallback
)

func (c Code) String() string {
	switch c {
	case CodeDroppedEvent:
		return "dropped-event"
	case CodeInstrumentPanic:
		return "instrument-panic"
	case CodeTrackAddFailed:
		return "track-add-failed"
	case CodeDeviceFallback:
		return "device-fallback"
	default:
		return "unknown"
	}
}

// Record is a fixed-size, allocation-free log entry. A, B, C are
// code-specific payload fields (e.g. track index, frame count) rather than
// a pre-rendered message string.
type Record struct {
	Code    Code
	A, B, C int64
}

const capacity = 256

// Ring is a single-producer/single-consumer record queue. The producer
// (render path) calls Push; the consumer (control thread) calls Drain
// periodically. A full ring drops the newest record rather than blocking --
// an unreported condition is preferable to stalling the audio thread.
type Ring struct {
	buf  [capacity]Record
	head atomic.Uint64 // consumer-owned
	tail atomic.Uint64 // producer-owned
}

// Push posts a record from the render path. Never allocates, never blocks,
// never formats a string.
func (r *Ring) Push(rec Record) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail-head >= capacity {
		return // ring full: drop rather than stall the audio thread
	}
	r.buf[tail%capacity] = rec
	r.tail.Store(tail + 1)
}

// Drain moves every currently-queued record to out, in FIFO order, clearing
// the ring. Intended to be called from the control thread only.
func (r *Ring) Drain(out *Logger) {
	tail := r.tail.Load()
	head := r.head.Load()
	for head < tail {
		out.write(r.buf[head%capacity])
		head++
	}
	r.head.Store(head)
}

// Logger writes drained records to a file in the same timestamp-prefixed,
// category-tagged line format as the teacher's debug.Log.
type Logger struct {
	file *os.File
}

// NewLogger opens path for append, creating the file if it does not exist;
// its parent directory must already exist. A nil *Logger's write is a
// silent no-op so a disabled logger costs nothing on Drain.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("alog: opening log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) write(rec Record) {
	if l == nil || l.file == nil {
		return
	}
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %-16s a=%d b=%d c=%d\n", ts, rec.Code, rec.A, rec.B, rec.C)
}
