package alog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRingPushDrainPreservesFIFOOrder(t *testing.T) {
	var r Ring
	r.Push(Record{Code: CodeDroppedEvent, A: 1})
	r.Push(Record{Code: CodeInstrumentPanic, A: 2})

	path := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	r.Drain(logger)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "dropped-event") || !strings.Contains(lines[0], "a=1") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "instrument-panic") || !strings.Contains(lines[1], "a=2") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
}

func TestRingDropsWhenFull(t *testing.T) {
	var r Ring
	for i := 0; i < capacity+10; i++ {
		r.Push(Record{Code: CodeDroppedEvent, A: int64(i)})
	}
	if r.tail.Load()-r.head.Load() != capacity {
		t.Fatalf("expected ring to cap at %d pending records, got %d", capacity, r.tail.Load()-r.head.Load())
	}
}

func TestNilLoggerDrainIsNoop(t *testing.T) {
	var r Ring
	r.Push(Record{Code: CodeTrackAddFailed})
	var l *Logger
	r.Drain(l) // must not panic
}
