// Command trackdemo schedules a short fixed note sequence on one track and
// plays it through the device audio sink, to exercise internal/engine and
// internal/audio end to end.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cbegin/trackengine-go/internal/audio"
	"github.com/cbegin/trackengine-go/internal/engine"
	"github.com/cbegin/trackengine-go/internal/event"
)

func main() {
	var (
		sampleRate  = flag.Int("sample-rate", engine.SampleRate, "output sample rate")
		programName = flag.String("engine", "fm", "synth engine: fm|chiptune|nesapu|wavetable")
		notesFlag   = flag.String("notes", "60,64,67,72", "comma-separated MIDI note numbers")
		gapFrames   = flag.Uint("gap-frames", 11025, "frames between consecutive note-on events")
		volume      = flag.Float64("volume", 1.0, "track linear gain")
	)
	flag.Parse()

	notes, err := parseNotes(*notesFlag)
	if err != nil {
		log.Fatal(err)
	}
	program, err := parseProgram(*programName)
	if err != nil {
		log.Fatal(err)
	}

	cfg := engine.DefaultConfig()
	cfg.SampleRate = uint32(*sampleRate)
	e := engine.NewEngine(cfg)
	defer e.Close()

	done := make(chan event.TrackIndex, 1)
	e.AddTrackWithProgram(program, func(track event.TrackIndex) { done <- track })
	track := <-done
	if track == event.InvalidTrack {
		log.Fatal("trackdemo: no free track slots")
	}

	e.SetTrackVolume(track, float32(*volume))

	events := make([]event.SchedulerEvent, 0, len(notes)*2)
	var frame event.Frame
	for _, note := range notes {
		events = append(events, event.Midi(frame, 0x90, byte(note), 100))
		events = append(events, event.Midi(frame+event.Frame(*gapFrames)/2, 0x80, byte(note), 0))
		frame += event.Frame(*gapFrames)
	}
	e.ScheduleEvents(track, events)

	player, err := audio.NewPlayer(int(cfg.SampleRate), engine.Channels, e)
	if err != nil {
		log.Fatal(err)
	}
	e.Play()
	player.Play()

	totalDuration := time.Duration(frame) * time.Second / time.Duration(cfg.SampleRate)
	time.Sleep(totalDuration + 250*time.Millisecond)
	player.Stop()
}

func parseNotes(csv string) ([]int, error) {
	parts := strings.Split(csv, ",")
	notes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid note %q: %w", p, err)
		}
		notes = append(notes, n)
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("no notes given")
	}
	return notes, nil
}

func parseProgram(name string) (engine.Program, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fm":
		return engine.ProgramFM, nil
	case "chiptune":
		return engine.ProgramChiptune, nil
	case "nesapu":
		return engine.ProgramNESAPU, nil
	case "wavetable":
		return engine.ProgramWavetable, nil
	default:
		return 0, fmt.Errorf("invalid -engine %q (expected fm|chiptune|nesapu|wavetable)", name)
	}
}
