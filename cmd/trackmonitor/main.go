// Command trackmonitor is a small control-side dashboard polling an
// internal/engine.Engine's transport position, last render time, and track
// count, rendered with bubbletea/lipgloss in the style of
// grahamseamans-go-sequence's tui package.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/trackengine-go/internal/engine"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

type tickMsg time.Time

func pollTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	eng      *engine.Engine
	quitting bool
}

func (m model) Init() tea.Cmd { return pollTick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case " ":
			if m.eng.Position() == 0 {
				m.eng.Play()
			}
		case "p":
			m.eng.Pause()
		case "r":
			m.eng.Play()
		}
	case tickMsg:
		return m, pollTick()
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	return fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n\n%s\n",
		labelStyle.Render("position:"), valueStyle.Render(fmt.Sprintf("%d frames", m.eng.Position())),
		labelStyle.Render("last render (us):"), valueStyle.Render(fmt.Sprintf("%d", m.eng.LastRenderTimeUs())),
		labelStyle.Render("tracks:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.eng.TrackCount(), engine.MaxTracks)),
		"p pause · r resume · q quit",
	)
}

func main() {
	sampleRate := flag.Int("sample-rate", engine.SampleRate, "output sample rate")
	flag.Parse()

	cfg := engine.DefaultConfig()
	cfg.SampleRate = uint32(*sampleRate)
	eng := engine.NewEngine(cfg)
	defer eng.Close()
	eng.StartFallbackTimer()

	p := tea.NewProgram(model{eng: eng})
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
