// Package tui renders the interactive progress view for `optibatch run`.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"optibatch/internal/job"
	"optibatch/internal/media"
)

const recentLimit = 5

// Controls are the job operations bound to keys.
type Controls interface {
	Pause() error
	Resume(ctx context.Context) error
	Stop() error
}

type Model struct {
	events   <-chan job.Event
	controls Controls
	started  time.Time
	width    int

	state    job.State
	progress job.Progress
	current  string
	recent   []media.ResultRecord
	notice   string
	quitting bool
	done     bool
}

type eventMsg job.Event

type closedMsg struct{}

type actionMsg struct {
	action string
	err    error
}

// NewModel starts from the controller's current status and follows events.
func NewModel(events <-chan job.Event, controls Controls, initial job.Status) Model {
	return Model{
		events:   events,
		controls: controls,
		started:  time.Now(),
		state:    initial.State,
		progress: initial.Progress,
		current:  initial.Current,
	}
}

// Final returns the last observed state and counters.
func (m Model) Final() (job.State, job.Progress) {
	return m.state, m.progress
}

func (m Model) Init() tea.Cmd {
	return listenForEvents(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m.applyEvent(job.Event(msg))
	case closedMsg:
		m.done = true
		return m, tea.Quit
	case actionMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) applyEvent(evt job.Event) (tea.Model, tea.Cmd) {
	m.state = evt.State
	m.progress = evt.Progress
	if evt.Record != nil {
		m.recent = append(m.recent, *evt.Record)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
	}
	switch evt.State {
	case job.StateCompleted:
		m.done = true
		return m, tea.Quit
	case job.StatePaused:
		if m.quitting {
			m.done = true
			return m, tea.Quit
		}
		m.notice = "paused; press p to resume"
	case job.StateQuotaBlocked:
		if m.quitting {
			m.done = true
			return m, tea.Quit
		}
		m.notice = "quota reached; press r to resume once more operations are available"
	case job.StateRunning:
		m.notice = ""
	}
	return m, listenForEvents(m.events)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "p", " ":
		switch m.state {
		case job.StateRunning:
			return m, m.act("pause", func() error { return m.controls.Pause() })
		case job.StatePaused:
			return m, m.resume()
		}
	case "r":
		if m.state.Resumable() {
			return m, m.resume()
		}
	case "s":
		if m.state == job.StateRunning || m.state.Resumable() {
			m.notice = "stopping at next item boundary"
			return m, m.act("stop", func() error { return m.controls.Stop() })
		}
	case "q", "ctrl+c":
		if m.quitting || m.state != job.StateRunning {
			m.done = true
			return m, tea.Quit
		}
		m.quitting = true
		m.notice = "pausing at next item boundary; press q again to quit now"
		return m, m.act("pause", func() error { return m.controls.Pause() })
	}
	return m, nil
}

func (m Model) act(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

func (m Model) resume() tea.Cmd {
	controls := m.controls
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return actionMsg{action: "resume", err: controls.Resume(ctx)}
	}
}

func (m Model) View() string {
	if m.done {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	p := m.progress
	elapsed := time.Since(m.started).Round(time.Second)
	lines := []string{
		titleStyle.Render("optibatch") + dimStyle.Render("  "+string(m.state)),
		barStyle.Render(renderBar(barWidth, p.Percent()/100)) + dimStyle.Render(fmt.Sprintf(" %3.0f%%", p.Percent())),
		labelStyle.Render(fmt.Sprintf("Items: %d/%d", p.CurrentIndex, p.TotalItems)) +
			successStyle.Render(fmt.Sprintf("  ok:%d", p.SuccessCount)) +
			dimStyle.Render(fmt.Sprintf("  skipped:%d", p.SkippedCount)) +
			errorStyle.Render(fmt.Sprintf("  failed:%d", p.ErrorCount)),
		labelStyle.Render(fmt.Sprintf("Saved: %s (~%d%%)", humanize.Bytes(uint64(max(p.TotalSavedBytes, 0))), p.AverageSavings)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
	}
	if len(m.recent) > 0 {
		lines = append(lines, "")
		for i := len(m.recent) - 1; i >= 0; i-- {
			lines = append(lines, renderRecord(m.recent[i]))
		}
	}
	if m.notice != "" {
		lines = append(lines, "", warnStyle.Render(m.notice))
	}
	lines = append(lines, "", dimStyle.Render("p pause/resume · r resume · s stop · q quit"))
	return strings.Join(lines, "\n")
}

func renderRecord(rec media.ResultRecord) string {
	name := rec.Title
	if name == "" {
		name = rec.Filename
	}
	switch rec.Status {
	case media.StatusSuccess:
		return successStyle.Render("✓ ") + labelStyle.Render(name) +
			dimStyle.Render(fmt.Sprintf("  -%s (%d%%)", humanize.Bytes(uint64(max(rec.SavedBytes, 0))), rec.SavingsPercent))
	case media.StatusSkipped:
		return dimStyle.Render("- " + name + "  skipped")
	default:
		return errorStyle.Render("✗ ") + labelStyle.Render(name) + dimStyle.Render("  "+rec.ErrorMessage)
	}
}

func listenForEvents(events <-chan job.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(evt)
	}
}

func renderBar(width int, ratio float64) string {
	if ratio > 1 {
		ratio = 1
	}
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
