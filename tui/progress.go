// Package tui renders per-topic download progress in the terminal.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type startMsg struct {
	topic string
	total int
}

type advanceMsg struct {
	topic string
}

type finishMsg struct {
	topic string
	saved int
	err   error
}

type doneMsg struct{}

type topicState struct {
	total    int
	saved    int
	finished bool
	err      error
}

// ProgressModel shows one bar per topic, in the order topics were given.
type ProgressModel struct {
	topics   []string
	state    map[string]*topicState
	bar      progress.Model
	cancel   context.CancelFunc
	labelW   int
	quitting bool
	done     bool
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	countStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// NewProgressModel builds the model. cancel is called when the user
// interrupts and may be nil.
func NewProgressModel(topics []string, cancel context.CancelFunc) ProgressModel {
	state := make(map[string]*topicState, len(topics))
	width := 0
	for _, t := range topics {
		state[t] = &topicState{}
		width = max(width, lipgloss.Width(t))
	}
	return ProgressModel{
		topics: topics,
		state:  state,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel: cancel,
		labelW: width,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEscape:
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(60, msg.Width-m.labelW-20))
	case startMsg:
		if s, ok := m.state[msg.topic]; ok {
			s.total = msg.total
		}
	case advanceMsg:
		if s, ok := m.state[msg.topic]; ok {
			s.saved++
		}
	case finishMsg:
		if s, ok := m.state[msg.topic]; ok {
			s.saved = msg.saved
			s.finished = true
			s.err = msg.err
		}
	case doneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tinydata") + "\n\n")
	for _, topic := range m.topics {
		s := m.state[topic]
		pct := 0.0
		if s.total > 0 {
			pct = min(1, float64(s.saved)/float64(s.total))
		}
		label := labelStyle.Render(topic + strings.Repeat(" ", m.labelW-lipgloss.Width(topic)))
		line := fmt.Sprintf("%s  %s  %s", label, m.bar.ViewAs(pct), countStyle.Render(fmt.Sprintf("%d/%d", s.saved, s.total)))
		switch {
		case s.err != nil:
			line += "  " + errorStyle.Render("✗ "+s.err.Error())
		case s.finished:
			line += "  " + successStyle.Render("✓")
		}
		b.WriteString(line + "\n")
	}
	if m.quitting {
		b.WriteString("\n" + errorStyle.Render("Interrupted") + "\n")
	}
	return b.String()
}

// Reporter forwards pipeline progress into a running program.
type Reporter struct {
	program *tea.Program
}

func (r *Reporter) Start(topic string, total int) {
	r.program.Send(startMsg{topic: topic, total: total})
}

func (r *Reporter) Advance(topic string) {
	r.program.Send(advanceMsg{topic: topic})
}

func (r *Reporter) Finish(topic string, saved int, err error) {
	r.program.Send(finishMsg{topic: topic, saved: saved, err: err})
}

// Run shows progress for topics on out while work runs. work receives a
// Reporter and a context that is cancelled if the user interrupts.
func Run(ctx context.Context, out io.Writer, topics []string, work func(ctx context.Context, r *Reporter) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(topics, cancel), tea.WithContext(ctx), tea.WithOutput(out))
	rep := &Reporter{program: p}

	errCh := make(chan error, 1)
	go func() {
		err := work(ctx, rep)
		p.Send(doneMsg{})
		errCh <- err
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-errCh
		return fmt.Errorf("progress display failed: %w", err)
	}
	return <-errCh
}
