// Package tui is the terminal front end for a chat session: an interactive
// bubbletea program and a line-oriented mode for pipes.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/user/energychat/internal/client"
	"github.com/user/energychat/internal/types"
)

// Controller is the part of client.Session the UI drives.
type Controller interface {
	Send(text string) error
	Stop()
	Retry() error
	Snapshot() client.Snapshot
}

// SnapshotMsg carries a session update into the program.
type SnapshotMsg client.Snapshot

// actionMsg reports the result of a session call made from a command.
type actionMsg struct {
	err error
}

const footerHeight = 3

// Model is the bubbletea model of the chat screen. Session calls run as
// commands, off the event loop, because the session delivers updates back
// through Program.Send.
type Model struct {
	ctrl    Controller
	title   string
	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model
	snap    client.Snapshot
	notice  string
	width   int
	height  int
	ready   bool
}

// New creates the chat screen for ctrl.
func New(ctrl Controller, title string) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Ask about campus energy use..."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = assistantStyle

	return Model{
		ctrl:    ctrl,
		title:   title,
		input:   input,
		view:    viewport.New(0, 0),
		spinner: sp,
		snap:    ctrl.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-footerHeight-1, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh()
		return m, nil

	case SnapshotMsg:
		m.snap = client.Snapshot(msg)
		if m.snap.Status.Busy() {
			m.notice = ""
		}
		m.refresh()
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			ctrl := m.ctrl
			return m, tea.Sequence(func() tea.Msg { ctrl.Stop(); return nil }, tea.Quit)
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if m.snap.Status.Busy() {
				m.notice = "wait for the answer or press esc to stop"
				return m, nil
			}
			m.input.Reset()
			return m, m.call(func() error { return m.ctrl.Send(text) })
		case "esc":
			return m, m.call(func() error { m.ctrl.Stop(); return nil })
		case "ctrl+r":
			return m, m.call(m.ctrl.Retry)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) call(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{err: fn()}
	}
}

// refresh re-renders the conversation and keeps the latest message in view.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(renderMessages(m.snap.Messages, m.width))
	m.view.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		m.view.View(),
		m.statusLine(),
		m.input.View(),
		mutedStyle.Render("enter send • esc stop • ctrl+r regenerate • ctrl+c quit"),
	)
}

func (m Model) statusLine() string {
	switch {
	case m.notice != "":
		return errorStyle.Render(m.notice)
	case m.snap.Status == types.StatusSubmitted:
		return m.spinner.View() + " waiting for " + m.title
	case m.snap.Status == types.StatusStreaming:
		return m.spinner.View() + " " + m.title + " is answering..."
	case m.snap.Status == types.StatusError && m.snap.Err != nil:
		return errorStyle.Render("error: "+m.snap.Err.Error()) + mutedStyle.Render(" (ctrl+r to retry)")
	default:
		return mutedStyle.Render("ready")
	}
}

// Options configures Run.
type Options struct {
	Title         string
	FlushInterval time.Duration
}

// Run starts an interactive session against opener and blocks until the
// user quits.
func Run(opener client.Opener, opts Options) error {
	var p *tea.Program
	sess := client.NewSession(opener, client.Options{
		FlushInterval: opts.FlushInterval,
		OnUpdate: func(s client.Snapshot) {
			p.Send(SnapshotMsg(s))
		},
	})
	defer sess.Close()

	if opts.Title == "" {
		opts.Title = "assistant"
	}
	p = tea.NewProgram(New(sess, opts.Title), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat ui: %w", err)
	}
	return nil
}
