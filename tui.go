package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"minutes/clipboard"
	"minutes/hotkey"
	"minutes/log"
	"minutes/session"
	"minutes/waveform"
)

const (
	barRows       = 4
	noticeTimeout = 6 * time.Second
)

// controller is the part of session.Controller the TUI drives.
type controller interface {
	Init()
	Toggle(ctx context.Context) error
	Reset(ctx context.Context) error
	SendTranscript(recipient string) error
}

type noticeExpiredMsg struct{ id int }
type copiedMsg struct{ err error }
type sentMsg struct{}

type tuiModel struct {
	ctx  context.Context
	ctrl controller

	stage      session.Stage
	status     session.Status
	levels     []float64
	transcript string
	startedAt  time.Time
	silent     bool
	device     string
	provider   string
	hotkey     bool

	notice    string
	noticeErr bool
	noticeID  int
	recipient textinput.Model
	editing   bool
	width     int
	height    int
	quitting  bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	textStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	stageStyles = map[session.Stage]lipgloss.Style{
		session.Idle:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		session.Recording: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		session.Paused:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
	stageGlyphs = map[session.Stage]string{
		session.Idle:      "○",
		session.Recording: "●",
		session.Paused:    "‖",
	}
)

func newTUIModel(ctx context.Context, ctrl controller, recipient string, bars int) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "recipient@example.com"
	ti.Prompt = "to: "
	ti.CharLimit = 254
	ti.SetValue(recipient)
	return tuiModel{
		ctx:       ctx,
		ctrl:      ctrl,
		status:    session.Snapshot{}.Status(),
		levels:    waveform.Fill(bars, session.Idle.Baseline()),
		recipient: ti,
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func (m tuiModel) Init() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Init()
		return nil
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recipient.Width = max(msg.Width-8, 10)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case stageMsg:
		m.startedAt = msg.StartedAt
		if msg.Stage != session.Recording {
			m.silent = false
		}
		m.stage = msg.Stage
		m.status = msg.Status

	case barsMsg:
		m.levels = msg.Levels

	case transcriptMsg:
		m.transcript = msg.Text

	case noticeMsg:
		return m.setNotice(msg.Text, true)

	case voiceMsg:
		m.silent = msg.Silent && m.stage == session.Recording

	case deviceMsg:
		m.device = msg.Name

	case copiedMsg:
		if msg.err != nil {
			return m.setNotice("copy failed: "+msg.err.Error(), true)
		}
		return m.setNotice("transcript copied to clipboard", false)

	case sentMsg:
		return m.setNotice("draft opened in your mail client", false)

	case noticeExpiredMsg:
		if msg.id == m.noticeID {
			m.notice = ""
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.editing {
		switch msg.String() {
		case "esc", "tab":
			m.editing = false
			m.recipient.Blur()
			return m, nil
		case "enter":
			m.editing = false
			m.recipient.Blur()
			return m, m.send()
		}
		var cmd tea.Cmd
		m.recipient, cmd = m.recipient.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case " ":
		return m, m.run(m.ctrl.Toggle)
	case "n":
		return m, m.run(m.ctrl.Reset)
	case "tab", "e":
		m.editing = true
		return m, m.recipient.Focus()
	case "enter":
		return m, m.send()
	case "c":
		text := m.transcript
		if strings.TrimSpace(text) == "" {
			return m.setNotice(session.NoTranscriptYet.String(), true)
		}
		return m, func() tea.Msg {
			return copiedMsg{err: clipboard.Copy(text)}
		}
	}
	return m, nil
}

// run executes a controller action off the UI goroutine. Failures reach
// the UI as notices through the sink.
func (m tuiModel) run(action func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := action(ctx); err != nil {
			log.Debugf("tui action: %v", err)
		}
		return nil
	}
}

func (m tuiModel) send() tea.Cmd {
	to := m.recipient.Value()
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.SendTranscript(to); err != nil {
			return nil
		}
		return sentMsg{}
	}
}

func (m tuiModel) setNotice(text string, isErr bool) (tea.Model, tea.Cmd) {
	m.noticeID++
	m.notice = text
	m.noticeErr = isErr
	id := m.noticeID
	return m, tea.Tick(noticeTimeout, func(time.Time) tea.Msg {
		return noticeExpiredMsg{id: id}
	})
}

func (m tuiModel) View() string {
	if m.quitting {
		return ""
	}
	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("minutes") + dimStyle.Render("  "+version) + "\n\n")

	style := stageStyles[m.stage]
	status := stageGlyphs[m.stage] + " " + m.status.Text
	b.WriteString(style.Render(status))
	if !m.startedAt.IsZero() && m.stage != session.Idle {
		b.WriteString(dimStyle.Render("  started " + m.startedAt.Format("3:04 PM")))
	}
	b.WriteString("\n")
	if m.silent {
		b.WriteString(warnStyle.Render("⚠ no voice detected") + "\n")
	}
	b.WriteString("\n")

	b.WriteString(style.Render(renderBars(m.levels, barRows)))
	b.WriteString("\n\n")

	if m.transcript == "" {
		b.WriteString(dimStyle.Render("No transcript yet") + "\n")
	} else {
		lines := wrapText(m.transcript, max(width-2, 10))
		if avail := m.height - 16; avail > 0 && len(lines) > avail {
			lines = lines[len(lines)-avail:]
		}
		for _, line := range lines {
			b.WriteString(textStyle.Render(line) + "\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(m.recipient.View() + "\n")
	if m.notice != "" {
		ns := okStyle
		if m.noticeErr {
			ns = errorStyle
		}
		b.WriteString(ns.Render(m.notice) + "\n")
	}
	b.WriteString("\n")

	var info []string
	if m.device != "" {
		info = append(info, "mic: "+m.device)
	}
	if m.provider != "" {
		info = append(info, m.provider)
	}
	if len(info) > 0 {
		b.WriteString(dimStyle.Render(strings.Join(info, " | ")) + "\n")
	}
	b.WriteString(m.helpLine())
	return b.String()
}

func (m tuiModel) helpLine() string {
	if m.editing {
		return keyStyle.Render("enter") + helpStyle.Render(" send  ") +
			keyStyle.Render("esc") + helpStyle.Render(" done")
	}
	keys := []struct{ key, label string }{
		{"space", strings.ToLower(m.status.Action)},
		{"tab", "recipient"},
		{"enter", "send"},
		{"c", "copy"},
		{"n", "new"},
		{"q", "quit"},
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, keyStyle.Render(k.key)+helpStyle.Render(" "+k.label))
	}
	line := strings.Join(parts, helpStyle.Render("  "))
	if m.hotkey {
		line += helpStyle.Render("  (" + hotkey.Combo + " anywhere)")
	}
	return line
}

var barGlyphs = []rune(" ▁▂▃▄▅▆▇█")

// renderBars draws levels in [0,1] as vertical bars rows characters tall.
func renderBars(levels []float64, rows int) string {
	steps := len(barGlyphs) - 1
	lines := make([]string, rows)
	for r := 0; r < rows; r++ {
		var line strings.Builder
		// r counts from the top row
		base := (rows - 1 - r) * steps
		for _, lv := range levels {
			fill := int(lv*float64(rows*steps) + 0.5)
			cell := min(max(fill-base, 0), steps)
			line.WriteRune(barGlyphs[cell])
		}
		lines[r] = line.String()
	}
	return strings.Join(lines, "\n")
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// break at the last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

func describeProvider(name, language string) string {
	if name == "" {
		return ""
	}
	if language != "" {
		return fmt.Sprintf("%s (%s)", name, language)
	}
	return name
}
