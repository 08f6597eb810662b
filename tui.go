package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"voicecrm/beep"
	"voicecrm/clipboard"
	"voicecrm/coordinator"
	"voicecrm/encoder"
	"voicecrm/history"
	"voicecrm/log"
	"voicecrm/recording"
	"voicecrm/upload"
)

// TUI message types
type stateMsg coordinator.State
type toggledMsg struct {
	task *upload.Task
	err  error
}
type completedMsg upload.Outcome
type tickMsg time.Time

type tuiModel struct {
	app           *app
	state         coordinator.State
	frame         int
	width, height int
	toggling      bool // ToggleRecord in progress
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	tabActive     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Padding(0, 1)
	tabInactive   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	textStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	customerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

// newTUIProgram builds the program and subscribes it to coordinator changes.
// Coordinator calls must never run inside Update: Send blocks until the
// event loop reads the message.
func newTUIProgram(a *app) *tea.Program {
	m := tuiModel{app: a, state: a.coord.State()}
	p := tea.NewProgram(m, tea.WithAltScreen())
	a.coord.OnChange(func(s coordinator.State) { p.Send(stateMsg(s)) })
	return p
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case stateMsg:
		m.state = coordinator.State(msg)

	case toggledMsg:
		m.toggling = false
		switch {
		case msg.err != nil:
			beep.PlayError()
		case msg.task != nil:
			beep.PlayEnd()
			return m, m.waitUpload(msg.task)
		default:
			beep.PlayStart()
		}

	case completedMsg:
		if msg.Err != nil && !msg.Stale {
			beep.PlayError()
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := m.app
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ", "r":
		if m.toggling {
			return m, nil
		}
		m.toggling = true
		return m, func() tea.Msg {
			task, err := a.coord.ToggleRecord(context.Background())
			return toggledMsg{task: task, err: err}
		}
	case "h", "tab", "2":
		return m, func() tea.Msg {
			a.coord.OpenHistory(context.Background())
			return nil
		}
	case "esc", "1":
		return m, func() tea.Msg {
			a.coord.OpenRecord()
			return nil
		}
	case "p":
		return m, func() tea.Msg {
			previewArtifact(a)
			return nil
		}
	case "c":
		if !m.state.HasResult || m.state.Result.Transcription == "" {
			return m, nil
		}
		text := m.state.Result.Transcription
		return m, func() tea.Msg {
			if err := clipboard.Copy(text); err != nil {
				log.Warnf("clipboard copy: %v", err)
				a.coord.Notify(coordinator.NoticeError, "Could not copy to clipboard.")
				return nil
			}
			a.coord.Notify(coordinator.NoticeInfo, "Copied to clipboard.")
			return nil
		}
	}
	return m, nil
}

func (m tuiModel) waitUpload(task *upload.Task) tea.Cmd {
	a := m.app
	return func() tea.Msg {
		out := task.Wait()
		a.coord.Complete(out)
		return completedMsg(out)
	}
}

// previewArtifact plays the held recording back through the output device.
func previewArtifact(a *app) {
	art, ok := a.session.Artifact()
	if !ok {
		return
	}
	if art.MediaType() != encoder.MediaTypeFLAC {
		a.coord.Notify(coordinator.NoticeError, "Preview is only available for "+encoder.MediaTypeFLAC+".")
		return
	}
	samples, rate, channels, err := encoder.DecodeFlac(art.Bytes())
	if err != nil {
		log.Warnf("preview decode: %v", err)
		a.coord.Notify(coordinator.NoticeError, "Recording could not be decoded.")
		return
	}
	if err := a.audio.Play(samples, rate, channels); err != nil {
		log.Warnf("preview playback: %v", err)
		a.coord.Notify(coordinator.NoticeError, "Playback failed.")
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	width := min(m.width-4, 100)

	var lines []string
	lines = append(lines, renderHeader(m.state.View), "")
	if m.state.View == coordinator.HistoryView {
		lines = append(lines, renderHistory(m.state, m.app.cfg.UI.SnippetWidth, m.frame)...)
	} else {
		lines = append(lines, renderRecord(m.state, width, m.frame)...)
	}

	if n := renderNotice(m.state.Notice); n != "" {
		lines = append(lines, "", n)
	}
	lines = append(lines, "", renderHelp(m.state))

	content := strings.Join(lines, "\n")
	return lipgloss.NewStyle().Padding(1, 2).Render(content)
}

func renderHeader(view coordinator.ViewMode) string {
	rec, hist := tabInactive, tabInactive
	if view == coordinator.HistoryView {
		hist = tabActive
	} else {
		rec = tabActive
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("voicecrm "),
		rec.Render("1 Record"),
		hist.Render("2 History"),
	)
}

func renderRecord(s coordinator.State, width, frame int) []string {
	var lines []string

	switch s.Recording {
	case recording.Recording:
		elapsed := time.Since(s.RecordingSince).Seconds()
		lines = append(lines, recStyle.Render(fmt.Sprintf("● REC %.1fs", elapsed)))
	case recording.Stopped:
		status := "■ STOPPED"
		if s.HasArtifact {
			status += fmt.Sprintf("  %.1f KB %s", float64(s.ArtifactBytes)/1024, s.ArtifactType)
		}
		lines = append(lines, dimStyle.Render(status))
	default:
		lines = append(lines, dimStyle.Render("○ READY"))
	}

	if s.Processing == upload.InFlight {
		spin := spinnerFrames[frame%len(spinnerFrames)]
		lines = append(lines, "", textStyle.Render(spin+" Processing voice input..."))
	}

	if !s.HasResult {
		return lines
	}
	lines = append(lines, "", labelStyle.Render("Transcription"))
	text := strings.TrimSpace(s.Result.Transcription)
	if text == "" {
		lines = append(lines, dimStyle.Render("(no speech detected)"))
	} else {
		for _, l := range wrapText(text, width) {
			lines = append(lines, textStyle.Render(l))
		}
	}

	if name := s.Result.CustomerName(); name != "" {
		lines = append(lines, "", labelStyle.Render("Customer ")+customerStyle.Render(name))
	}
	if data := formatExtracted(s.Result.ExtractedData); data != "" {
		lines = append(lines, "", labelStyle.Render("Extracted data"))
		for _, l := range strings.Split(data, "\n") {
			lines = append(lines, dimStyle.Render(l))
		}
	}
	return lines
}

// formatExtracted pretty-prints the raw extracted_data object. Invalid JSON
// is shown as received.
func formatExtracted(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func renderHistory(s coordinator.State, snippetWidth, frame int) []string {
	if s.HistoryLoading {
		spin := spinnerFrames[frame%len(spinnerFrames)]
		return []string{textStyle.Render(spin + " Loading history...")}
	}
	if len(s.History) == 0 {
		return []string{dimStyle.Render("No recordings yet.")}
	}
	return strings.Split(historyTable(s.History, snippetWidth).Render(), "\n")
}

func historyTable(records []history.Record, snippetWidth int) *table.Table {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			formatTimestamp(r),
			r.Snippet(snippetWidth),
			r.CustomerName,
			r.Status,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Timestamp", "Transcription Snippet", "Customer Name", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return labelStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// formatTimestamp renders the local time of day of a record.
func formatTimestamp(r history.Record) string {
	if !r.HasTimestamp {
		return history.Placeholder
	}
	return r.Timestamp.Local().Format("15:04:05")
}

func renderNotice(n coordinator.Notice) string {
	switch n.Level {
	case coordinator.NoticeError:
		return errorStyle.Render("✗ " + n.Text)
	case coordinator.NoticeInfo:
		return infoStyle.Render("✓ " + n.Text)
	}
	return ""
}

func renderHelp(s coordinator.State) string {
	key := func(k, what string) string {
		return helpKeyStyle.Render(k) + helpStyle.Render(" "+what)
	}
	recordAction := "record"
	if s.Recording == recording.Recording {
		recordAction = "stop"
	}
	parts := []string{key("space", recordAction)}
	if s.View == coordinator.HistoryView {
		parts = append(parts, key("h", "refresh"), key("esc", "back"))
	} else {
		parts = append(parts, key("h", "history"))
		if s.HasArtifact {
			parts = append(parts, key("p", "preview"))
		}
		if s.HasResult && s.Result.Transcription != "" {
			parts = append(parts, key("c", "copy"))
		}
	}
	parts = append(parts, key("q", "quit"))
	return strings.Join(parts, helpStyle.Render("  ·  ")) + "\n" + helpStyle.Render("voicecrm "+version)
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	runes := []rune(text)
	var lines []string
	for len(runes) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
