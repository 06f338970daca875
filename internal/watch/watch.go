// Package watch provides the interactive terminal dashboard: a live
// list of managed terminals with their activity state, a pane preview,
// and direct text injection.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Styles
var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Row is one terminal's display record.
type Row struct {
	ID       string
	Name     string
	Feature  string
	Category string
	Active   bool
	Idle     bool
}

// statusLabel renders the activity column for a row.
func (r Row) statusLabel() string {
	switch {
	case r.Active:
		return activeStyle.Render("active")
	case r.Idle:
		return dimStyle.Render("idle")
	default:
		// Between states: burst pending or grace period.
		return pendingStyle.Render("~")
	}
}

// Backend is the slice of the provider the dashboard needs.
type Backend interface {
	// Snapshot lists the current terminals with their activity state.
	Snapshot(ctx context.Context) ([]Row, error)
	// Preview captures the visible buffer of one terminal.
	Preview(ctx context.Context, id string) (string, error)
	// Send types a command line into one terminal.
	Send(ctx context.Context, id, text string) error
	// Jump surfaces one terminal in the multiplexer.
	Jump(ctx context.Context, id string) error
}

// view mode
type viewMode int

const (
	modeList viewMode = iota
	modeFilter
	modeSend
)

// messages
type snapshotMsg struct {
	rows []Row
	err  error
}

type previewMsg struct {
	id   string
	text string
	err  error
}

type tickMsg struct{}

// TUI runs the interactive dashboard.
type TUI struct {
	Backend         Backend
	RefreshInterval time.Duration // 0 disables auto-refresh
}

// model implements tea.Model
type tuiModel struct {
	backend         Backend
	ctx             context.Context
	refreshInterval time.Duration

	rows     []Row
	filtered []int // indices into rows, after filter
	cursor   int   // index into filtered

	mode       viewMode
	filter     textinput.Model
	filterText string
	send       textinput.Model
	sendTarget string

	preview   string
	previewID string

	width  int
	height int

	loading bool
	message string
}

func (t *TUI) Run(ctx context.Context) error {
	filter := textinput.New()
	filter.Placeholder = "Filter terminals..."
	filter.CharLimit = 128
	filter.Width = 40

	send := textinput.New()
	send.Placeholder = "Type command and press Enter..."
	send.CharLimit = 2048
	send.Width = 80

	m := &tuiModel{
		backend:         t.Backend,
		ctx:             ctx,
		refreshInterval: t.RefreshInterval,
		filter:          filter,
		send:            send,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *tuiModel) Init() tea.Cmd {
	m.loading = true
	return m.doSnapshot()
}

// scheduleTick returns a tea.Cmd that sends a tickMsg after the refresh
// interval. Returns nil if auto-refresh is disabled (interval <= 0).
func (m *tuiModel) scheduleTick() tea.Cmd {
	if m.refreshInterval <= 0 {
		return nil
	}
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *tuiModel) doSnapshot() tea.Cmd {
	backend := m.backend
	ctx := m.ctx
	return func() tea.Msg {
		rows, err := backend.Snapshot(ctx)
		return snapshotMsg{rows: rows, err: err}
	}
}

func (m *tuiModel) doPreview(id string) tea.Cmd {
	backend := m.backend
	ctx := m.ctx
	return func() tea.Msg {
		text, err := backend.Preview(ctx, id)
		return previewMsg{id: id, text: text, err: err}
	}
}

// applyFilter rebuilds the filtered index list from the current filter
// text. Matching is fuzzy over "name feature" so typing either works.
func (m *tuiModel) applyFilter() {
	m.filtered = m.filtered[:0]
	for i, r := range m.rows {
		if m.filterText == "" || fuzzy.MatchNormalizedFold(m.filterText, r.Name+" "+r.Feature) {
			m.filtered = append(m.filtered, i)
		}
	}
	if m.cursor >= len(m.filtered) {
		m.cursor = len(m.filtered) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// selectedRow returns the row under the cursor, or nil.
func (m *tuiModel) selectedRow() *Row {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return nil
	}
	return &m.rows[m.filtered[m.cursor]]
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		m.loading = false
		if msg.err != nil {
			m.message = fmt.Sprintf("Refresh error: %v", msg.err)
		} else {
			m.rows = msg.rows
			m.applyFilter()
		}
		var cmds []tea.Cmd
		if r := m.selectedRow(); r != nil && r.ID != m.previewID {
			cmds = append(cmds, m.doPreview(r.ID))
		}
		if cmd := m.scheduleTick(); cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case previewMsg:
		if msg.err != nil {
			m.preview = ""
			m.previewID = ""
			return m, nil
		}
		// Pane captures carry color escapes; strip them so the preview
		// column's own styling stays intact.
		m.previewID = msg.id
		m.preview = ansi.Strip(msg.text)
		return m, nil

	case tickMsg:
		if m.loading || m.mode == modeSend {
			return m, m.scheduleTick()
		}
		m.loading = true
		return m, m.doSnapshot()
	}

	return m, nil
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeList:
		return m.handleListKey(msg)
	case modeFilter:
		return m.handleFilterKey(msg)
	case modeSend:
		return m.handleSendKey(msg)
	}
	return m, nil
}

func (m *tuiModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			if r := m.selectedRow(); r != nil {
				return m, m.doPreview(r.ID)
			}
		}

	case "down", "j":
		if m.cursor < len(m.filtered)-1 {
			m.cursor++
			if r := m.selectedRow(); r != nil {
				return m, m.doPreview(r.ID)
			}
		}

	case "enter":
		if r := m.selectedRow(); r != nil {
			if err := m.backend.Jump(m.ctx, r.ID); err != nil {
				m.message = fmt.Sprintf("Jump failed: %v", err)
			} else {
				m.message = fmt.Sprintf("Jumped to %s", r.ID)
			}
		}
		return m, nil

	case "/":
		m.mode = modeFilter
		m.filter.SetValue(m.filterText)
		m.filter.Focus()
		return m, textinput.Blink

	case "t":
		if r := m.selectedRow(); r != nil {
			m.mode = modeSend
			m.sendTarget = r.ID
			m.send.SetValue("")
			m.send.Focus()
			return m, textinput.Blink
		}
		return m, nil

	case "esc", "escape":
		if m.filterText != "" {
			m.filterText = ""
			m.applyFilter()
		}
		return m, nil

	case "r":
		m.loading = true
		m.message = ""
		return m, m.doSnapshot()
	}

	return m, nil
}

func (m *tuiModel) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "escape":
		m.mode = modeList
		m.filter.Blur()
		return m, nil

	case "enter":
		m.filterText = m.filter.Value()
		m.mode = modeList
		m.filter.Blur()
		m.applyFilter()
		if r := m.selectedRow(); r != nil {
			return m, m.doPreview(r.ID)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	// Live filtering as the user types.
	m.filterText = m.filter.Value()
	m.applyFilter()
	return m, cmd
}

func (m *tuiModel) handleSendKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "escape":
		m.mode = modeList
		m.sendTarget = ""
		m.send.Blur()
		return m, nil

	case "enter":
		text := m.send.Value()
		if text != "" && m.sendTarget != "" {
			if err := m.backend.Send(m.ctx, m.sendTarget, text); err != nil {
				m.message = fmt.Sprintf("Send failed: %v", err)
			} else {
				m.message = fmt.Sprintf("Sent '%s' to %s", truncate(text, 40), m.sendTarget)
			}
		}
		m.mode = modeList
		m.sendTarget = ""
		m.send.Blur()
		m.loading = true
		return m, m.doSnapshot()
	}

	var cmd tea.Cmd
	m.send, cmd = m.send.Update(msg)
	return m, cmd
}

func (m *tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	if m.mode == modeSend {
		return m.viewSend()
	}
	return m.viewList()
}

func (m *tuiModel) viewList() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("termkeeper"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render("Enter=jump  t=type  /=filter  r=refresh  q=quit"))
	if m.loading {
		b.WriteString("  ")
		b.WriteString(pendingStyle.Render("refreshing..."))
	}
	b.WriteString("\n")

	if m.mode == modeFilter {
		b.WriteString("  / " + m.filter.View())
		b.WriteString("\n")
	} else if m.filterText != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  filter: %s (Esc clears)", m.filterText)))
		b.WriteString("\n")
	}

	if len(m.filtered) == 0 {
		if m.loading {
			b.WriteString("  Listing terminals...\n")
		} else {
			b.WriteString("  No terminals.\n")
		}
		return b.String()
	}

	// Layout widths: list | preview
	nameWidth := 16
	for _, r := range m.rows {
		if len(r.Name)+10 > nameWidth {
			nameWidth = len(r.Name) + 10
		}
	}
	separator := " | "
	previewWidth := m.width - nameWidth - len(separator)
	if previewWidth < 20 {
		previewWidth = 20
	}

	panelHeight := m.height - 4
	if panelHeight < 3 {
		panelHeight = 3
	}

	previewLines := strings.Split(m.preview, "\n")
	if len(previewLines) > panelHeight {
		// Keep the tail: the bottom of the pane is the live part.
		previewLines = previewLines[len(previewLines)-panelHeight:]
	}

	sep := headerStyle.Render(separator)
	active := 0
	for row := 0; row < panelHeight; row++ {
		var nameCol string
		if row < len(m.filtered) {
			r := m.rows[m.filtered[row]]
			if r.Active {
				active++
			}
			label := fmt.Sprintf("%s %s", r.statusLabel(), r.Name)
			if row == m.cursor {
				nameCol = selectedStyle.Render(padRight("→ "+stripStyled(label), nameWidth))
			} else {
				nameCol = padRight("  "+label, nameWidth)
			}
		} else {
			nameCol = padRight("", nameWidth)
		}

		previewCol := ""
		if row < len(previewLines) {
			previewCol = truncate(previewLines[row], previewWidth)
		}

		b.WriteString(nameCol)
		b.WriteString(sep)
		b.WriteString(previewCol)
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("  %d terminals | %d shown", len(m.rows), len(m.filtered))
	b.WriteString(dimStyle.Render(summary))
	b.WriteString("\n")

	if m.message != "" {
		b.WriteString(statusStyle.Render("  " + m.message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m *tuiModel) viewSend() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Send Command"))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("  ─────────────────────────────────────────"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Target: %s\n", m.sendTarget))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  Enter=send  Escape=cancel"))
	b.WriteString("\n\n")
	b.WriteString("  " + m.send.View())
	b.WriteString("\n")

	return b.String()
}

// stripStyled removes escape sequences so a styled label can be
// re-rendered inside the selection style without nesting resets.
func stripStyled(s string) string {
	return ansi.Strip(s)
}

// truncate cuts a string to at most maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// padRight pads a string with spaces to reach the desired visible width.
func padRight(s string, width int) string {
	visible := ansi.StringWidth(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}
