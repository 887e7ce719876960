// Package settings provides the interactive editor for the connection
// settings (API key, model, base URL). Changes are only persisted on an
// explicit save, and always as a whole.
package settings

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/ui"
)

// SaveFunc persists a complete settings value.
type SaveFunc func(model.Settings) error

// ClosedMsg is emitted when an embedded editor is dismissed.
type ClosedMsg struct {
	Saved bool
}

type viewState int

const (
	stateBrowsing viewState = iota
	stateEditing
	stateConfirmQuit
)

var editableKeys = []string{"model", "base_url", config.APIKeyEnv}

// Model is the bubbletea model for the settings editor.
type Model struct {
	fields     []config.FieldInfo
	baseline   model.Settings
	cursor     int
	state      viewState
	input      textinput.Model
	errMsg     string
	statusMsg  string
	width      int
	height     int
	showHelp   bool
	saved      bool
	standalone bool
	save       SaveFunc
}

// New builds an editor seeded from cfg. save is called with the full
// settings value when the user saves.
func New(cfg config.Config, save SaveFunc) Model {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 60

	all := config.EffectiveFields(cfg)
	fields := make([]config.FieldInfo, 0, len(editableKeys))
	for _, key := range editableKeys {
		for _, f := range all {
			if f.Key == key {
				fields = append(fields, f)
			}
		}
	}

	m := Model{
		fields: fields,
		input:  ti,
		save:   save,
	}
	m.baseline = m.Current()
	return m
}

// Run launches the editor as its own full-screen program.
func Run(cfg config.Config, save SaveFunc) error {
	m := New(cfg, save)
	m.standalone = true
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Current returns the settings value currently shown in the editor.
func (m Model) Current() model.Settings {
	var s model.Settings
	for _, f := range m.fields {
		switch f.Key {
		case "model":
			s.Model = strings.TrimSpace(f.Value)
		case "base_url":
			s.BaseURL = strings.TrimSpace(f.Value)
		case config.APIKeyEnv:
			s.APIKey = strings.TrimSpace(f.Value)
		}
	}
	return s
}

// Dirty reports whether there are unsaved edits.
func (m Model) Dirty() bool {
	return m.Current() != m.baseline
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(contentWidth(msg.Width)-4, 20)
		return m, nil
	case tea.KeyMsg:
		if m.state != stateEditing && (msg.String() == "?" || msg.String() == "ctrl+k") {
			m.showHelp = !m.showHelp
			return m, nil
		}
		switch m.state {
		case stateEditing:
			return m.handleEditingKey(msg)
		case stateConfirmQuit:
			return m.handleConfirmQuitKey(msg)
		default:
			return m.handleBrowsingKey(msg)
		}
	}

	if m.state == stateEditing {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleBrowsingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		if m.Dirty() {
			m.state = stateConfirmQuit
			m.errMsg = ""
			m.statusMsg = ""
			return m, nil
		}
		return m, m.close()
	case "ctrl+c":
		return m, m.close()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.errMsg = ""
	case "down", "j":
		if m.cursor < len(m.fields)-1 {
			m.cursor++
		}
		m.errMsg = ""
	case "left", "h":
		m.cycleModel(-1)
	case "right", "l":
		m.cycleModel(1)
	case "enter":
		m.startEditing()
		if m.state == stateEditing {
			return m, m.input.Focus()
		}
	case "r":
		m.resetField()
	case "s":
		m.commitSave()
	}
	return m, nil
}

// cycleModel steps the model field through the allow-list.
func (m *Model) cycleModel(step int) {
	if m.cursor >= len(m.fields) || m.fields[m.cursor].Key != "model" {
		return
	}
	f := &m.fields[m.cursor]
	idx := 0
	for i, name := range config.SupportedModels {
		if name == f.Value {
			idx = i
			break
		}
	}
	n := len(config.SupportedModels)
	f.Value = config.SupportedModels[((idx+step)%n+n)%n]
	m.errMsg = ""
	m.statusMsg = ""
}

func (m *Model) startEditing() {
	if m.cursor >= len(m.fields) {
		m.errMsg = "No editable field selected"
		return
	}
	f := m.fields[m.cursor]
	m.state = stateEditing
	m.errMsg = ""
	m.statusMsg = ""
	m.input.SetValue(f.Value)
	m.input.CursorEnd()
	if f.Sensitive {
		m.input.EchoMode = textinput.EchoPassword
	} else {
		m.input.EchoMode = textinput.EchoNormal
	}
	m.input.Placeholder = fmt.Sprintf("Enter value for %s", f.Key)
}

func (m Model) handleEditingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateBrowsing
		m.errMsg = ""
		m.input.Blur()
		return m, nil
	case "enter":
		return m.commitEdit(), nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if err := config.ValidateField(m.fields[m.cursor].Key, m.input.Value()); err != nil {
		m.errMsg = err.Error()
	} else {
		m.errMsg = ""
	}
	return m, cmd
}

func (m Model) commitEdit() Model {
	key := m.fields[m.cursor].Key
	val := m.input.Value()
	if err := config.ValidateField(key, val); err != nil {
		m.errMsg = err.Error()
		return m
	}
	changed := m.fields[m.cursor].Value != val
	m.fields[m.cursor].Value = val
	m.state = stateBrowsing
	m.errMsg = ""
	if changed {
		m.statusMsg = fmt.Sprintf("Updated %s", key)
	} else {
		m.statusMsg = fmt.Sprintf("No change for %s", key)
	}
	m.input.Blur()
	return m
}

func (m *Model) resetField() {
	if m.cursor >= len(m.fields) {
		return
	}
	f := &m.fields[m.cursor]
	if f.Sensitive {
		f.Value = ""
		m.statusMsg = fmt.Sprintf("Cleared %s", f.Key)
		m.errMsg = ""
		return
	}
	f.Value = config.DefaultValueForField(f.Key)
	m.errMsg = ""
	m.statusMsg = fmt.Sprintf("Reset %s to default", f.Key)
}

func (m *Model) commitSave() {
	s := m.Current()
	if err := config.ValidateSettings(s); err != nil {
		m.errMsg = err.Error()
		m.statusMsg = ""
		return
	}
	if m.save != nil {
		if err := m.save(s); err != nil {
			m.errMsg = fmt.Sprintf("Save failed: %v", err)
			m.statusMsg = ""
			return
		}
	}
	for i := range m.fields {
		switch {
		case m.fields[i].Value == fieldValue(m.baseline, m.fields[i].Key):
		case m.fields[i].Sensitive && strings.TrimSpace(m.fields[i].Value) == "":
			m.fields[i].Source = config.SourceDefault
		case m.fields[i].Sensitive:
			m.fields[i].Source = config.SourceDotEnvLocal
		default:
			m.fields[i].Source = config.SourceConfigFile
		}
	}
	m.baseline = s
	m.saved = true
	m.errMsg = ""
	m.statusMsg = "Settings saved"
}

func (m Model) handleConfirmQuitKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.commitSave()
		if m.errMsg != "" {
			return m, nil
		}
		return m, m.close()
	case "n", "N", "ctrl+c":
		return m, m.close()
	case "esc", "c":
		m.state = stateBrowsing
		m.statusMsg = ""
	}
	return m, nil
}

func (m Model) close() tea.Cmd {
	if m.standalone {
		return tea.Quit
	}
	saved := m.saved
	return func() tea.Msg { return ClosedMsg{Saved: saved} }
}

func fieldValue(s model.Settings, key string) string {
	switch key {
	case "model":
		return s.Model
	case "base_url":
		return s.BaseURL
	case config.APIKeyEnv:
		return s.APIKey
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(ui.ClrBrand).
			Bold(true).
			Underline(true)

	selectedKeyStyle = lipgloss.NewStyle().
				Background(ui.ClrBrand).
				Foreground(lipgloss.Color("0")).
				Bold(true)

	selectedValueStyle = lipgloss.NewStyle().
				Foreground(ui.ClrBrand).
				Italic(true)

	sourceStyle = lipgloss.NewStyle().
			Foreground(ui.ClrMuted).
			Italic(true)
)

func (m Model) View() string {
	viewWidth := m.width
	if viewWidth <= 0 {
		viewWidth = 100
	}
	width := contentWidth(viewWidth)

	lines := []string{
		titleStyle.Render("Settings"),
		ui.Muted.Render("Gemini connection used for uploads and chat."),
		"",
	}
	lines = append(lines, m.fieldRows(width)...)

	switch m.state {
	case stateEditing:
		lines = append(lines, "", ui.Muted.Render("Editing "+m.fields[m.cursor].Key), "  "+m.input.View())
		if m.errMsg != "" {
			lines = append(lines, ui.Red.Render("  "+m.errMsg))
		}
	case stateConfirmQuit:
		lines = append(lines, "", ui.Yellow.Render("Unsaved changes. Save before closing?"))
		if m.errMsg != "" {
			lines = append(lines, ui.Red.Render(m.errMsg))
		}
	default:
		if m.errMsg != "" {
			lines = append(lines, "", ui.Red.Render(m.errMsg))
		}
		if m.statusMsg != "" {
			lines = append(lines, "", ui.Green.Render(m.statusMsg))
		}
		if m.Dirty() {
			lines = append(lines, ui.Yellow.Render("Unsaved changes"))
		}
	}

	if m.showHelp {
		lines = append(lines, "", helpText())
	}

	panel := ui.Panel.Render(strings.Join(lines, "\n"))
	footer := ui.Subtle.Render(ui.Truncate(m.controlsHint(), width))
	content := lipgloss.JoinVertical(lipgloss.Center, panel, footer)
	if m.height <= 0 {
		return content
	}
	return lipgloss.Place(viewWidth, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m Model) fieldRows(width int) []string {
	keyWidth := min(max(width/3, 16), 24)
	sourceWidth := 14
	valueWidth := max(width-keyWidth-sourceWidth-8, 12)

	rows := make([]string, 0, len(m.fields))
	for i, f := range m.fields {
		keyText := fitText(f.Key, keyWidth)
		valueText := fitText(displayValue(f), valueWidth)
		sourceText := fitText("("+string(f.Source)+")", sourceWidth)

		marker := " "
		keyCell := ui.Muted.Width(keyWidth).Render(keyText)
		valueCell := ui.Subtle.Width(valueWidth).Render(valueText)
		if i == m.cursor {
			marker = ui.Brand.Render(">")
			keyCell = selectedKeyStyle.Width(keyWidth).Render(keyText)
			valueCell = selectedValueStyle.Width(valueWidth).Render(valueText)
		}
		rows = append(rows, fmt.Sprintf("%s %s  %s  %s", marker, keyCell, valueCell, sourceStyle.Render(sourceText)))
	}
	return rows
}

func helpText() string {
	return strings.Join([]string{
		titleStyle.Render("Keys"),
		ui.Muted.Render("up/down or j/k  move selection"),
		ui.Muted.Render("left/right      cycle model"),
		ui.Muted.Render("enter           edit selected value"),
		ui.Muted.Render("r               reset selected value"),
		ui.Muted.Render("s               save all settings"),
		ui.Muted.Render("esc/q           close"),
	}, "\n")
}

func (m Model) controlsHint() string {
	switch m.state {
	case stateEditing:
		return "type value · enter confirm · esc cancel"
	case stateConfirmQuit:
		return "y save & close · n discard · c/esc cancel"
	default:
		return "j/k move · enter edit · ←/→ model · r reset · s save · esc close · ? help"
	}
}

func displayValue(f config.FieldInfo) string {
	if strings.TrimSpace(f.Value) == "" {
		if f.Key == "base_url" {
			return "(default endpoint)"
		}
		return "(not set)"
	}
	if f.Sensitive {
		return "****"
	}
	return f.Value
}

func contentWidth(viewWidth int) int {
	return min(max(viewWidth-10, 28), 100)
}

func fitText(s string, width int) string {
	t := ui.Truncate(s, width)
	if n := len([]rune(t)); n < width {
		t += strings.Repeat(" ", width-n)
	}
	return t
}
