package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/session"
	"ragchat/internal/settings"
	"ragchat/internal/ui"
)

// snapshotMsg carries controller state into the program.
type snapshotMsg session.Snapshot

// opDoneMsg reports the outcome of a controller call run as a tea.Cmd.
type opDoneMsg struct {
	op  string
	err error
}

type welcomeFocus int

const (
	focusFiles welcomeFocus = iota
	focusStores
)

type tuiModel struct {
	ctx  context.Context
	ctrl *session.Controller
	cfg  config.Config

	snap   session.Snapshot
	width  int
	height int
	ready  bool

	focus         welcomeFocus
	cursor        int
	confirmDelete string
	notice        string

	pathInput textinput.Model
	chatInput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	progress  progress.Model

	settings *settings.Model
}

func newTUIModel(ctx context.Context, ctrl *session.Controller, cfg config.Config) tuiModel {
	pi := textinput.New()
	pi.Placeholder = "path/to/report.pdf, notes.md ..."
	pi.CharLimit = 4096
	pi.Width = 70
	pi.Focus()

	ci := textinput.New()
	ci.Placeholder = "Ask about your documents, or /1../4 for a suggestion"
	ci.CharLimit = 2000
	ci.Width = 70

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ui.ClrBrand)

	return tuiModel{
		ctx:       ctx,
		ctrl:      ctrl,
		cfg:       cfg,
		snap:      ctrl.Snapshot(),
		pathInput: pi,
		chatInput: ci,
		spinner:   s,
		progress:  progress.New(progress.WithDefaultGradient()),
	}
}

// runTUI drives the controller from an interactive program until the user
// quits. Focus regain re-checks key readiness.
func runTUI(ctx context.Context, rt *Runtime) error {
	p, stop := newProgram(ctx, rt, tea.WithAltScreen(), tea.WithReportFocus())
	defer stop()
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return context.Canceled
	}
	return err
}

// newProgram builds the interactive program and subscribes it to controller
// snapshots. stop detaches the observer and ends the delivery goroutine.
func newProgram(ctx context.Context, rt *Runtime, opts ...tea.ProgramOption) (*tea.Program, func()) {
	m := newTUIModel(ctx, rt.Controller, rt.Config)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	pump := newSnapshotPump()
	rt.Controller.SetObserver(pump.offer)
	done := make(chan struct{})
	go pump.deliver(done, func(s session.Snapshot) { p.Send(snapshotMsg(s)) })

	var once sync.Once
	return p, func() {
		once.Do(func() {
			rt.Controller.SetObserver(nil)
			close(done)
		})
	}
}

// snapshotPump hands controller snapshots to the program without ever
// blocking the caller. Controller transitions may run on the program's own
// event loop, so the observer must not wait on p.Send. Only the newest
// snapshot matters; older undelivered ones are dropped.
type snapshotPump struct {
	ch chan session.Snapshot
}

func newSnapshotPump() *snapshotPump {
	return &snapshotPump{ch: make(chan session.Snapshot, 1)}
}

func (p *snapshotPump) offer(s session.Snapshot) {
	for {
		select {
		case p.ch <- s:
			return
		default:
		}
		select {
		case <-p.ch:
		default:
		}
	}
}

func (p *snapshotPump) deliver(done <-chan struct{}, send func(session.Snapshot)) {
	for {
		select {
		case <-done:
			return
		case s := <-p.ch:
			send(s)
		}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.refreshKeyCmd())
}

func (m tuiModel) refreshKeyCmd() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		ctrl.RefreshKeyReadiness(ctx)
		return nil
	}
}

func (m tuiModel) run(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn()}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.settings != nil {
		if closed, ok := msg.(settings.ClosedMsg); ok {
			m.settings = nil
			if closed.Saved {
				m.notice = "Settings saved"
			}
			return m, nil
		}
		if ws, ok := msg.(tea.WindowSizeMsg); ok {
			m.applyWindowSize(ws.Width, ws.Height)
		}
		if _, ok := msg.(snapshotMsg); !ok {
			updated, cmd := m.settings.Update(msg)
			next := updated.(settings.Model)
			m.settings = &next
			return m, cmd
		}
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(msg.Width, msg.Height)
		return m, nil
	case tea.FocusMsg:
		return m, m.refreshKeyCmd()
	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		if m.cursor >= len(m.snap.Stores) {
			m.cursor = max(len(m.snap.Stores)-1, 0)
		}
		m.syncFocus()
		m.refreshViewport()
		return m, nil
	case opDoneMsg:
		m.notice = noticeFor(msg, m.snap)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.snap.Status {
		case model.StatusWelcome:
			return m.updateWelcome(msg)
		case model.StatusChatting:
			return m.updateChatting(msg)
		case model.StatusError:
			return m.updateError(msg)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// noticeFor turns an operation error into a one-line notice. Errors the
// controller already reflects in its state are not repeated.
func noticeFor(msg opDoneMsg, snap session.Snapshot) string {
	if msg.err == nil {
		return ""
	}
	if errors.Is(msg.err, model.ErrKeyRequired) || snap.APIKeyError != "" {
		return ""
	}
	if snap.Status == model.StatusError || snap.ChatError != "" {
		return ""
	}
	return fmt.Sprintf("%s: %v", msg.op, msg.err)
}

func (m *tuiModel) syncFocus() {
	switch m.snap.Status {
	case model.StatusWelcome:
		m.chatInput.Blur()
		if m.focus == focusFiles {
			m.pathInput.Focus()
		}
	case model.StatusChatting:
		m.pathInput.Blur()
		m.chatInput.Focus()
	default:
		m.pathInput.Blur()
		m.chatInput.Blur()
	}
}

func (m tuiModel) updateWelcome(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmDelete != "" {
		name := m.confirmDelete
		switch msg.String() {
		case "y", "Y":
			m.confirmDelete = ""
			ctrl, ctx := m.ctrl, m.ctx
			return m, m.run("delete", func() error { return ctrl.DeleteStore(ctx, name, true) })
		default:
			m.confirmDelete = ""
			m.notice = "Delete canceled"
			return m, nil
		}
	}

	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "ctrl+s":
		return m.openSettings()
	case "ctrl+o":
		ctrl, ctx := m.ctrl, m.ctx
		return m, m.run("select key", func() error { return ctrl.OpenSelectKey(ctx) })
	case "tab", "shift+tab":
		if m.focus == focusFiles && len(m.snap.Stores) > 0 {
			m.focus = focusStores
			m.pathInput.Blur()
		} else {
			m.focus = focusFiles
			m.pathInput.Focus()
		}
		return m, nil
	}

	if m.focus == focusStores {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snap.Stores)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < len(m.snap.Stores) {
				name := m.snap.Stores[m.cursor].Name
				ctrl, ctx := m.ctrl, m.ctx
				m.notice = ""
				return m, m.run("open store", func() error { return ctrl.SelectStore(ctx, name) })
			}
		case "d", "delete":
			if m.cursor < len(m.snap.Stores) {
				m.confirmDelete = m.snap.Stores[m.cursor].Name
			}
		}
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		docs, err := documentsFromPaths(splitPaths(m.pathInput.Value()))
		if err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.pathInput.SetValue("")
		m.notice = ""
		ctrl, ctx := m.ctrl, m.ctx
		upload := func() error {
			if err := ctrl.SelectFiles(docs); err != nil {
				return err
			}
			return ctrl.StartUpload(ctx)
		}
		return m, tea.Batch(m.run("upload", upload), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m tuiModel) updateChatting(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.chatInput.SetValue("")
		return m, m.run("back", m.ctrl.Back)
	case "ctrl+s":
		return m.openSettings()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		if m.snap.Loading {
			return m, nil
		}
		text := expandSuggestion(strings.TrimSpace(m.chatInput.Value()), m.snap.ExampleQuestions)
		if text == "" {
			return m, nil
		}
		m.chatInput.SetValue("")
		ctrl, ctx := m.ctrl, m.ctx
		return m, tea.Batch(m.run("send", func() error { return ctrl.SendMessage(ctx, text) }), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

func (m tuiModel) updateError(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "r":
		return m, m.run("recover", m.ctrl.Recover)
	case "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m tuiModel) openSettings() (tea.Model, tea.Cmd) {
	cfg := m.cfg
	if refreshed, err := config.Load(); err == nil {
		cfg = refreshed
	}
	editor := settings.New(cfg, m.ctrl.SaveSettings)
	m.settings = &editor
	if m.width > 0 {
		updated, _ := editor.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
		next := updated.(settings.Model)
		m.settings = &next
	}
	return m, nil
}

// expandSuggestion maps "/N" to the Nth example question.
func expandSuggestion(text string, questions []string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}
	n, err := strconv.Atoi(strings.TrimPrefix(text, "/"))
	if err != nil || n < 1 || n > len(questions) {
		return text
	}
	return questions[n-1]
}

// splitPaths accepts comma separated paths, or whitespace separated ones
// when no comma is present.
func splitPaths(input string) []string {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	var parts []string
	if strings.Contains(input, ",") {
		parts = strings.Split(input, ",")
	} else {
		parts = strings.Fields(input)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(strings.TrimSpace(p), `"'`); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (m *tuiModel) applyWindowSize(width, height int) {
	m.width = width
	m.height = height
	inputWidth := max(width-8, 20)
	m.pathInput.Width = inputWidth
	m.chatInput.Width = inputWidth
	m.progress.Width = min(max(width-10, 20), 80)

	vpHeight := max(height-9, 3)
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.refreshViewport()
}

func (m *tuiModel) refreshViewport() {
	if !m.ready || m.snap.Status != model.StatusChatting {
		return
	}
	m.viewport.SetContent(renderHistory(m.snap, max(m.width-4, 20)))
	m.viewport.GotoBottom()
}

func renderHistory(snap session.Snapshot, width int) string {
	if len(snap.History) == 0 {
		lines := []string{ui.Dim("No messages yet.")}
		if len(snap.ExampleQuestions) > 0 {
			lines = append(lines, "", ui.Muted.Render("Suggestions:"))
			for i, q := range snap.ExampleQuestions {
				lines = append(lines, fmt.Sprintf("  %s %s", ui.Brand.Render(fmt.Sprintf("/%d", i+1)), q))
			}
		}
		return strings.Join(lines, "\n")
	}

	wrap := lipgloss.NewStyle().Width(width)
	blocks := make([]string, 0, len(snap.History))
	for _, msg := range snap.History {
		if msg.Role == model.RoleUser {
			blocks = append(blocks, ui.UserTurn.Render("you")+"\n"+wrap.Render(msg.Text()))
			continue
		}
		block := ui.ModelTurn.Render("gemini") + "\n" + wrap.Render(msg.Text())
		if cites := ui.Citations(msg.GroundingChunks, max(width-20, 20)); len(cites) > 0 {
			block += "\n" + strings.Join(cites, "\n")
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

func (m tuiModel) View() string {
	if m.settings != nil {
		return m.settings.View()
	}

	var body string
	switch m.snap.Status {
	case model.StatusInitializing:
		body = m.spinner.View() + " Loading..."
	case model.StatusWelcome:
		body = m.viewWelcome()
	case model.StatusUploading:
		body = m.viewUploading()
	case model.StatusChatting:
		body = m.viewChatting()
	case model.StatusError:
		body = m.viewError()
	}
	if m.notice != "" {
		body += "\n" + ui.Yellow.Render(m.notice)
	}
	return body
}

func (m tuiModel) viewWelcome() string {
	var b strings.Builder
	b.WriteString(ui.Brand.Render("ragchat") + " " + ui.Dim("chat with your documents") + "\n\n")

	if m.snap.KeyReady {
		b.WriteString(ui.Green.Render("● API key ready") + "\n")
	} else {
		b.WriteString(ui.Red.Render("● No API key") + " " + ui.Dim("ctrl+o select key · ctrl+s settings") + "\n")
	}
	if m.snap.APIKeyError != "" {
		b.WriteString(ui.Error(m.snap.APIKeyError) + "\n")
	}
	b.WriteString("\n")

	label := ui.Muted.Render("Files to upload")
	if m.focus == focusFiles {
		label = ui.Brand.Render("Files to upload")
	}
	b.WriteString(label + "\n" + m.pathInput.View() + "\n\n")

	storesLabel := ui.Muted.Render("Saved stores")
	if m.focus == focusStores {
		storesLabel = ui.Brand.Render("Saved stores")
	}
	b.WriteString(storesLabel + "\n")
	if len(m.snap.Stores) == 0 {
		b.WriteString(ui.Dim("  none yet") + "\n")
	}
	for i, s := range m.snap.Stores {
		marker := "  "
		name := s.DisplayName
		if m.focus == focusStores && i == m.cursor {
			marker = ui.Brand.Render("> ")
			name = ui.Bold.Render(name)
		}
		b.WriteString(marker + name + "\n")
	}
	if m.confirmDelete != "" {
		b.WriteString("\n" + ui.Yellow.Render("Delete this store and its chat history? [y/N]") + "\n")
	}

	b.WriteString("\n" + ui.Dim("enter upload/open · tab switch · d delete · ctrl+s settings · esc quit"))
	return b.String()
}

func (m tuiModel) viewUploading() string {
	p := m.snap.Progress
	if p == nil {
		return m.spinner.View() + " Working..."
	}
	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Current) / float64(p.Total)
	}
	lines := []string{
		ui.Brand.Render("Preparing your documents"),
		"",
		m.spinner.View() + " " + p.Message,
	}
	if p.FileName != "" {
		lines = append(lines, ui.Dim(p.FileName))
	}
	lines = append(lines, "", m.progress.ViewAs(percent), ui.Dim(fmt.Sprintf("%d/%d", p.Current, p.Total)))
	return strings.Join(lines, "\n")
}

func (m tuiModel) viewChatting() string {
	var b strings.Builder
	b.WriteString(ui.Info("chatting with", m.snap.DocumentName) + "\n")
	b.WriteString(ui.Dim(strings.Repeat("─", max(m.width, 20))) + "\n")
	if m.ready {
		b.WriteString(m.viewport.View() + "\n")
	} else {
		b.WriteString(renderHistory(m.snap, 76) + "\n")
	}
	if m.snap.ChatError != "" {
		b.WriteString(ui.Error(m.snap.ChatError) + "\n")
	}
	if m.snap.Loading {
		b.WriteString(m.spinner.View() + " " + ui.Dim("Searching your documents...") + "\n")
	} else {
		b.WriteString(ui.Prompt("ask") + m.chatInput.View() + "\n")
	}
	b.WriteString(ui.Dim("enter send · pgup/pgdown scroll · esc back · ctrl+s settings"))
	return b.String()
}

func (m tuiModel) viewError() string {
	return strings.Join([]string{
		ui.Red.Render("Something went wrong"),
		"",
		m.snap.ErrorMessage,
		"",
		ui.Dim("enter/r start over · q quit"),
	}, "\n")
}
