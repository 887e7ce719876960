package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"ragchat/internal/config"
	"ragchat/internal/model"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	for _, key := range []string{"RAGCHAT_MODEL", "RAGCHAT_BASE_URL", config.APIKeyEnv} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
	home := filepath.Join(dir, "home")
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

type recorder struct {
	calls []model.Settings
	err   error
}

func (r *recorder) save(s model.Settings) error {
	r.calls = append(r.calls, s)
	return r.err
}

func press(t *testing.T, m Model, keys ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(Model)
	}
	return m, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewShowsOnlyConnectionFields(t *testing.T) {
	isolate(t)
	m := New(config.Default(), nil)

	if len(m.fields) != 3 {
		t.Fatalf("expected 3 editable fields, got %d", len(m.fields))
	}
	for i, key := range editableKeys {
		if m.fields[i].Key != key {
			t.Fatalf("field %d = %q, want %q", i, m.fields[i].Key, key)
		}
	}
	if got := m.Current(); got.Model != config.DefaultModel || got.BaseURL != "" || got.APIKey != "" {
		t.Fatalf("unexpected initial settings: %#v", got)
	}
	if m.Dirty() {
		t.Fatal("fresh editor must not be dirty")
	}
}

func TestCycleModelAndSaveWholesale(t *testing.T) {
	isolate(t)
	rec := &recorder{}
	m := New(config.Default(), rec.save)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	if got := m.Current().Model; got != "gemini-2.5-pro" {
		t.Fatalf("model after right = %q", got)
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyLeft}, tea.KeyMsg{Type: tea.KeyLeft})
	if got := m.Current().Model; got != "gemini-2.5-flash-lite" {
		t.Fatalf("model should wrap around, got %q", got)
	}
	if !m.Dirty() {
		t.Fatal("expected dirty after change")
	}
	if len(rec.calls) != 0 {
		t.Fatal("nothing may be persisted before an explicit save")
	}

	m, _ = press(t, m, runes("s"))
	if len(rec.calls) != 1 {
		t.Fatalf("expected one save, got %d", len(rec.calls))
	}
	want := model.Settings{Model: "gemini-2.5-flash-lite"}
	if rec.calls[0] != want {
		t.Fatalf("saved %#v, want %#v", rec.calls[0], want)
	}
	if m.Dirty() {
		t.Fatal("editor should be clean after save")
	}
	if m.fields[0].Source != config.SourceConfigFile {
		t.Fatalf("model source = %q, want config file", m.fields[0].Source)
	}
}

func TestEditRejectsInvalidBaseURL(t *testing.T) {
	isolate(t)
	m := New(config.Default(), nil)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != stateEditing {
		t.Fatalf("expected editing state, got %v", m.state)
	}
	m.input.SetValue("ftp://example.com")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != stateEditing || m.errMsg == "" {
		t.Fatalf("invalid url should keep editing with an error, state=%v err=%q", m.state, m.errMsg)
	}

	m.input.SetValue("https://proxy.example.com")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != stateBrowsing {
		t.Fatalf("expected browsing after valid edit, got %v", m.state)
	}
	if got := m.Current().BaseURL; got != "https://proxy.example.com" {
		t.Fatalf("base url = %q", got)
	}
}

func TestSaveFailureIsShown(t *testing.T) {
	isolate(t)
	rec := &recorder{err: errors.New("disk full")}
	m := New(config.Default(), rec.save)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRight}, runes("s"))
	if m.errMsg == "" || !m.Dirty() {
		t.Fatalf("expected error and dirty state, err=%q dirty=%v", m.errMsg, m.Dirty())
	}
}

func TestCloseWithUnsavedChangesAsksFirst(t *testing.T) {
	isolate(t)
	rec := &recorder{}
	m := New(config.Default(), rec.save)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRight}, tea.KeyMsg{Type: tea.KeyEsc})
	if m.state != stateConfirmQuit {
		t.Fatalf("expected confirm state, got %v", m.state)
	}

	m, cmd := press(t, m, runes("n"))
	if cmd == nil {
		t.Fatal("expected close command")
	}
	msg, ok := cmd().(ClosedMsg)
	if !ok {
		t.Fatalf("expected ClosedMsg, got %T", cmd())
	}
	if msg.Saved {
		t.Fatal("discarding must not report a save")
	}
	if len(rec.calls) != 0 {
		t.Fatalf("discard must not save, got %d calls", len(rec.calls))
	}
}

func TestResetClearsSecret(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	t.Setenv(config.APIKeyEnv, "secret")
	cfg.APIKey = "secret"
	m := New(cfg, nil)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown}, runes("r"))
	if got := m.Current().APIKey; got != "" {
		t.Fatalf("api key should be cleared, got %q", got)
	}
	if view := m.View(); view == "" {
		t.Fatal("view should render")
	}
}
