// Package host provides the host-managed API key capability: a key chosen
// outside the settings form, persisted in the state dir.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// HelperEnv names the command that prints a selected API key on stdout.
const HelperEnv = "RAGCHAT_KEY_HELPER"

const stateFileName = "host_key.json"

// ErrUnavailable reports that no key selection mechanism is configured.
var ErrUnavailable = errors.New("host key selection unavailable")

type State struct {
	APIKey     string `json:"api_key"`
	SelectedAt string `json:"selected_at"`
	Source     string `json:"source"`
}

// FileKeyHost keeps the selected key in <dir>/host_key.json.
type FileKeyHost struct {
	dir    string
	helper string
}

// NewFileKeyHost builds a host rooted at dir. An empty helper falls back to
// $RAGCHAT_KEY_HELPER at selection time.
func NewFileKeyHost(dir, helper string) *FileKeyHost {
	return &FileKeyHost{dir: dir, helper: strings.TrimSpace(helper)}
}

func (h *FileKeyHost) HasSelectedAPIKey(ctx context.Context) (bool, error) {
	key, err := h.SelectedAPIKey(ctx)
	if err != nil {
		return false, err
	}
	return key != "", nil
}

func (h *FileKeyHost) SelectedAPIKey(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	state, err := h.LoadState()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(state.APIKey), nil
}

// OpenSelectKey runs the helper command and stores the key it prints.
func (h *FileKeyHost) OpenSelectKey(ctx context.Context) error {
	helper := h.helper
	if helper == "" {
		helper = strings.TrimSpace(os.Getenv(HelperEnv))
	}
	if helper == "" {
		return ErrUnavailable
	}
	fields := strings.Fields(helper)
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("key helper failed: %w: %s", err, msg)
		}
		return fmt.Errorf("key helper failed: %w", err)
	}
	key := strings.TrimSpace(stdout.String())
	if key == "" {
		return errors.New("key helper returned an empty key")
	}
	return h.SaveState(State{APIKey: key, Source: fields[0]})
}

// Select stores key directly.
func (h *FileKeyHost) Select(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key must not be empty")
	}
	return h.SaveState(State{APIKey: key, Source: "manual"})
}

func (h *FileKeyHost) SaveState(state State) error {
	path := h.statePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if state.SelectedAt == "" {
		state.SelectedAt = time.Now().Format(time.RFC3339)
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (h *FileKeyHost) LoadState() (State, error) {
	b, err := os.ReadFile(h.statePath())
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

func (h *FileKeyHost) ClearState() error {
	if err := os.Remove(h.statePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (h *FileKeyHost) statePath() string {
	return filepath.Join(h.dir, stateFileName)
}
