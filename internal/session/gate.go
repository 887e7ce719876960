package session

import (
	"context"
	"strings"
	"sync"

	"ragchat/internal/model"
)

// Gate caches whether remote calls are authorized. It is re-evaluated on
// Refresh (startup, focus regain) and when the settings key changes.
type Gate struct {
	mu           sync.Mutex
	host         model.KeyHost
	hostSelected bool
	settingsKey  string
	ready        bool
}

func NewGate(host model.KeyHost) *Gate {
	return &Gate{host: host}
}

// Refresh re-queries the host capability. Query errors count as not selected.
func (g *Gate) Refresh(ctx context.Context) bool {
	selected := false
	if g.host != nil {
		ok, err := g.host.HasSelectedAPIKey(ctx)
		selected = err == nil && ok
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.hostSelected = selected
	g.recompute()
	return g.ready
}

func (g *Gate) SetSettingsKey(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settingsKey = strings.TrimSpace(key)
	g.recompute()
}

// Reset drops readiness after the remote rejected the key. It stays false
// until the next Refresh or settings change.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hostSelected = false
	g.ready = false
}

func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

func (g *Gate) HostSelected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hostSelected
}

func (g *Gate) recompute() {
	g.ready = g.hostSelected || g.settingsKey != ""
}
