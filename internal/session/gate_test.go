package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"ragchat/internal/model"
)

func TestGateReadiness(t *testing.T) {
	ctx := context.Background()
	host := &fakeHost{}
	g := NewGate(host)

	assert.False(t, g.Refresh(ctx))

	g.SetSettingsKey("  ")
	assert.False(t, g.Ready())
	g.SetSettingsKey("key")
	assert.True(t, g.Ready())

	g.Reset()
	assert.False(t, g.Ready())
	assert.True(t, g.Refresh(ctx))

	g.SetSettingsKey("")
	assert.False(t, g.Ready())
	host.selected = true
	assert.True(t, g.Refresh(ctx))
	assert.True(t, g.HostSelected())
}

func TestGateSwallowsHostErrors(t *testing.T) {
	g := NewGate(&fakeHost{selected: true, err: errors.New("bridge gone")})
	assert.False(t, g.Refresh(context.Background()))

	assert.False(t, NewGate(nil).Refresh(context.Background()))
}

func TestIsKeyInvalid(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("API key not valid. Please pass a valid API key."), want: true},
		{err: fmt.Errorf("create store: %w", errors.New("reason: API_KEY_INVALID")), want: true},
		{err: errors.New("Requested entity was not found."), want: true},
		{err: &model.ProviderError{Code: "X", Message: "denied", StatusCode: 403}, want: true},
		{err: fmt.Errorf("upload: %w", &model.ProviderError{Code: "X", Message: "nope", StatusCode: 401}), want: true},
		{err: &model.ProviderError{Code: "X", Message: "boom", StatusCode: 500}, want: false},
		{err: context.Canceled, want: false},
		{err: errors.New("connection reset"), want: false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsKeyInvalid(tc.err), "err=%v", tc.err)
	}
}
