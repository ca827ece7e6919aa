// Package platform describes the host OS collaborators of the push core:
// permission prompts, push token issuance and notification events.
package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"handyhub_push/internal/model"
)

// PushHost is the host platform's push API, expressed as result-returning
// calls instead of callbacks.
type PushHost interface {
	// RequestPermission asks the user for push permission.
	// Returns model.ErrPermissionDenied if refused.
	RequestPermission(ctx context.Context) error
	// PushToken returns the current platform push token.
	// Returns model.ErrTokenUnavailable on platform error.
	PushToken(ctx context.Context) (string, error)
	// Platform reports which push platform issued the token.
	Platform() model.Platform
}

// TokenUpdater is implemented by hosts that hand out a token they were told
// about, so a reissued token replaces the configured one.
type TokenUpdater interface {
	SetToken(token string)
}

// EventHandler receives platform notification events.
type EventHandler func(ctx context.Context, event model.PlatformEvent)

// EventSource delivers OS notification events. Delivery is at-least-once.
type EventSource interface {
	// Subscribe starts delivering events to handler until the returned
	// subscription is closed.
	Subscribe(ctx context.Context, handler EventHandler) (Subscription, error)
}

// Subscription is an active event subscription.
type Subscription interface {
	// Close stops delivery and waits for any in-flight callback to return.
	Close() error
}

// StaticHost is a PushHost whose token was handed over by the host bridge
// out of band (environment, config file).
type StaticHost struct {
	mu       sync.RWMutex
	platform model.Platform
	token    string
	granted  bool
}

// NewStaticHost creates a StaticHost. An empty token makes PushToken fail
// with model.ErrTokenUnavailable.
func NewStaticHost(platform model.Platform, token string, granted bool) *StaticHost {
	return &StaticHost{platform: platform, token: strings.TrimSpace(token), granted: granted}
}

func (h *StaticHost) RequestPermission(ctx context.Context) error {
	if !h.granted {
		return model.ErrPermissionDenied
	}
	return nil
}

func (h *StaticHost) PushToken(ctx context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return "", fmt.Errorf("%w: no token configured", model.ErrTokenUnavailable)
	}
	return h.token, nil
}

func (h *StaticHost) Platform() model.Platform {
	return h.platform
}

// SetToken replaces the token, as when the platform reissues one.
func (h *StaticHost) SetToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = strings.TrimSpace(token)
}
