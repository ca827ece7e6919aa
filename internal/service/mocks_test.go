package service

import (
	"context"
	"sync"
	"time"

	"handyhub_push/internal/model"
)

// fastPolicy keeps retry tests quick.
var fastPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

// ===== MOCK BACKEND =====

type mockBackend struct {
	mu sync.Mutex

	RegisterTokenFunc     func(ctx context.Context, req model.RegisterTokenRequest) (*model.RegisterTokenResponse, error)
	UnregisterTokenFunc   func(ctx context.Context, token string) error
	MarkReadFunc          func(ctx context.Context, id int64) error
	MarkAllReadFunc       func(ctx context.Context) error
	ListNotificationsFunc func(ctx context.Context, limit int) ([]model.NotificationRecord, error)

	registerCalls    []model.RegisterTokenRequest
	unregisterCalls  []string
	markReadCalls    []int64
	markAllReadCalls int
}

func (m *mockBackend) RegisterToken(ctx context.Context, req model.RegisterTokenRequest) (*model.RegisterTokenResponse, error) {
	m.mu.Lock()
	m.registerCalls = append(m.registerCalls, req)
	fn := m.RegisterTokenFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &model.RegisterTokenResponse{Success: true}, nil
}

func (m *mockBackend) UnregisterToken(ctx context.Context, token string) error {
	m.mu.Lock()
	m.unregisterCalls = append(m.unregisterCalls, token)
	fn := m.UnregisterTokenFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, token)
	}
	return nil
}

func (m *mockBackend) MarkRead(ctx context.Context, id int64) error {
	m.mu.Lock()
	m.markReadCalls = append(m.markReadCalls, id)
	fn := m.MarkReadFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	return nil
}

func (m *mockBackend) MarkAllRead(ctx context.Context) error {
	m.mu.Lock()
	m.markAllReadCalls++
	fn := m.MarkAllReadFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (m *mockBackend) ListNotifications(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	if m.ListNotificationsFunc != nil {
		return m.ListNotificationsFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockBackend) registerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registerCalls)
}

func (m *mockBackend) unregistered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unregisterCalls...)
}

func (m *mockBackend) markReads() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.markReadCalls...)
}

func (m *mockBackend) markAllReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markAllReadCalls
}

// ===== MOCK DIAGNOSTICS =====

type mockDiagnostics struct {
	mu     sync.Mutex
	events []model.TokenRegistered
}

func (m *mockDiagnostics) PublishTokenRegistered(ctx context.Context, event model.TokenRegistered) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockDiagnostics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ===== MOCK NAVIGATOR =====

type recordingNavigator struct {
	mu      sync.Mutex
	targets []model.NavigationTarget
	onCall  func(target model.NavigationTarget)
}

func (n *recordingNavigator) Navigate(ctx context.Context, target model.NavigationTarget) {
	if n.onCall != nil {
		n.onCall(target)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
}

func (n *recordingNavigator) calls() []model.NavigationTarget {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.NavigationTarget(nil), n.targets...)
}

func transientErr() error {
	return &model.APIError{Status: 504, Code: "TIMEOUT", Message: "gateway timeout"}
}

func rejectedErr() error {
	return &model.APIError{Status: 404, Code: "NOT_FOUND", Message: "Notification not found"}
}
