package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"handyhub_push/internal/metrics"
	"handyhub_push/internal/model"
	"handyhub_push/internal/platform"
	"handyhub_push/internal/repository"
)

// TokenRegistrar is the backend side of token registration.
type TokenRegistrar interface {
	RegisterToken(ctx context.Context, req model.RegisterTokenRequest) (*model.RegisterTokenResponse, error)
	UnregisterToken(ctx context.Context, token string) error
}

// DiagnosticsSink receives TokenRegistered events.
type DiagnosticsSink interface {
	PublishTokenRegistered(ctx context.Context, event model.TokenRegistered) error
}

// RegistrationService obtains the platform push token, registers it with
// the backend and keeps it refreshed.
//
// Network attempts are capped per session (per service instance) by
// RetryPolicy.MaxAttempts. Explicit Register calls always make one attempt;
// background retries stop once the session budget is spent.
type RegistrationService struct {
	host   platform.PushHost
	store  repository.TokenStore
	api    TokenRegistrar
	events DiagnosticsSink // Can be nil if diagnostics are not wired
	policy RetryPolicy
	logger *zap.Logger

	mu       sync.Mutex // serializes registration flows
	attempts int
	retrying bool
	rejected bool // last attempt was refused by the server; background retries stop
	wg       sync.WaitGroup
}

func NewRegistrationService(
	host platform.PushHost,
	store repository.TokenStore,
	api TokenRegistrar,
	policy RetryPolicy,
	logger *zap.Logger,
) *RegistrationService {
	return &RegistrationService{
		host:   host,
		store:  store,
		api:    api,
		policy: policy.normalized(),
		logger: logger.Named("registration_service"),
	}
}

// SetDiagnosticsSink sets where TokenRegistered events go (optional).
func (s *RegistrationService) SetDiagnosticsSink(sink DiagnosticsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = sink
}

// Register obtains a push token and registers it for the owner.
//
// Registering an already-synced, unchanged token returns the stored token
// without a network call. On a transient failure the token is stored as
// unsynced and returned together with an error wrapping model.ErrNetwork,
// and a background retry is scheduled.
func (s *RegistrationService) Register(ctx context.Context, ownerID string, role model.OwnerRole) (*model.DeviceToken, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if !model.ValidOwnerRole(role) {
		return nil, fmt.Errorf("invalid owner role %q", role)
	}

	if err := s.host.RequestPermission(ctx); err != nil {
		if !errors.Is(err, model.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
		}
		s.logger.Warn("Push permission refused", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	value, err := s.host.PushToken(ctx)
	if err == nil && strings.TrimSpace(value) == "" {
		err = model.ErrTokenUnavailable
	}
	if err != nil {
		if !errors.Is(err, model.ErrTokenUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrTokenUnavailable, err)
		}
		s.logger.Warn("Push token unavailable", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	return s.register(ctx, value, ownerID, role, s.host.Platform())
}

// Refresh handles a token reissued by the platform: the current token is
// marked stale and the new value is registered for the same owner.
func (s *RegistrationService) Refresh(ctx context.Context, newValue string) (*model.DeviceToken, error) {
	newValue = strings.TrimSpace(newValue)
	if newValue == "" {
		return nil, fmt.Errorf("refresh token: %w", model.ErrTokenUnavailable)
	}

	s.mu.Lock()
	current, err := s.store.Load(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("load device token: %w", err)
	}
	if current == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("refresh token: no registered owner on this device")
	}
	if current.Value != newValue {
		current.SyncStatus = model.SyncStatusStale
		current.UpdatedAt = time.Now()
		if err := s.store.Save(ctx, current); err != nil {
			s.logger.Warn("Failed to mark token stale", zap.Error(err))
		}
		s.logger.Info("Platform reissued push token", zap.String("owner_id", current.OwnerID))
	}
	if tu, ok := s.host.(platform.TokenUpdater); ok {
		tu.SetToken(newValue)
	}
	s.mu.Unlock()

	return s.register(ctx, newValue, current.OwnerID, current.OwnerRole, current.Platform)
}

// Unregister removes the device's token from the backend and forgets it
// locally (logout). A token the server no longer knows is still forgotten;
// on a transient failure the stored token is kept so the call can be retried.
func (s *RegistrationService) Unregister(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load device token: %w", err)
	}
	if current == nil {
		return nil
	}

	if err := s.api.UnregisterToken(ctx, current.Value); err != nil {
		if model.IsTransient(err) {
			s.logger.Warn("Token unregistration FAILED", zap.String("owner_id", current.OwnerID), zap.Error(err))
			return fmt.Errorf("unregister token: %w", err)
		}
		s.logger.Info("Server did not know the token, forgetting it anyway",
			zap.String("owner_id", current.OwnerID), zap.Error(err))
	}

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear device token: %w", err)
	}
	metrics.RegistrationsTotal.WithLabelValues("unregistered").Inc()
	s.logger.Info("Token unregistered", zap.String("owner_id", current.OwnerID))
	return nil
}

// Current returns the stored token, or nil if the device never registered.
func (s *RegistrationService) Current(ctx context.Context) (*model.DeviceToken, error) {
	return s.store.Load(ctx)
}

// Wait blocks until any background retry has finished.
func (s *RegistrationService) Wait() {
	s.wg.Wait()
}

func (s *RegistrationService) register(ctx context.Context, value, ownerID string, role model.OwnerRole, p model.Platform) (*model.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device token: %w", err)
	}
	if current != nil && current.SyncStatus == model.SyncStatusSynced && current.SameRegistration(value, ownerID, role, p) {
		metrics.RegistrationsTotal.WithLabelValues("cached").Inc()
		s.logger.Debug("Token already synced, skipping registration", zap.String("owner_id", ownerID))
		return current, nil
	}

	token := &model.DeviceToken{
		Value:      value,
		Platform:   p,
		OwnerID:    ownerID,
		OwnerRole:  role,
		SyncStatus: model.SyncStatusUnsynced,
		UpdatedAt:  time.Now(),
	}

	s.rejected = false
	err = s.attemptLocked(ctx, token)
	if err != nil && model.IsTransient(err) {
		s.scheduleRetryLocked()
	}
	return token, err
}

// attemptLocked makes one network attempt and persists the outcome.
// token.SyncStatus reflects the result. Caller holds s.mu.
func (s *RegistrationService) attemptLocked(ctx context.Context, token *model.DeviceToken) error {
	s.attempts++
	attempt := s.attempts

	_, err := s.api.RegisterToken(ctx, model.RegisterTokenRequest{
		Token:     token.Value,
		OwnerID:   token.OwnerID,
		OwnerRole: token.OwnerRole,
		Platform:  token.Platform,
	})
	token.UpdatedAt = time.Now()

	if err != nil {
		token.SyncStatus = model.SyncStatusUnsynced
		if saveErr := s.store.Save(ctx, token); saveErr != nil {
			s.logger.Error("Failed to persist unsynced token", zap.Error(saveErr))
		}
		result := "rejected"
		if model.IsTransient(err) {
			result = "unsynced"
		} else {
			s.rejected = true
		}
		metrics.RegistrationsTotal.WithLabelValues(result).Inc()
		s.logger.Warn("Token registration FAILED",
			zap.String("owner_id", token.OwnerID),
			zap.Int("attempt", attempt),
			zap.Bool("transient", model.IsTransient(err)),
			zap.Error(err),
		)
		return fmt.Errorf("register token: %w", err)
	}

	token.SyncStatus = model.SyncStatusSynced
	if err := s.store.Save(ctx, token); err != nil {
		return fmt.Errorf("persist synced token: %w", err)
	}
	metrics.RegistrationsTotal.WithLabelValues("synced").Inc()
	s.logger.Info("Token registration OK",
		zap.String("owner_id", token.OwnerID),
		zap.String("platform", string(token.Platform)),
		zap.Int("attempt", attempt),
	)

	s.emitLocked(ctx, token, attempt)
	return nil
}

func (s *RegistrationService) emitLocked(ctx context.Context, token *model.DeviceToken, attempt int) {
	if s.events == nil {
		return
	}
	event := model.TokenRegistered{
		EventID:    uuid.New(),
		OwnerID:    token.OwnerID,
		OwnerRole:  token.OwnerRole,
		Platform:   token.Platform,
		SyncStatus: token.SyncStatus,
		Attempt:    attempt,
		At:         token.UpdatedAt,
	}
	if err := s.events.PublishTokenRegistered(ctx, event); err != nil {
		s.logger.Warn("Failed to publish TokenRegistered", zap.Error(err))
	}
}

// scheduleRetryLocked starts the background retry loop unless one is
// running or the session budget is spent. Caller holds s.mu.
func (s *RegistrationService) scheduleRetryLocked() {
	if s.retrying {
		return
	}
	remaining := s.policy.MaxAttempts - s.attempts
	if remaining <= 0 {
		s.logger.Warn("Registration retry budget exhausted for this session",
			zap.Int("attempts", s.attempts))
		return
	}

	s.retrying = true
	s.wg.Add(1)
	go s.retryLoop(remaining)
}

// retryLoop runs detached from the caller's context: retries run to
// completion or exhaustion.
func (s *RegistrationService) retryLoop(remaining int) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.retrying = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	b := s.policy.backOff(ctx, remaining+1)
	b.Reset()
	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Warn("Registration retries exhausted")
			return
		}
		time.Sleep(wait)
		if s.retryOnce(ctx) {
			return
		}
	}
}

// retryOnce re-registers whatever token is stored now, so a newer
// Register call supersedes the value this loop started with.
func (s *RegistrationService) retryOnce(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("Retry could not load token", zap.Error(err))
		return false
	}
	if current == nil || current.SyncStatus == model.SyncStatusSynced {
		return true
	}
	if s.rejected {
		s.logger.Info("Stored token was rejected, stopping background retries",
			zap.String("owner_id", current.OwnerID))
		return true
	}
	if s.attempts >= s.policy.MaxAttempts {
		s.logger.Warn("Registration retry budget exhausted for this session",
			zap.Int("attempts", s.attempts))
		return true
	}

	err = s.attemptLocked(ctx, current)
	return err == nil || !model.IsTransient(err)
}
