package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"handyhub_push/internal/backend"
	"handyhub_push/internal/cache"
	"handyhub_push/internal/handler"
	"handyhub_push/internal/httputil"
	"handyhub_push/internal/model"
	"handyhub_push/internal/platform"
	"handyhub_push/internal/repository"
	"handyhub_push/internal/service"
	authmw "handyhub_push/internal/transport/http/middleware"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T, limiter *authmw.RateLimiter) stdhttp.Handler {
	t.Helper()
	delivery := service.NewDeliveryService(
		repository.NewMemoryNotificationRepository(),
		repository.NewMemoryDeviceTokenRepository(),
		nil,
		zap.NewNop(),
	)
	return NewRouter(RouterConfig{
		NotificationHandler: handler.NewNotificationHandler(delivery, zap.NewNop()),
		JWTSecret:           testSecret,
		RateLimiter:         limiter,
		Logger:              zap.NewNop(),
	})
}

func tokenFor(t *testing.T, ownerID string) string {
	t.Helper()
	tok, err := service.NewTokenIssuer(testSecret, time.Hour).Issue(ownerID)
	require.NoError(t, err)
	return tok
}

func doRequest(t *testing.T, h stdhttp.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := doRequest(t, router, stdhttp.MethodGet, "/health", "", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	router := newTestRouter(t, nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"owner_id": "u-1",
		"exp":      time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)

	noOwner := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	noOwnerToken, err := noOwner.SignedString([]byte(testSecret))
	require.NoError(t, err)

	wrongKey, err := service.NewTokenIssuer("other-secret", time.Hour).Issue("u-1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{name: "missing token", token: "", wantCode: httputil.ErrCodeUnauthorized},
		{name: "expired token", token: expiredToken, wantCode: httputil.ErrCodeTokenExpired},
		{name: "wrong signature", token: wrongKey, wantCode: httputil.ErrCodeTokenInvalid},
		{name: "missing owner claim", token: noOwnerToken, wantCode: httputil.ErrCodeTokenInvalid},
		{name: "garbage", token: "not-a-jwt", wantCode: httputil.ErrCodeTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, stdhttp.MethodGet, "/notifications", tt.token, nil)
			assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestRegisterToken(t *testing.T) {
	router := newTestRouter(t, nil)
	token := tokenFor(t, "u-1")

	valid := model.RegisterTokenRequest{Token: "tok", OwnerID: "u-1", OwnerRole: model.OwnerRoleProvider, Platform: model.PlatformAndroid}
	rec := doRequest(t, router, stdhttp.MethodPost, "/push-tokens", token, valid)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var resp model.RegisterTokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)

	other := valid
	other.OwnerID = "u-2"
	rec = doRequest(t, router, stdhttp.MethodPost, "/push-tokens", token, other)
	assert.Equal(t, stdhttp.StatusForbidden, rec.Code)

	bad := valid
	bad.Platform = "web"
	rec = doRequest(t, router, stdhttp.MethodPost, "/push-tokens", token, bad)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
}

func TestUnregisterToken(t *testing.T) {
	router := newTestRouter(t, nil)
	token := tokenFor(t, "u-1")
	valid := model.RegisterTokenRequest{Token: "tok-1", OwnerID: "u-1", OwnerRole: model.OwnerRoleCustomer, Platform: model.PlatformIOS}
	require.Equal(t, stdhttp.StatusOK, doRequest(t, router, stdhttp.MethodPost, "/push-tokens", token, valid).Code)

	// Another owner cannot remove it
	rec := doRequest(t, router, stdhttp.MethodDelete, "/push-tokens", tokenFor(t, "u-2"), model.UnregisterTokenRequest{Token: "tok-1"})
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)

	rec = doRequest(t, router, stdhttp.MethodDelete, "/push-tokens", token, model.UnregisterTokenRequest{Token: "tok-1"})
	assert.Equal(t, stdhttp.StatusOK, rec.Code)

	rec = doRequest(t, router, stdhttp.MethodDelete, "/push-tokens", token, model.UnregisterTokenRequest{Token: "tok-1"})
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, httputil.ErrCodeNotFound, errorCode(t, rec))

	rec = doRequest(t, router, stdhttp.MethodDelete, "/push-tokens", token, model.UnregisterTokenRequest{})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
}

func TestNotificationsLifecycle(t *testing.T) {
	router := newTestRouter(t, nil)
	token := tokenFor(t, "u-1")

	// Create two notifications for the caller
	for _, typ := range []model.NotificationType{model.NotificationTypeBooking, model.NotificationTypeMessage} {
		rec := doRequest(t, router, stdhttp.MethodPost, "/notifications", token, model.CreateNotificationRequest{Type: typ, Title: "t"})
		require.Equal(t, stdhttp.StatusCreated, rec.Code)
	}

	rec := doRequest(t, router, stdhttp.MethodGet, "/notifications?limit=10", token, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var list []model.NotificationRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 2)

	// Mark one read twice: idempotent
	rec = doRequest(t, router, stdhttp.MethodPost, "/notifications/1/read", token, nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	rec = doRequest(t, router, stdhttp.MethodPost, "/notifications/1/read", token, nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)

	// Another owner cannot see or mark it
	rec = doRequest(t, router, stdhttp.MethodPost, "/notifications/1/read", tokenFor(t, "u-2"), nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)

	rec = doRequest(t, router, stdhttp.MethodPost, "/notifications/abc/read", token, nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, stdhttp.MethodGet, "/notifications?limit=-1", token, nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, stdhttp.MethodPost, "/notifications/read-all", token, nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)

	rec = doRequest(t, router, stdhttp.MethodGet, "/notifications", token, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	for _, n := range list {
		assert.True(t, n.Read)
	}
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(t, authmw.NewRateLimiter(0.001, 2))
	token := tokenFor(t, "u-1")

	assert.Equal(t, stdhttp.StatusOK, doRequest(t, router, stdhttp.MethodGet, "/notifications", token, nil).Code)
	assert.Equal(t, stdhttp.StatusOK, doRequest(t, router, stdhttp.MethodGet, "/notifications", token, nil).Code)

	rec := doRequest(t, router, stdhttp.MethodGet, "/notifications", token, nil)
	assert.Equal(t, stdhttp.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httputil.ErrCodeRateLimited, errorCode(t, rec))

	// Limits are per owner
	assert.Equal(t, stdhttp.StatusOK, doRequest(t, router, stdhttp.MethodGet, "/notifications", tokenFor(t, "u-2"), nil).Code)
}

// TestAgentAgainstBackend drives the device-side pipeline against the real
// router over HTTP: register, sync, tap, and confirm the read reached the server.
func TestAgentAgainstBackend(t *testing.T) {
	// ARRANGE
	router := newTestRouter(t, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	token := tokenFor(t, "u-1")
	api := backend.NewClient(srv.Client(), srv.URL, token, zap.NewNop())

	rec := doRequest(t, router, stdhttp.MethodPost, "/notifications", token, model.CreateNotificationRequest{
		Type:    model.NotificationTypeMessage,
		Title:   "New message",
		Payload: map[string]any{"conversationId": 42},
	})
	require.Equal(t, stdhttp.StatusCreated, rec.Code)
	var created model.NotificationRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	policy := service.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	notifCache := cache.NewNotificationCache(zap.NewNop())
	reconciler := service.NewReadStateReconciler(api, notifCache, policy, zap.NewNop())
	notifCache.SetIntentSink(reconciler)
	inbox := service.NewNotificationService(notifCache, reconciler, api, nil, 20, zap.NewNop())

	registration := service.NewRegistrationService(
		platform.NewStaticHost(model.PlatformIOS, "device-token", true),
		repository.NewMemoryTokenStore(),
		api,
		policy,
		zap.NewNop(),
	)

	// ACT
	devToken, err := registration.Register(ctx, "u-1", model.OwnerRoleCustomer)
	require.NoError(t, err)

	added, err := inbox.Sync(ctx)
	require.NoError(t, err)

	target, ok, err := inbox.Open(ctx, created.ID)
	require.NoError(t, err)
	reconciler.Wait()

	// ASSERT
	assert.Equal(t, model.SyncStatusSynced, devToken.SyncStatus)
	assert.Equal(t, 1, added)
	require.True(t, ok)
	assert.Equal(t, model.ScreenChat, target.Screen)
	assert.Equal(t, "42", target.Params["conversationId"])

	server, err := api.ListNotifications(ctx, 20)
	require.NoError(t, err)
	require.Len(t, server, 1)
	assert.True(t, server[0].Read)
	assert.Equal(t, 0, inbox.UnreadCount())
}
