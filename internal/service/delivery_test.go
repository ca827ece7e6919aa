package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"handyhub_push/internal/model"
	"handyhub_push/internal/queue"
	"handyhub_push/internal/repository"
)

type mockPublisher struct {
	mu      sync.Mutex
	streams []string
	events  []model.PlatformEvent
	err     error
}

func (m *mockPublisher) Publish(ctx context.Context, stream string, event model.PlatformEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.streams = append(m.streams, stream)
	m.events = append(m.events, event)
	return "1-0", nil
}

func newDeliveryFixture(pub EventPublisher) (*DeliveryService, repository.NotificationRepository, repository.DeviceTokenRepository) {
	notifRepo := repository.NewMemoryNotificationRepository()
	tokenRepo := repository.NewMemoryDeviceTokenRepository()
	return NewDeliveryService(notifRepo, tokenRepo, pub, zap.NewNop()), notifRepo, tokenRepo
}

func TestRegisterDeviceToken_Validation(t *testing.T) {
	svc, _, _ := newDeliveryFixture(nil)
	valid := model.RegisterTokenRequest{
		Token: "tok", OwnerID: "u-1", OwnerRole: model.OwnerRoleCustomer, Platform: model.PlatformIOS,
	}

	tests := []struct {
		name   string
		mutate func(r *model.RegisterTokenRequest)
		caller string
		want   error
	}{
		{name: "valid", mutate: func(r *model.RegisterTokenRequest) {}, caller: "u-1"},
		{name: "missing token", mutate: func(r *model.RegisterTokenRequest) { r.Token = " " }, caller: "u-1", want: ErrInvalidRequest},
		{name: "missing owner", mutate: func(r *model.RegisterTokenRequest) { r.OwnerID = "" }, caller: "u-1", want: ErrInvalidRequest},
		{name: "bad role", mutate: func(r *model.RegisterTokenRequest) { r.OwnerRole = "admin" }, caller: "u-1", want: ErrInvalidRequest},
		{name: "bad platform", mutate: func(r *model.RegisterTokenRequest) { r.Platform = "web" }, caller: "u-1", want: ErrInvalidRequest},
		{name: "other owner", mutate: func(r *model.RegisterTokenRequest) {}, caller: "u-2", want: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := svc.RegisterDeviceToken(context.Background(), tt.caller, req)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegisterDeviceToken_LatestWinsPerPlatform(t *testing.T) {
	svc, _, tokenRepo := newDeliveryFixture(nil)
	ctx := context.Background()
	req := model.RegisterTokenRequest{
		Token: "tok-1", OwnerID: "u-1", OwnerRole: model.OwnerRoleProvider, Platform: model.PlatformAndroid,
	}

	require.NoError(t, svc.RegisterDeviceToken(ctx, "u-1", req))
	req.Token = "tok-2"
	require.NoError(t, svc.RegisterDeviceToken(ctx, "u-1", req))

	tokens, err := tokenRepo.GetByOwner(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "tok-2", tokens[0].Value)
}

func TestUnregisterDeviceToken(t *testing.T) {
	pub := &mockPublisher{}
	svc, _, tokenRepo := newDeliveryFixture(pub)
	ctx := context.Background()
	require.NoError(t, svc.RegisterDeviceToken(ctx, "u-1", model.RegisterTokenRequest{
		Token: "tok", OwnerID: "u-1", OwnerRole: model.OwnerRoleCustomer, Platform: model.PlatformAndroid,
	}))

	assert.ErrorIs(t, svc.UnregisterDeviceToken(ctx, "u-2", "tok"), model.ErrRecordNotFound)
	assert.ErrorIs(t, svc.UnregisterDeviceToken(ctx, "u-1", " "), ErrInvalidRequest)
	require.NoError(t, svc.UnregisterDeviceToken(ctx, "u-1", "tok"))

	tokens, err := tokenRepo.GetByOwner(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	// No device left: creating a notification pushes nothing
	_, err = svc.CreateNotification(ctx, "u-1", model.CreateNotificationRequest{Type: model.NotificationTypeBooking})
	require.NoError(t, err)
	assert.Empty(t, pub.events)
}

func TestCreateNotification_PushesToRegisteredDevice(t *testing.T) {
	// ARRANGE
	pub := &mockPublisher{}
	svc, _, _ := newDeliveryFixture(pub)
	ctx := context.Background()
	require.NoError(t, svc.RegisterDeviceToken(ctx, "u-1", model.RegisterTokenRequest{
		Token: "tok", OwnerID: "u-1", OwnerRole: model.OwnerRoleCustomer, Platform: model.PlatformIOS,
	}))

	// ACT
	rec, err := svc.CreateNotification(ctx, "u-1", model.CreateNotificationRequest{
		Type:    model.NotificationTypeMessage,
		Title:   "New message",
		Payload: map[string]any{"conversationId": "42"},
	})

	// ASSERT
	require.NoError(t, err)
	assert.Positive(t, rec.ID)
	assert.Equal(t, "u-1", rec.OwnerID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.OwnerStream("u-1"), pub.streams[0])
	event := pub.events[0]
	assert.Equal(t, model.PlatformEventReceived, event.Kind)
	assert.Equal(t, "u-1", event.OwnerID)

	decoded, err := model.RecordFromPayload(event.Payload)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, decoded.ID)
	assert.Equal(t, model.NotificationTypeMessage, decoded.Type)
	assert.Equal(t, "42", decoded.Payload["conversationId"])
}

func TestCreateNotification_NoDeviceNoPush(t *testing.T) {
	pub := &mockPublisher{}
	svc, notifRepo, _ := newDeliveryFixture(pub)

	_, err := svc.CreateNotification(context.Background(), "u-1", model.CreateNotificationRequest{
		OwnerID: "u-9", Type: model.NotificationTypeBooking,
	})
	require.NoError(t, err)
	assert.Empty(t, pub.events)

	records, err := notifRepo.List(context.Background(), "u-9", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCreateNotification_PushFailureDoesNotFail(t *testing.T) {
	pub := &mockPublisher{err: errors.New("redis down")}
	svc, _, _ := newDeliveryFixture(pub)
	ctx := context.Background()
	require.NoError(t, svc.RegisterDeviceToken(ctx, "u-1", model.RegisterTokenRequest{
		Token: "tok", OwnerID: "u-1", OwnerRole: model.OwnerRoleCustomer, Platform: model.PlatformIOS,
	}))

	rec, err := svc.CreateNotification(ctx, "u-1", model.CreateNotificationRequest{Type: model.NotificationTypeBooking})
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestCreateNotification_RequiresType(t *testing.T) {
	svc, _, _ := newDeliveryFixture(nil)

	_, err := svc.CreateNotification(context.Background(), "u-1", model.CreateNotificationRequest{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMarkAsRead_OwnershipAndIdempotence(t *testing.T) {
	svc, _, _ := newDeliveryFixture(nil)
	ctx := context.Background()
	rec, err := svc.CreateNotification(ctx, "u-1", model.CreateNotificationRequest{Type: model.NotificationTypeBooking})
	require.NoError(t, err)

	require.NoError(t, svc.MarkAsRead(ctx, "u-1", rec.ID))
	require.NoError(t, svc.MarkAsRead(ctx, "u-1", rec.ID))

	assert.ErrorIs(t, svc.MarkAsRead(ctx, "u-2", rec.ID), model.ErrRecordNotFound)
	assert.ErrorIs(t, svc.MarkAsRead(ctx, "u-1", 0), ErrInvalidRequest)

	list, err := svc.ListNotifications(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
}

func TestListNotifications_ClampsLimit(t *testing.T) {
	svc, _, _ := newDeliveryFixture(nil)
	ctx := context.Background()
	for i := 0; i < MaxListLimit+5; i++ {
		_, err := svc.CreateNotification(ctx, "u-1", model.CreateNotificationRequest{Type: model.NotificationTypeSystem})
		require.NoError(t, err)
	}

	list, err := svc.ListNotifications(ctx, "u-1", 1000)
	require.NoError(t, err)
	assert.Len(t, list, MaxListLimit)

	list, err = svc.ListNotifications(ctx, "u-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, DefaultListLimit)
}

func TestTokenIssuer_Issue(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	signed, err := issuer.Issue("u-1")
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "u-1", claims["owner_id"])

	_, err = issuer.Issue("")
	assert.Error(t, err)
	_, err = NewTokenIssuer("", 0).Issue("u-1")
	assert.Error(t, err)
}
