package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub_push/internal/model"
)

func TestParsePlatformEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	values, err := PlatformEventToMap(model.PlatformEvent{
		Kind:    model.PlatformEventTapped,
		Payload: map[string]any{"notificationId": 1, "type": "message", "conversationId": 42},
		At:      at,
	})
	require.NoError(t, err)
	assert.Equal(t, "tapped", values["kind"])

	event, err := ParsePlatformEvent(values)
	require.NoError(t, err)
	assert.Equal(t, model.PlatformEventTapped, event.Kind)
	assert.True(t, at.Equal(event.At))

	id, ok := model.PayloadInt64(event.Payload, model.PayloadKeyNotificationID)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestParsePlatformEvent_KindFallback(t *testing.T) {
	event, err := ParsePlatformEvent(map[string]interface{}{
		"kind": "token_refreshed",
		"data": `{"token":"tok-2"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PlatformEventTokenRefreshed, event.Kind)
	assert.Equal(t, "tok-2", event.Token)
}

func TestParsePlatformEvent_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{name: "missing data", values: map[string]interface{}{"kind": "received"}},
		{name: "bad json", values: map[string]interface{}{"data": "{"}},
		{name: "unknown kind", values: map[string]interface{}{"data": `{"kind":"dismissed"}`}},
		{name: "no kind at all", values: map[string]interface{}{"data": `{}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlatformEvent(tt.values)
			assert.Error(t, err)
		})
	}
}

func TestTokenRegisteredToMap(t *testing.T) {
	values, err := TokenRegisteredToMap(model.TokenRegistered{OwnerID: "u-1", SyncStatus: model.SyncStatusSynced})
	require.NoError(t, err)
	assert.Equal(t, KindTokenRegistered, values["kind"])
	assert.Contains(t, values["data"], `"ownerId":"u-1"`)
}

func TestOwnerStream(t *testing.T) {
	assert.Equal(t, "stream:push-events:u-1", OwnerStream("u-1"))
	assert.Equal(t, StreamPushEvents, OwnerStream(""))
	assert.NotEqual(t, OwnerStream("u-1"), OwnerStream("u-2"))
}
