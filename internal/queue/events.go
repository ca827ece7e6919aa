package queue

import (
	"encoding/json"
	"fmt"

	"handyhub_push/internal/model"
)

// Stream names
const (
	// StreamPushEvents carries OS notification events from the host bridge.
	StreamPushEvents = "stream:push-events"

	// StreamDiagnostics carries TokenRegistered events for diagnostics tooling.
	StreamDiagnostics = "stream:push-diagnostics"
)

// OwnerStream is the per-owner event stream. Each owner's agents read only
// their own stream, so the consumer group never hands one owner's
// notification to another owner's agent.
func OwnerStream(ownerID string) string {
	if ownerID == "" {
		return StreamPushEvents
	}
	return StreamPushEvents + ":" + ownerID
}

// Consumer group name for push agents
const (
	ConsumerGroupPushAgents = "push_agents"
)

// KindTokenRegistered is the kind field of diagnostics messages.
const KindTokenRegistered = "token_registered"

// PlatformEventToMap converts the event to field-value pairs for XADD.
// The event is serialized to JSON in a "data" field, with "kind" alongside
// for readers that only peek at the stream.
func PlatformEventToMap(e model.PlatformEvent) (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal platform event: %w", err)
	}
	return map[string]interface{}{
		"kind": string(e.Kind),
		"data": string(data),
	}, nil
}

// ParsePlatformEvent parses a PlatformEvent from stream message values.
func ParsePlatformEvent(values map[string]interface{}) (model.PlatformEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return model.PlatformEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event model.PlatformEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return model.PlatformEvent{}, fmt.Errorf("unmarshal platform event: %w", err)
	}
	if event.Kind == "" {
		if kind, ok := values["kind"].(string); ok {
			event.Kind = model.PlatformEventKind(kind)
		}
	}
	switch event.Kind {
	case model.PlatformEventReceived, model.PlatformEventTapped, model.PlatformEventTokenRefreshed:
	default:
		return model.PlatformEvent{}, fmt.Errorf("unknown platform event kind %q", event.Kind)
	}
	return event, nil
}

// TokenRegisteredToMap converts a diagnostics event for XADD.
func TokenRegisteredToMap(e model.TokenRegistered) (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal token registered: %w", err)
	}
	return map[string]interface{}{
		"kind": KindTokenRegistered,
		"data": string(data),
	}, nil
}
