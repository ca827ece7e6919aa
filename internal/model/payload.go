package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RecordFromPayload decodes a push payload into a NotificationRecord.
// The payload must carry a positive notificationId and a type; everything
// else is optional. Unknown keys are kept in Payload for the router.
// CreatedAt stays zero unless the payload carries a valid createdAt.
func RecordFromPayload(payload map[string]any) (NotificationRecord, error) {
	if payload == nil {
		return NotificationRecord{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	id, ok := PayloadInt64(payload, PayloadKeyNotificationID)
	if !ok || id <= 0 {
		return NotificationRecord{}, fmt.Errorf("%w: missing notificationId", ErrMalformedPayload)
	}

	typ, _ := PayloadString(payload, PayloadKeyType)
	if typ == "" {
		return NotificationRecord{}, fmt.Errorf("%w: missing type for notification %d", ErrMalformedPayload, id)
	}

	record := NotificationRecord{
		ID:      id,
		Type:    NotificationType(typ),
		Payload: make(map[string]any, len(payload)),
	}
	record.Title, _ = PayloadString(payload, PayloadKeyTitle)
	record.Body, _ = PayloadString(payload, PayloadKeyBody)

	if raw, ok := PayloadString(payload, PayloadKeyCreatedAt); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			record.CreatedAt = ts
		}
	}

	for k, v := range payload {
		switch k {
		case PayloadKeyNotificationID, PayloadKeyType, PayloadKeyTitle, PayloadKeyBody, PayloadKeyCreatedAt:
			continue
		}
		record.Payload[k] = v
	}
	return record, nil
}

// PayloadString reads key as a string. Numbers are rendered in decimal so
// ids survive platforms that stringify or numberify data fields.
func PayloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	switch vv := v.(type) {
	case string:
		s := strings.TrimSpace(vv)
		return s, s != ""
	case float64:
		if vv == math.Trunc(vv) {
			return strconv.FormatInt(int64(vv), 10), true
		}
		return strconv.FormatFloat(vv, 'f', -1, 64), true
	case int:
		return strconv.Itoa(vv), true
	case int64:
		return strconv.FormatInt(vv, 10), true
	case json.Number:
		return vv.String(), true
	default:
		return "", false
	}
}

// PayloadInt64 reads key as an integer.
func PayloadInt64(payload map[string]any, key string) (int64, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, false
	}
	switch vv := v.(type) {
	case float64:
		if vv != math.Trunc(vv) {
			return 0, false
		}
		return int64(vv), true
	case int:
		return int64(vv), true
	case int64:
		return vv, true
	case json.Number:
		n, err := vv.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(vv), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
