package model

import (
	"time"
)

// NotificationType is the typed category of a notification, used for routing.
type NotificationType string

// Notification types
const (
	NotificationTypeBooking      NotificationType = "booking"
	NotificationTypeMessage      NotificationType = "message"
	NotificationTypeVerification NotificationType = "verification"
	NotificationTypeCertificate  NotificationType = "certificate"
	NotificationTypeCompletion   NotificationType = "completion"
	NotificationTypeBackjob      NotificationType = "backjob"
	NotificationTypeSystem       NotificationType = "system"
)

// Payload keys the client understands.
const (
	PayloadKeyNotificationID = "notificationId"
	PayloadKeyType           = "type"
	PayloadKeyTitle          = "title"
	PayloadKeyBody           = "body"
	PayloadKeyCreatedAt      = "createdAt"
	PayloadKeyConversationID = "conversationId"
)

// NotificationRecord is a single notification as seen by the device.
// ID is server-assigned and is the identity key for reconciliation.
type NotificationRecord struct {
	ID        int64            `db:"id" json:"id"`
	OwnerID   string           `db:"owner_id" json:"-"` // Recipient, backend side only
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"body"`
	Payload   map[string]any   `db:"-" json:"payload"`
	Read      bool             `db:"is_read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// Clone returns a deep copy so callers never share the payload map.
func (r NotificationRecord) Clone() NotificationRecord {
	out := r
	if r.Payload != nil {
		out.Payload = clonePayload(r.Payload)
	}
	return out
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = clonePayload(vv)
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// DayGroup is a set of records that share a calendar day of CreatedAt.
type DayGroup struct {
	Day     time.Time            `json:"day"`
	Records []NotificationRecord `json:"records"`
}

// MarkReadResponse is the body returned by the read endpoints.
type MarkReadResponse struct {
	Success bool `json:"success"`
}

// CreateNotificationRequest is the request body for POST /notifications on
// the reference backend. OwnerID defaults to the caller.
type CreateNotificationRequest struct {
	OwnerID string           `json:"ownerId,omitempty"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	Payload map[string]any   `json:"payload,omitempty"`
}

// ValidNotificationType reports whether t is a known type. Unknown types are
// still delivered and stored; they just never route anywhere.
func ValidNotificationType(t NotificationType) bool {
	switch t {
	case NotificationTypeBooking, NotificationTypeMessage, NotificationTypeVerification,
		NotificationTypeCertificate, NotificationTypeCompletion, NotificationTypeBackjob,
		NotificationTypeSystem:
		return true
	}
	return false
}

// PushPayload is the data payload delivered to the device for r: the
// record's routing fields plus its own payload keys.
func (r NotificationRecord) PushPayload() map[string]any {
	out := clonePayload(r.Payload)
	out[PayloadKeyNotificationID] = r.ID
	out[PayloadKeyType] = string(r.Type)
	out[PayloadKeyTitle] = r.Title
	out[PayloadKeyBody] = r.Body
	out[PayloadKeyCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339)
	return out
}
