package model

import (
	"time"

	"github.com/google/uuid"
)

// PlatformEventKind is the kind of OS-level notification event.
type PlatformEventKind string

const (
	PlatformEventReceived       PlatformEventKind = "received"
	PlatformEventTapped         PlatformEventKind = "tapped"
	PlatformEventTokenRefreshed PlatformEventKind = "token_refreshed"
)

// PlatformEvent is a notification event delivered by the host platform.
// Delivery is at-least-once.
type PlatformEvent struct {
	Kind    PlatformEventKind `json:"kind"`
	OwnerID string            `json:"ownerId,omitempty"` // Set by the backend bridge
	Payload map[string]any    `json:"payload,omitempty"`
	Token   string            `json:"token,omitempty"` // token_refreshed only
	At      time.Time         `json:"at"`
}

// TokenRegistered is the diagnostics event emitted after a successful registration.
type TokenRegistered struct {
	EventID    uuid.UUID  `json:"eventId"`
	OwnerID    string     `json:"ownerId"`
	OwnerRole  OwnerRole  `json:"ownerRole"`
	Platform   Platform   `json:"platform"`
	SyncStatus SyncStatus `json:"syncStatus"`
	Attempt    int        `json:"attempt"`
	At         time.Time  `json:"at"`
}
