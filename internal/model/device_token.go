package model

import (
	"time"
)

// Platform identifies the host push platform.
type Platform string

// Platform constants
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// OwnerRole is the marketplace role of the device owner.
type OwnerRole string

const (
	OwnerRoleCustomer OwnerRole = "customer"
	OwnerRoleProvider OwnerRole = "provider"
)

// SyncStatus tracks whether the backend has acknowledged a token.
type SyncStatus string

const (
	SyncStatusUnsynced SyncStatus = "unsynced"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusStale    SyncStatus = "stale"
)

// DeviceToken is the device's push-registration token.
// The client holds exactly one current token.
type DeviceToken struct {
	Value      string     `db:"token" json:"-"` // Opaque, hidden from JSON
	Platform   Platform   `db:"platform" json:"platform"`
	OwnerID    string     `db:"owner_id" json:"ownerId"`
	OwnerRole  OwnerRole  `db:"owner_role" json:"ownerRole"`
	SyncStatus SyncStatus `db:"sync_status" json:"syncStatus"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// SameRegistration reports whether t describes the same registration as
// the given owner/platform/value tuple.
func (t *DeviceToken) SameRegistration(value, ownerID string, role OwnerRole, platform Platform) bool {
	return t.Value == value && t.OwnerID == ownerID && t.OwnerRole == role && t.Platform == platform
}

// RegisterTokenRequest is the request body for POST /push-tokens.
type RegisterTokenRequest struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"ownerId"`
	OwnerRole OwnerRole `json:"ownerRole"`
	Platform  Platform  `json:"platform"`
}

// UnregisterTokenRequest is the body of DELETE /push-tokens.
type UnregisterTokenRequest struct {
	Token string `json:"token"`
}

// RegisterTokenResponse is the response body for POST and DELETE /push-tokens.
type RegisterTokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ValidPlatform reports whether p is a supported platform.
func ValidPlatform(p Platform) bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// ValidOwnerRole reports whether r is a supported role.
func ValidOwnerRole(r OwnerRole) bool {
	return r == OwnerRoleCustomer || r == OwnerRoleProvider
}
