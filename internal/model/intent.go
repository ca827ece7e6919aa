package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// IntentKind is the kind of local mutation awaiting server confirmation.
type IntentKind string

const (
	IntentKindMarkRead IntentKind = "mark_read"
)

// IntentState is the reconciliation state of an intent.
type IntentState string

const (
	IntentPending   IntentState = "pending"
	IntentConfirmed IntentState = "confirmed"
	IntentFailed    IntentState = "failed"
	IntentAbandoned IntentState = "abandoned"
	IntentCancelled IntentState = "cancelled"
)

// ReconciliationIntent is a pending local mutation not yet confirmed by the server.
//
// All is set for a bulk mark-all-read intent, in which case RecordID is zero.
// Affected lists the records whose local state was flipped optimistically and
// must be reverted if the intent is abandoned after transient failures.
type ReconciliationIntent struct {
	ID        uuid.UUID   `json:"id"`
	RecordID  int64       `json:"recordId,omitempty"`
	All       bool        `json:"all,omitempty"`
	Kind      IntentKind  `json:"kind"`
	Attempt   int         `json:"attempt"`
	State     IntentState `json:"state"`
	Affected  []int64     `json:"affected,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// IntentKeyAll is the key of the bulk intent.
const IntentKeyAll = "ALL"

// NewMarkReadIntent creates a pending intent for a single record.
func NewMarkReadIntent(recordID int64, affected []int64) ReconciliationIntent {
	return ReconciliationIntent{
		ID:        uuid.New(),
		RecordID:  recordID,
		Kind:      IntentKindMarkRead,
		State:     IntentPending,
		Affected:  affected,
		CreatedAt: time.Now(),
	}
}

// NewMarkAllReadIntent creates a pending bulk intent.
func NewMarkAllReadIntent(affected []int64) ReconciliationIntent {
	return ReconciliationIntent{
		ID:        uuid.New(),
		All:       true,
		Kind:      IntentKindMarkRead,
		State:     IntentPending,
		Affected:  affected,
		CreatedAt: time.Now(),
	}
}

// Key identifies the intent slot: the record id, or "ALL".
func (i ReconciliationIntent) Key() string {
	if i.All {
		return IntentKeyAll
	}
	return strconv.FormatInt(i.RecordID, 10)
}
