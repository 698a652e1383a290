// Package model defines the entities persisted by the local store and the
// sync envelope every remotely-synced entity carries.
package model

import (
	"fmt"
	"time"
)

// SyncStatus reports whether the local copy of an entity matches the last
// state acknowledged by the remote service.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

// ParseSyncStatus converts a persisted value back into a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch SyncStatus(s) {
	case SyncSynced, SyncPending, SyncFailed:
		return SyncStatus(s), nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// SyncEnvelope is embedded in every synced entity.
type SyncEnvelope struct {
	SyncStatus      SyncStatus `json:"sync_status"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
	SyncRetryCount  int        `json:"sync_retry_count"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
}

// MarkPending flags a local mutation that still has to reach the remote side.
// The retry counter is left alone: it only resets on acknowledgment.
func (e *SyncEnvelope) MarkPending() {
	e.SyncStatus = SyncPending
}

// MarkSynced records a successful remote acknowledgment.
func (e *SyncEnvelope) MarkSynced(serverTs time.Time) {
	ts := serverTs
	e.SyncStatus = SyncSynced
	e.ServerTimestamp = &ts
	e.SyncRetryCount = 0
}

// MarkFailed records a failed sync attempt at the given time.
func (e *SyncEnvelope) MarkFailed(at time.Time) {
	ts := at
	e.SyncStatus = SyncFailed
	e.SyncRetryCount++
	e.LastSyncAttempt = &ts
}

// NeedsSync reports whether the entity is waiting for (another) push.
func (e SyncEnvelope) NeedsSync() bool {
	return e.SyncStatus == SyncPending || e.SyncStatus == SyncFailed
}

// NewerThan reports whether e carries a server timestamp strictly after
// other's. An envelope without a server timestamp is never newer.
func (e SyncEnvelope) NewerThan(other SyncEnvelope) bool {
	if e.ServerTimestamp == nil {
		return false
	}
	if other.ServerTimestamp == nil {
		return true
	}
	return e.ServerTimestamp.After(*other.ServerTimestamp)
}

// Kind names a synced entity family.
type Kind string

const (
	KindUser         Kind = "user"
	KindConversation Kind = "conversation"
	KindMessage      Kind = "message"
	KindActionItem   Kind = "action_item"
)

// SyncedKinds lists the entity families drained by RemoteSync, in push order.
// Conversations go before their messages.
var SyncedKinds = []Kind{KindUser, KindConversation, KindMessage, KindActionItem}
