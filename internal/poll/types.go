package poll

import (
	"time"

	"slotwatch/internal/slots"
	kit "slotwatch/internal/transport"
)

// Watch is a monitored key and the chats subscribed to it.
type Watch struct {
	Key         slots.Key
	Subscribers []kit.ChatTarget
}

// State is the cross-cycle memory of one key: the fingerprint of the last
// summary that was dispatched. It starts at slots.NoFingerprint.
type State struct {
	Fingerprint slots.Fingerprint
	LastSentAt  time.Time
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeNotified    Outcome = "notified"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeEmpty       Outcome = "empty"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeStopped     Outcome = "stopped"
	OutcomePanic       Outcome = "panic"
)

// KeyStatus is a read-only view of one key for status output.
type KeyStatus struct {
	Key         slots.Key
	Subscribers int
	LastPollAt  time.Time
	LastOutcome Outcome
	LastError   string
	LastMatches int
	LastSentAt  time.Time
	Fingerprint slots.Fingerprint
}

// CycleEvent is published on the bus at the end of every cycle.
type CycleEvent struct {
	Key     string  `json:"key"`
	Outcome Outcome `json:"outcome"`
	Matches int     `json:"matches"`
	Sent    int     `json:"sent,omitempty"`
	Failed  int     `json:"failed,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// PassEvent is published when a pass completes.
type PassEvent struct {
	ID       string        `json:"id"`
	Keys     int           `json:"keys"`
	Notified int           `json:"notified"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}

// Snapshot is the scheduler state for /status.
type Snapshot struct {
	Schedule   string
	Workers    int
	Passes     uint64
	LastPassAt time.Time
	NextPassAt time.Time
	Keys       []KeyStatus
}
