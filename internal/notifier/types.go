package notifier

import (
	"time"

	kit "slotwatch/internal/transport"
)

// Config controls the fan-out notifier.
type Config struct {
	// RatePerSec paces individual sends (token bucket, burst = rate).
	RatePerSec int
	// HistorySize bounds the in-memory dispatch history.
	HistorySize int
	// ParseMode is passed to the transport for every send.
	ParseMode string
	// Operators receive alerts. Empty means alerts are only logged.
	Operators []kit.ChatTarget
}

// Message is one text to deliver to a list of recipients.
// Key tags the message for logs and events (a poll key, or "alert").
type Message struct {
	Key  string
	Text string
	To   []kit.ChatTarget
	// Plain sends without a parse mode (alerts carry raw error text).
	Plain bool
}

// Result counts per-recipient outcomes of one fan-out.
type Result struct {
	Sent   int
	Failed int
}

type HistoryItem struct {
	At     time.Time
	Key    string
	Sent   int
	Failed int
}

// NotificationEvent is published on the bus once per recipient.
type NotificationEvent struct {
	Key      string    `json:"key"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Bytes    int       `json:"bytes"`
	At       time.Time `json:"at"`
	TookMS   int64     `json:"took_ms"`
	Error    string    `json:"error,omitempty"`
}
