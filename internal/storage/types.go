package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DispatchEntry is one send attempt to one recipient.
type DispatchEntry struct {
	At       time.Time `json:"at"`
	Key      string    `json:"key"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Bytes    int       `json:"bytes"`
	TookMS   int64     `json:"took_ms"`
}

// PassEntry summarizes one scheduler pass.
type PassEntry struct {
	At       time.Time `json:"at"`
	ID       string    `json:"id"`
	Keys     int       `json:"keys"`
	Notified int       `json:"notified"`
	Failed   int       `json:"failed"`
	TookMS   int64     `json:"took_ms"`
}
