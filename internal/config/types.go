package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Poll     PollConfig     `json:"poll"`
	Source   SourceConfig   `json:"source"`
	Notifier NotifierConfig `json:"notifier"`
	// Storage is optional; nil or driver "none" disables the dispatch audit log.
	Storage *StorageConfig `json:"storage,omitempty"`
	Watch   []WatchConfig  `json:"watch"`
}

type TelegramConfig struct {
	// Token falls back to $TELEGRAM_BOT_TOKEN, then $telegram_bot_token.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// OperatorChatIDs receive failure alerts.
	OperatorChatIDs []int64 `json:"operator_chat_ids,omitempty"`
	GroupLog        string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Commands starts long polling and serves /start /id /status /watches.
	Commands bool `json:"commands,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PollConfig controls the scheduler.
//
// Interval accepts seconds (60), a Go duration ("60s"), HH:MM ("00:01") or a
// cron expression ("*/2 * * * *", "@every 45s").
type PollConfig struct {
	Interval Interval `json:"interval"`
	Workers  int      `json:"workers,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
}

type SourceConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int `json:"rate_per_sec,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the dispatch audit log.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./slotwatch_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// WatchConfig is one monitored key and its subscribers.
type WatchConfig struct {
	Kind        string  `json:"kind"`
	Code        Code    `json:"code"`
	Subscribers []int64 `json:"subscribers"`
}

// Code is a pincode or district id. YAML users tend to write it unquoted, so
// JSON numbers are accepted too.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	v, err := unmarshalScalar(b)
	if err != nil {
		return fmt.Errorf("code must be a string or number: %w", err)
	}
	*c = Code(v)
	return nil
}

// Interval is a poll schedule. A bare number means seconds.
type Interval string

func (i *Interval) UnmarshalJSON(b []byte) error {
	v, err := unmarshalScalar(b)
	if err != nil {
		return fmt.Errorf("interval must be a string or number: %w", err)
	}
	*i = Interval(v)
	return nil
}

func unmarshalScalar(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
