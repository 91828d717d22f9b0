package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotwatch/internal/notifier"
	"slotwatch/internal/poll"
	kit "slotwatch/internal/transport"
)

// PollStatus is the read side of the poll scheduler.
type PollStatus interface {
	Snapshot() poll.Snapshot
}

// DispatchHistory is the read side of the notifier.
type DispatchHistory interface {
	Snapshot() []notifier.HistoryItem
}

const recentDispatches = 5

// Builtins returns /start, /id, /watches and the owner-only /status.
// Times are rendered in loc.
func Builtins(ps PollStatus, hist DispatchHistory, loc *time.Location) []Command {
	if loc == nil {
		loc = time.UTC
	}
	return []Command{
		{
			Name:        "start",
			Description: "show how to subscribe",
			Handle: func(ctx context.Context, req *Request) error {
				text := fmt.Sprintf("Hi! This chat's id is %d.\nSend it to the operator to receive slot alerts here.", req.Chat.ChatID)
				return req.Reply(ctx, text, kit.ParseModeNone)
			},
		},
		{
			Name:        "id",
			Aliases:     []string{"whoami"},
			Description: "show chat and user ids",
			Handle: func(ctx context.Context, req *Request) error {
				var b strings.Builder
				fmt.Fprintf(&b, "chat_id: %d\nuser_id: %d", req.Chat.ChatID, req.FromID)
				if req.Chat.ThreadID != 0 {
					fmt.Fprintf(&b, "\nthread_id: %d", req.Chat.ThreadID)
				}
				return req.Reply(ctx, b.String(), kit.ParseModeNone)
			},
		},
		{
			Name:        "watches",
			Description: "list monitored pincodes and districts",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, watchesText(ps.Snapshot()), kit.ParseModeNone)
			},
		},
		{
			Name:        "status",
			Description: "poller status",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, statusText(ps.Snapshot(), hist.Snapshot(), loc), kit.ParseModeNone)
			},
		},
	}
}

func watchesText(s poll.Snapshot) string {
	if len(s.Keys) == 0 {
		return "No keys are being watched."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Watching %d keys:", len(s.Keys))
	for _, k := range s.Keys {
		fmt.Fprintf(&b, "\n- %s (%d subscribers)", k.Key, k.Subscribers)
	}
	return b.String()
}

func statusText(s poll.Snapshot, hist []notifier.HistoryItem, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "schedule: %s, workers: %d\n", s.Schedule, s.Workers)
	fmt.Fprintf(&b, "passes: %d, last: %s, next: %s\n", s.Passes, stamp(s.LastPassAt, loc), stamp(s.NextPassAt, loc))
	for _, k := range s.Keys {
		out := string(k.LastOutcome)
		if out == "" {
			out = "pending"
		}
		fmt.Fprintf(&b, "\n%s: %s", k.Key, out)
		if k.LastOutcome != poll.OutcomeNone {
			fmt.Fprintf(&b, " at %s", stamp(k.LastPollAt, loc))
		}
		if k.LastMatches > 0 {
			fmt.Fprintf(&b, ", %d matches", k.LastMatches)
		}
		if !k.LastSentAt.IsZero() {
			fmt.Fprintf(&b, ", sent %s [%s]", stamp(k.LastSentAt, loc), k.Fingerprint.Short())
		}
		if k.LastError != "" {
			fmt.Fprintf(&b, "\n  error: %s", k.LastError)
		}
	}
	if len(hist) > 0 {
		b.WriteString("\n\nrecent dispatches:")
		start := max(0, len(hist)-recentDispatches)
		for _, h := range hist[start:] {
			fmt.Fprintf(&b, "\n- %s %s sent=%d failed=%d", stamp(h.At, loc), h.Key, h.Sent, h.Failed)
		}
	}
	return b.String()
}

func stamp(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("02-01 15:04:05")
}
