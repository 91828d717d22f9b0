package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

// Update is an inbound event from the chat platform.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget is a recipient: a chat and, for forum groups, a topic thread.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Parse modes understood by the Telegram adapter.
const (
	ParseModeNone     = ""
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers free text to one recipient.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender that can also receive updates (bot commands).
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is a single entry of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// Targets converts chat ids into chat targets, keeping order and duplicates.
func Targets(chatIDs []int64) []ChatTarget {
	out := make([]ChatTarget, 0, len(chatIDs))
	for _, id := range chatIDs {
		out = append(out, ChatTarget{ChatID: id})
	}
	return out
}
