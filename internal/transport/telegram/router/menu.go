package router

import (
	"strings"
	"unicode"

	kit "slotwatch/internal/transport"
)

// sanitizeCommand converts a name into a Telegram-safe bot command,
// restricted to [a-z0-9_]{1,32} and starting with a letter.
func sanitizeCommand(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "/")
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		return ""
	}
	return out
}

// buildMenu lists public commands in registration order. Owner-only
// commands stay out of the menu.
func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) == 100 {
			break
		}
	}
	return out
}
