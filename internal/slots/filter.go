package slots

import (
	"strconv"
	"strings"
)

// Eligibility thresholds. A session matches when its capacity is strictly
// greater than MinCapacity and its age limit equals EligibleAge.
const (
	MinCapacity = 1
	EligibleAge = 18
)

// Summary is the rendered result of filtering one poll's centers.
// Text is empty when nothing matched.
type Summary struct {
	Text    string
	Matches int
}

func (s Summary) Empty() bool { return s.Text == "" }

// Eligible reports whether a session passes the eligibility rule.
func Eligible(s Session) bool {
	return s.AvailableCapacity > MinCapacity && s.MinAgeLimit == EligibleAge
}

// Summarize renders one block per center that has at least one eligible session:
//
//	<address> -> <name>
//	\t<date>, Slots: *<capacity>*, Age: <age>
//
// followed by a blank line. Centers and sessions keep source order.
func Summarize(centers []Center) Summary {
	var (
		b       strings.Builder
		matches int
	)
	for _, c := range centers {
		header := false
		for _, s := range c.Sessions {
			if !Eligible(s) {
				continue
			}
			if !header {
				b.WriteString(escapeMarkdown(c.Address))
				b.WriteString(" -> ")
				b.WriteString(escapeMarkdown(c.Name))
				b.WriteByte('\n')
				header = true
			}
			b.WriteByte('\t')
			b.WriteString(escapeMarkdown(s.Date))
			b.WriteString(", Slots: *")
			b.WriteString(strconv.Itoa(s.AvailableCapacity))
			b.WriteString("*, Age: ")
			b.WriteString(strconv.Itoa(s.MinAgeLimit))
			b.WriteByte('\n')
			matches++
		}
		if header {
			b.WriteByte('\n')
		}
	}
	return Summary{Text: b.String(), Matches: matches}
}

var mdEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// escapeMarkdown escapes the Telegram legacy Markdown entities.
func escapeMarkdown(s string) string {
	return mdEscaper.Replace(strings.TrimSpace(s))
}
