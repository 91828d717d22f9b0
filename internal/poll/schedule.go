package poll

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is the pause between passes when nothing is configured.
const DefaultInterval = 60 * time.Second

// Schedule decides when the next pass starts, given when the last one ended.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every sleeps a fixed duration after each pass.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e Every) String() string                 { return time.Duration(e).String() }

type cronSchedule struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

func (c cronSchedule) Next(after time.Time) time.Time {
	if c.loc != nil {
		after = after.In(c.loc)
	}
	return c.sched.Next(after)
}

func (c cronSchedule) String() string { return "cron(" + c.expr + ")" }

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule accepts:
//   - seconds: "60"
//   - Go duration: "60s", "2m"
//   - HH:MM interval: "00:02" (two minutes)
//   - cron: "*/2 * * * *", "@every 45s", "@hourly"
//
// "cron:" and "every:" prefixes force a form. Cron ticks are computed in loc.
func ParseSchedule(raw string, loc *time.Location) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Every(DefaultInterval), nil
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), loc)
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return nil, err
		}
		return Every(d), nil
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s, loc)
	}
	d, err := parseInterval(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use seconds like '60', a duration like '60s', HH:MM like '00:02', or cron like '*/2 * * * *')", raw)
	}
	return Every(d), nil
}

func parseCron(expr string, loc *time.Location) (Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return cronSchedule{expr: expr, sched: sched, loc: loc}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if n, err := strconv.Atoi(v); err == nil {
		// Bare integers are seconds.
		d = time.Duration(n) * time.Second
	} else if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", v, err)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
