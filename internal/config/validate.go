package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // hosts without zoneinfo still resolve poll.timezone

	"slotwatch/internal/poll"
	"slotwatch/internal/slots"
)

// ErrMissingToken means neither the config file nor the environment carries a
// bot token. It is fatal at startup.
var ErrMissingToken = errors.New("telegram token missing: set telegram.token or TELEGRAM_BOT_TOKEN")

var storageDrivers = map[string]bool{"": true, "none": true, "file": true, "sqlite": true}

// Validate checks everything that can be checked without the network. All
// problems are reported at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(ErrMissingToken)
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add(fmt.Errorf("telegram.group_log: want a numeric chat id, got %q", g))
		}
	}

	loc, err := cfg.Location()
	add(err)
	if loc != nil {
		_, err = poll.ParseSchedule(string(cfg.Poll.Interval), loc)
		add(wrapField("poll.interval", err))
	}
	if cfg.Poll.Workers < 0 {
		add(fmt.Errorf("poll.workers must be >= 0"))
	}

	_, err = ParseDurationField("source.timeout", cfg.Source.Timeout)
	add(err)
	if u := strings.TrimSpace(cfg.Source.BaseURL); u != "" &&
		!strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		add(fmt.Errorf("source.base_url: want http(s) URL, got %q", u))
	}

	if cfg.Notifier.RatePerSec < 0 {
		add(fmt.Errorf("notifier.rate_per_sec must be >= 0"))
	}
	if cfg.Notifier.HistorySize < 0 {
		add(fmt.Errorf("notifier.history_size must be >= 0"))
	}

	if st := cfg.Storage; st != nil {
		d := strings.ToLower(strings.TrimSpace(st.Driver))
		if !storageDrivers[d] {
			add(fmt.Errorf("storage.driver: unknown driver %q (none|file|sqlite)", st.Driver))
		}
		if d == "sqlite" || d == "file" {
			if strings.TrimSpace(st.Path) == "" {
				add(fmt.Errorf("storage.path required for driver %q", d))
			}
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}

	seen := map[slots.Key]int{}
	for i, w := range cfg.Watch {
		path := fmt.Sprintf("watch[%d]", i)
		k, err := w.Key()
		if err != nil {
			add(fmt.Errorf("%s: %w", path, err))
			continue
		}
		if prev, dup := seen[k]; dup {
			add(fmt.Errorf("%s: %s already declared at watch[%d]", path, k, prev))
			continue
		}
		seen[k] = i
	}

	return errors.Join(errs...)
}

// Key parses the kind and code of a watch entry.
func (w WatchConfig) Key() (slots.Key, error) {
	kind, err := slots.ParseKind(w.Kind)
	if err != nil {
		return slots.Key{}, err
	}
	code := strings.TrimSpace(string(w.Code))
	if code == "" {
		return slots.Key{}, fmt.Errorf("code required")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return slots.Key{}, fmt.Errorf("code %q must be numeric", code)
		}
	}
	if kind == slots.KindPincode && len(code) != 6 {
		return slots.Key{}, fmt.Errorf("pincode %q must have 6 digits", code)
	}
	return slots.Key{Kind: kind, Code: code}, nil
}

// Location resolves poll.timezone (default Asia/Kolkata).
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Poll.Timezone)
	if tz == "" {
		tz = poll.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("poll.timezone: %w", err)
	}
	return loc, nil
}

func wrapField(path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}
