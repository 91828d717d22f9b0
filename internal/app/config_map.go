package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"slotwatch/internal/config"
	"slotwatch/internal/notifier"
	"slotwatch/internal/poll"
	"slotwatch/internal/source/cowin"
	"slotwatch/internal/storage"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget returns the Telegram log sink chat, or 0 when unset.
func logTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		HistorySize: cfg.Notifier.HistorySize,
		ParseMode:   kit.ParseModeMarkdown,
		Operators:   kit.Targets(cfg.Telegram.OperatorChatIDs),
	}
}

// mapPollConfig builds the scheduler config. A non-empty interval overrides
// poll.interval (the -interval flag).
func mapPollConfig(cfg *config.Config, interval string) (poll.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return poll.Config{}, err
	}
	raw := string(cfg.Poll.Interval)
	if strings.TrimSpace(interval) != "" {
		raw = interval
	}
	sched, err := poll.ParseSchedule(raw, loc)
	if err != nil {
		return poll.Config{}, fmt.Errorf("poll.interval: %w", err)
	}
	return poll.Config{Schedule: sched, Workers: cfg.Poll.Workers, Location: loc}, nil
}

func mapWatches(cfg *config.Config) ([]poll.Watch, error) {
	out := make([]poll.Watch, 0, len(cfg.Watch))
	for i, w := range cfg.Watch {
		k, err := w.Key()
		if err != nil {
			return nil, fmt.Errorf("watch[%d]: %w", i, err)
		}
		out = append(out, poll.Watch{Key: k, Subscribers: kit.Targets(w.Subscribers)})
	}
	return out, nil
}

func mapSourceConfig(cfg *config.Config) (cowin.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, cowin.DefaultTimeout)
	if err != nil {
		return cowin.Config{}, err
	}
	return cowin.Config{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   timeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}
