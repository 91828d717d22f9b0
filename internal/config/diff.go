package config

import (
	"reflect"
	"sort"
	"strings"

	logx "slotwatch/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe to log; secrets are reduced to booleans.
	Attrs []logx.Field
	// Added and Removed list watch keys ("kind:code").
	Added   []string
	Removed []string
	// RestartRequired names settings that only apply on restart.
	RestartRequired []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares two configs for the reload log line.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.token")
	}
	if ot.Commands != nt.Commands {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.commands")
	}
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.poll_timeout")
	}
	if ot.Token != nt.Token || ot.Commands != nt.Commands ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		!reflect.DeepEqual(ot.OperatorChatIDs, nt.OperatorChatIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.operator_count", len(nt.OperatorChatIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Poll != newCfg.Poll {
		ch.Sections = append(ch.Sections, "poll")
		ch.Attrs = append(ch.Attrs,
			logx.String("poll.interval", strings.TrimSpace(string(newCfg.Poll.Interval))),
			logx.Int("poll.workers", newCfg.Poll.Workers),
			logx.String("poll.timezone", strings.TrimSpace(newCfg.Poll.Timezone)),
		)
	}

	if oldCfg.Source != newCfg.Source {
		ch.Sections = append(ch.Sections, "source")
		ch.RestartRequired = append(ch.RestartRequired, "source")
		ch.Attrs = append(ch.Attrs, logx.String("source.base_url", newCfg.Source.BaseURL))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		ch.Sections = append(ch.Sections, "notifier")
		ch.Attrs = append(ch.Attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.history_size", newCfg.Notifier.HistorySize),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		ch.Sections = append(ch.Sections, "storage")
		ch.RestartRequired = append(ch.RestartRequired, "storage")
		ch.Attrs = append(ch.Attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	ch.Added, ch.Removed = diffWatches(oldCfg.Watch, newCfg.Watch)
	if len(ch.Added) > 0 || len(ch.Removed) > 0 || !reflect.DeepEqual(oldCfg.Watch, newCfg.Watch) {
		ch.Sections = append(ch.Sections, "watch")
		ch.Attrs = append(ch.Attrs,
			logx.Int("watch.count", len(newCfg.Watch)),
			logx.Int("watch.added", len(ch.Added)),
			logx.Int("watch.removed", len(ch.Removed)),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}

func diffWatches(oldW, newW []WatchConfig) (added, removed []string) {
	keys := func(ws []WatchConfig) map[string]struct{} {
		m := make(map[string]struct{}, len(ws))
		for _, w := range ws {
			if k, err := w.Key(); err == nil {
				m[k.String()] = struct{}{}
			}
		}
		return m
	}
	o, n := keys(oldW), keys(newW)
	for k := range n {
		if _, ok := o[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range o {
		if _, ok := n[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
