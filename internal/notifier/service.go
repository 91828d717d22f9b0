package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"slotwatch/internal/eventbus"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

const AlertKey = "alert"

// Service fans one text out to many recipients. Every recipient is attempted
// independently: a failed send is logged and counted, never retried, and
// never stops the remaining sends.
//
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender kit.Sender
	log    logx.Logger
	bus    eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the configuration (hot reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	cfg.Operators = append([]kit.ChatTarget(nil), cfg.Operators...)
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Notify sends m.Text to every recipient in m.To, in order.
func (s *Service) Notify(ctx context.Context, m Message) Result {
	s.mu.Lock()
	lim := s.limiter
	opts := &kit.SendOptions{ParseMode: s.cfg.ParseMode, DisablePreview: true}
	s.mu.Unlock()
	if m.Plain {
		opts.ParseMode = kit.ParseModeNone
	}

	var res Result
	if s.sender == nil || m.Text == "" {
		return res
	}
	for _, to := range m.To {
		if err := lim.Wait(ctx); err != nil {
			// Only a cancelled context gets here; count the rest as failed.
			s.log.Warn("fan-out interrupted", logx.String("key", m.Key), logx.Err(err))
			res.Failed += len(m.To) - res.Sent - res.Failed
			break
		}
		start := time.Now()
		_, err := s.sender.SendText(ctx, to, m.Text, opts)
		ev := NotificationEvent{
			Key:      m.Key,
			ChatID:   to.ChatID,
			ThreadID: to.ThreadID,
			Bytes:    len(m.Text),
			At:       time.Now(),
			TookMS:   time.Since(start).Milliseconds(),
		}
		if err != nil {
			res.Failed++
			ev.Error = err.Error()
			s.log.Warn("send failed",
				logx.String("key", m.Key),
				logx.Int64("chat_id", to.ChatID),
				logx.Err(err),
			)
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Time: ev.At, Data: ev})
			continue
		}
		res.Sent++
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Time: ev.At, Data: ev})
	}

	s.appendHistory(HistoryItem{At: time.Now(), Key: m.Key, Sent: res.Sent, Failed: res.Failed})
	s.log.Debug("fan-out done",
		logx.String("key", m.Key),
		logx.Int("recipients", len(m.To)),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
	)
	return res
}

// Alert sends text to the configured operator chats. With no operators it
// only logs.
func (s *Service) Alert(ctx context.Context, text string) {
	s.mu.Lock()
	ops := s.cfg.Operators
	s.mu.Unlock()

	if len(ops) == 0 {
		s.log.Debug("alert not delivered (no operator chats configured)", logx.String("text", text))
		return
	}
	s.Notify(ctx, Message{Key: AlertKey, Text: text, To: ops, Plain: true})
}

// Snapshot returns the recent dispatch history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}
