package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the poller and the notifier.
const (
	TypePollFetchFailed = "poll.fetch_failed"
	TypePollEmpty       = "poll.empty"
	TypePollUnchanged   = "poll.unchanged"
	TypePollNotified    = "poll.notified"
	TypePollPanic       = "poll.panic"
	TypePassCompleted   = "poll.pass_completed"
	TypeNotifySent      = "notifier.sent"
	TypeNotifyFailed    = "notifier.failed"
)

// Event is a small in-memory signal. Data should be a small, JSON friendly value.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus is a non-blocking fan-out. Publish never blocks; slow subscribers drop events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock guarantees no Publish is mid-send on ch.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop is a Bus that discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Dropped() uint64 { return 0 }

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
