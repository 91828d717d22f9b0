package poll

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"slotwatch/internal/eventbus"
	"slotwatch/internal/slots"
	"slotwatch/pkg/logx"
)

// DefaultTimezone is the zone used for the request date.
const DefaultTimezone = "Asia/Kolkata"

// Config holds the scheduler knobs that can change on reload.
type Config struct {
	Schedule Schedule
	// Workers > 1 polls keys of a pass concurrently, at most Workers at a time.
	Workers  int
	Location *time.Location
}

// Deps are the collaborators of every worker.
type Deps struct {
	Source     Source
	Dispatcher Dispatcher
	// Alerter may be nil; panics are then only logged.
	Alerter Alerter
	Bus     eventbus.Bus
	Now     func() time.Time
}

// Scheduler drives passes over the watch list until its context ends.
type Scheduler struct {
	log  logx.Logger
	deps Deps

	mu       sync.Mutex
	cfg      Config
	order    []slots.Key
	workers  map[slots.Key]*Worker
	pending  []Watch
	swap     bool
	passes   uint64
	lastPass time.Time
	nextPass time.Time
}

func NewScheduler(cfg Config, watches []Watch, deps Deps, log logx.Logger) *Scheduler {
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Scheduler{
		log:     log.With(logx.String("comp", "poll")),
		deps:    deps,
		cfg:     normalizeConfig(cfg),
		workers: map[slots.Key]*Worker{},
	}
	s.applyWatchesLocked(watches)
	return s
}

func normalizeConfig(cfg Config) Config {
	if cfg.Schedule == nil {
		cfg.Schedule = Every(DefaultInterval)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return cfg
}

// Apply swaps schedule, parallelism and timezone. It takes effect at the next
// pass boundary.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = normalizeConfig(cfg)
	s.mu.Unlock()
}

// SetWatches replaces the watch list at the next pass boundary. Surviving keys
// keep their state; new keys start with no fingerprint.
func (s *Scheduler) SetWatches(ws []Watch) {
	cp := append([]Watch(nil), ws...)
	s.mu.Lock()
	s.pending = cp
	s.swap = true
	s.mu.Unlock()
}

func (s *Scheduler) applyWatchesLocked(ws []Watch) {
	loc := s.cfg.Location
	next := make(map[slots.Key]*Worker, len(ws))
	order := make([]slots.Key, 0, len(ws))
	for _, w := range ws {
		if _, dup := next[w.Key]; dup {
			continue
		}
		wk, ok := s.workers[w.Key]
		if ok {
			wk.setWatch(w)
			wk.loc = loc
		} else {
			wk = newWorker(w, s.deps, loc)
		}
		next[w.Key] = wk
		order = append(order, w.Key)
	}
	// Kind grouping is for log readability only.
	sort.SliceStable(order, func(i, j int) bool { return order[i].Kind < order[j].Kind })
	s.workers = next
	s.order = order
}

// Run performs passes until ctx is cancelled. It returns nil on shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.RunPass(ctx)

		s.mu.Lock()
		sched := s.cfg.Schedule
		s.mu.Unlock()
		next := sched.Next(s.deps.Now())
		wait := next.Sub(s.deps.Now())
		if wait < 0 {
			wait = 0
		}
		s.mu.Lock()
		s.nextPass = next
		s.mu.Unlock()

		s.log.Debug("sleeping until next pass", logx.Duration("wait", wait), logx.Stringer("schedule", sched))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// RunPass polls every key once. A panic anywhere in the pass is recovered and
// reported; it never escapes.
func (s *Scheduler) RunPass(ctx context.Context) {
	id := uuid.NewString()
	log := s.log.With(logx.String("pass", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("poll pass panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.alert(ctx, fmt.Sprintf("slotwatch: poll pass failed: %v", r))
		}
	}()

	started := s.deps.Now()
	batch, parallel := s.preparePass(log)

	outcomes := make([]Outcome, len(batch))
	if parallel <= 1 {
		for i, wk := range batch {
			if ctx.Err() != nil {
				break
			}
			outcomes[i] = s.pollKey(ctx, log, wk)
		}
	} else {
		// The group never fails, so siblings are never cancelled.
		var g errgroup.Group
		g.SetLimit(parallel)
		for i, wk := range batch {
			if ctx.Err() != nil {
				break
			}
			i, wk := i, wk
			g.Go(func() error {
				outcomes[i] = s.pollKey(ctx, log, wk)
				return nil
			})
		}
		_ = g.Wait()
	}

	ev := PassEvent{ID: id, Keys: len(batch), Took: s.deps.Now().Sub(started)}
	for _, o := range outcomes {
		switch o {
		case OutcomeNotified:
			ev.Notified++
		case OutcomeFetchFailed, OutcomePanic:
			ev.Failed++
		}
	}
	s.mu.Lock()
	s.passes++
	s.lastPass = started
	s.mu.Unlock()

	log.Info("poll pass completed",
		logx.Int("keys", ev.Keys),
		logx.Int("notified", ev.Notified),
		logx.Int("failed", ev.Failed),
		logx.Duration("took", ev.Took),
	)
	s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypePassCompleted, Time: s.deps.Now(), Data: ev})
}

// preparePass applies a pending watch swap and snapshots the pass batch.
func (s *Scheduler) preparePass(log logx.Logger) ([]*Worker, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swap {
		s.applyWatchesLocked(s.pending)
		s.pending, s.swap = nil, false
		log.Info("watch list updated", logx.Int("keys", len(s.order)))
	}
	batch := make([]*Worker, 0, len(s.order))
	for _, k := range s.order {
		wk := s.workers[k]
		wk.loc = s.cfg.Location
		batch = append(batch, wk)
	}
	log.Debug("pass started", logx.Int("keys", len(batch)), logx.Stringer("schedule", s.cfg.Schedule))
	return batch, s.cfg.Workers
}

func (s *Scheduler) pollKey(ctx context.Context, log logx.Logger, wk *Worker) (out Outcome) {
	key := wk.watch.Key
	defer func() {
		if r := recover(); r != nil {
			out = OutcomePanic
			log.Error("poll cycle panicked",
				logx.String("key", key.String()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			wk.record(s.deps.Now(), OutcomePanic, fmt.Sprint(r), 0)
			s.deps.Bus.Publish(eventbus.Event{
				Type: eventbus.TypePollPanic,
				Time: s.deps.Now(),
				Data: CycleEvent{Key: key.String(), Outcome: OutcomePanic, Error: fmt.Sprint(r)},
			})
			s.alert(ctx, fmt.Sprintf("slotwatch: poll %s failed: %v", key, r))
		}
	}()
	return wk.Poll(ctx, log)
}

func (s *Scheduler) alert(ctx context.Context, text string) {
	if s.deps.Alerter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("operator alert panicked", logx.Any("panic", r))
		}
	}()
	s.deps.Alerter.Alert(context.WithoutCancel(ctx), text)
}

// State returns the state of key, if it is watched.
func (s *Scheduler) State(key slots.Key) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wk, ok := s.workers[key]
	if !ok {
		return State{}, false
	}
	return wk.State(), true
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Schedule:   s.cfg.Schedule.String(),
		Workers:    s.cfg.Workers,
		Passes:     s.passes,
		LastPassAt: s.lastPass,
		NextPassAt: s.nextPass,
		Keys:       make([]KeyStatus, 0, len(s.order)),
	}
	for _, k := range s.order {
		snap.Keys = append(snap.Keys, s.workers[k].Status())
	}
	return snap
}
