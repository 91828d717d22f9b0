package poll

import (
	"context"
	"sync"
	"time"

	"slotwatch/internal/eventbus"
	"slotwatch/internal/notifier"
	"slotwatch/internal/slots"
	"slotwatch/pkg/logx"
)

// Worker runs cycles for a single key and owns its State. Cycles of one
// worker must not overlap; the scheduler guarantees that.
type Worker struct {
	watch      Watch
	state      State
	source     Source
	dispatcher Dispatcher
	bus        eventbus.Bus
	now        func() time.Time
	loc        *time.Location

	mu     sync.Mutex
	status KeyStatus
}

func newWorker(w Watch, d Deps, loc *time.Location) *Worker {
	return &Worker{
		watch:      w,
		source:     d.Source,
		dispatcher: d.Dispatcher,
		bus:        d.Bus,
		now:        d.Now,
		loc:        loc,
		status:     KeyStatus{Key: w.Key, Subscribers: len(w.Subscribers)},
	}
}

// State returns the worker's cross-cycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Status returns a copy of the last recorded status.
func (w *Worker) Status() KeyStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setWatch(next Watch) {
	w.watch = next
	w.mu.Lock()
	w.status.Subscribers = len(next.Subscribers)
	w.mu.Unlock()
}

// Poll runs one fetch, filter, decide, notify cycle.
func (w *Worker) Poll(ctx context.Context, log logx.Logger) Outcome {
	key := w.watch.Key
	log = log.With(logx.String("key", key.String()))
	started := w.now()
	date := started.In(w.loc)

	log.Debug("checking slots", logx.String("date", date.Format("02-01-2006")))

	// In-flight requests are never aborted; shutdown is honored once they return.
	detached := context.WithoutCancel(ctx)
	centers, err := w.source.Fetch(detached, key.Kind, key.Code, date)
	fetchErr := ""
	if err != nil {
		fetchErr = err.Error()
		centers = nil
		log.Warn("fetch failed; treating as no centers", logx.Err(err))
		w.publish(eventbus.TypePollFetchFailed, CycleEvent{Key: key.String(), Outcome: OutcomeFetchFailed, Error: fetchErr})
	}
	if ctx.Err() != nil {
		log.Debug("shutdown requested; cycle abandoned after fetch")
		w.record(started, OutcomeStopped, fetchErr, 0)
		return OutcomeStopped
	}

	summary := slots.Summarize(centers)
	if !slots.ShouldNotify(w.state.Fingerprint, summary.Text) {
		out := OutcomeUnchanged
		switch {
		case err != nil:
			out = OutcomeFetchFailed
		case summary.Empty():
			out = OutcomeEmpty
			log.Info("slots not available")
			w.publish(eventbus.TypePollEmpty, CycleEvent{Key: key.String(), Outcome: out})
		default:
			log.Info("summary unchanged; not sending",
				logx.Int("matches", summary.Matches),
				logx.String("fingerprint", w.state.Fingerprint.Short()),
			)
			w.publish(eventbus.TypePollUnchanged, CycleEvent{Key: key.String(), Outcome: out, Matches: summary.Matches})
		}
		w.record(started, out, fetchErr, summary.Matches)
		return out
	}

	res := w.dispatcher.Notify(detached, notifier.Message{
		Key:  key.String(),
		Text: summary.Text,
		To:   w.watch.Subscribers,
	})
	w.mu.Lock()
	w.state = State{Fingerprint: slots.Digest(summary.Text), LastSentAt: w.now()}
	w.mu.Unlock()

	log.Info("slots notified",
		logx.Int("matches", summary.Matches),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.String("fingerprint", w.state.Fingerprint.Short()),
	)
	w.publish(eventbus.TypePollNotified, CycleEvent{
		Key:     key.String(),
		Outcome: OutcomeNotified,
		Matches: summary.Matches,
		Sent:    res.Sent,
		Failed:  res.Failed,
	})
	w.record(started, OutcomeNotified, "", summary.Matches)
	return OutcomeNotified
}

func (w *Worker) record(at time.Time, out Outcome, errText string, matches int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastPollAt = at
	w.status.LastOutcome = out
	w.status.LastError = errText
	w.status.LastMatches = matches
	w.status.LastSentAt = w.state.LastSentAt
	w.status.Fingerprint = w.state.Fingerprint
}

func (w *Worker) publish(typ string, data CycleEvent) {
	w.bus.Publish(eventbus.Event{Type: typ, Time: w.now(), Data: data})
}
