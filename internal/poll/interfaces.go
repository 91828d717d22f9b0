package poll

//go:generate mockgen -destination=mock_poll.go -package=poll slotwatch/internal/poll Source,Dispatcher,Alerter

import (
	"context"
	"time"

	"slotwatch/internal/notifier"
	"slotwatch/internal/slots"
)

// Source returns the centers for one key as of date.
type Source interface {
	Fetch(ctx context.Context, kind slots.Kind, code string, date time.Time) ([]slots.Center, error)
}

// Dispatcher fans a message out to its recipients. Failures are reported in
// the Result, not as an error.
type Dispatcher interface {
	Notify(ctx context.Context, m notifier.Message) notifier.Result
}

// Alerter reports unexpected failures to an operator channel.
type Alerter interface {
	Alert(ctx context.Context, text string)
}
