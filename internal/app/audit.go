package app

import (
	"context"
	"time"

	"slotwatch/internal/eventbus"
	"slotwatch/internal/notifier"
	"slotwatch/internal/poll"
	"slotwatch/internal/storage"
	logx "slotwatch/pkg/logx"
)

const auditWriteTimeout = 2 * time.Second

// recordAudit drains events into the store until events is closed or ctx
// ends. Store failures are logged and never stop the loop. The audit is
// best-effort: events the bus dropped for a full subscriber are counted via
// dropped and reported, not recovered.
func recordAudit(ctx context.Context, events <-chan eventbus.Event, dropped func() uint64, st storage.Store, log logx.Logger) {
	var reported uint64
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeAudit(ctx, st, e); err != nil {
				log.Warn("audit write failed", logx.String("type", e.Type), logx.Err(err))
			}
			if n := dropped(); n > reported {
				log.Warn("events dropped; audit log is incomplete",
					logx.Any("dropped", n-reported),
					logx.Any("total", n),
				)
				reported = n
			}
		}
	}
}

func writeAudit(ctx context.Context, st storage.Store, e eventbus.Event) error {
	// Writes outlive shutdown so the last pass is not lost.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	switch d := e.Data.(type) {
	case notifier.NotificationEvent:
		return st.AppendDispatch(wctx, storage.DispatchEntry{
			At:       d.At,
			Key:      d.Key,
			ChatID:   d.ChatID,
			ThreadID: d.ThreadID,
			OK:       d.Error == "",
			Error:    d.Error,
			Bytes:    d.Bytes,
			TookMS:   d.TookMS,
		})
	case poll.PassEvent:
		return st.AppendPass(wctx, storage.PassEntry{
			At:       e.Time,
			ID:       d.ID,
			Keys:     d.Keys,
			Notified: d.Notified,
			Failed:   d.Failed,
			TookMS:   d.Took.Milliseconds(),
		})
	}
	return nil
}
