package storage

import (
	"context"
	"svcmon/internal/eventbus"
	logx "svcmon/pkg/logx"
	"time"
)

const recordTimeout = 2 * time.Second

// Record appends every event from events to st until ctx is canceled or
// events is closed. Write failures are logged and skipped.
func Record(ctx context.Context, events <-chan eventbus.Event, st Store, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
			err := st.AppendAudit(wctx, EntryFromEvent(ev))
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}
