package monitor

import (
	"context"
	"svcmon/internal/eventbus"
	"svcmon/internal/pause"
	logx "svcmon/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Digest is the scheduled full report. Unlike the website loop it always
// sends something: the failures, a success line, or a paused notice.
type Digest struct {
	checker  Checker
	reporter *Reporter
	pause    *pause.State
	log      logx.Logger
	bus      eventbus.Bus
}

func NewDigest(checker Checker, reporter *Reporter, st *pause.State, log logx.Logger, bus eventbus.Bus) *Digest {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Digest{checker: checker, reporter: reporter, pause: st, log: log, bus: bus}
}

func (d *Digest) Run(ctx context.Context) {
	text := MsgDigestPause
	failures := 0
	if !d.pause.IsPaused() {
		report := d.checker.Summary(ctx)
		failures = len(report)
		text = FormatReport(report, MsgDigestOK)
	}
	if err := d.reporter.Notify(ctx, text, nil); err != nil {
		d.log.Warn("digest send failed", logx.Err(err))
		return
	}
	d.log.Info("digest sent", logx.Int("failures", failures))
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDigestSent, Source: "digest", Attrs: map[string]any{"failures": failures}})
}

// Job binds Run to ctx for a cron schedule.
func (d *Digest) Job(ctx context.Context) cron.Job {
	return cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		d.Run(ctx)
	})
}

// ParseSchedule accepts standard five-field cron specs and descriptors
// such as "@daily".
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}
