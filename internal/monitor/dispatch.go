package monitor

import (
	"context"
	"svcmon/internal/eventbus"
	"svcmon/internal/pause"
	"svcmon/internal/probe"
	"svcmon/internal/telegram"
	logx "svcmon/pkg/logx"
	"time"
)

// Checker runs probe groups. *probe.Engine implements it.
type Checker interface {
	CheckAPI(ctx context.Context) probe.Report
	CheckFrontend(ctx context.Context) probe.Report
	CheckCertificates(ctx context.Context) probe.Report
	Summary(ctx context.Context) probe.Report
}

// Dispatcher maps bot commands to probe runs and pause changes.
type Dispatcher struct {
	checker  Checker
	pause    *pause.State
	reporter *Reporter
	log      logx.Logger
	bus      eventbus.Bus
}

func NewDispatcher(checker Checker, st *pause.State, reporter *Reporter, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Dispatcher{checker: checker, pause: st, reporter: reporter, log: log, bus: bus}
}

// Dispatch runs every bot_command entity of u's message, in order.
func (d *Dispatcher) Dispatch(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil {
		return
	}
	for _, e := range msg.Entities {
		if e.Kind != telegram.KindBotCommand {
			continue
		}
		raw, ok := msg.EntityText(e)
		if !ok {
			d.log.Warn("command entity out of range", logx.Int("update_id", u.ID), logx.Int("offset", e.Offset), logx.Int("length", e.Length))
			continue
		}
		d.Handle(ctx, ExtractCommand(raw), msg.ChatID)
	}
}

// Handle executes one command for chatID. It reports whether the command
// was recognized.
func (d *Dispatcher) Handle(ctx context.Context, cmd string, chatID int64) bool {
	start := time.Now()
	target := []int64{chatID}

	var err error
	switch cmd {
	case CmdCheckAll:
		err = d.reporter.Handle(ctx, d.checker.CheckAPI(ctx), MsgAPIOK, target)
		d.logSendErr(cmd, err)
		err = d.reporter.Handle(ctx, d.checker.CheckFrontend(ctx), MsgFrontendOK, target)
		d.logSendErr(cmd, err)
		err = d.reporter.Handle(ctx, d.checker.CheckCertificates(ctx), MsgCertsOK, target)
	case CmdCheckAPI:
		err = d.reporter.Handle(ctx, d.checker.CheckAPI(ctx), MsgAPIOK, target)
	case CmdCheckFrontend:
		err = d.reporter.Handle(ctx, d.checker.CheckFrontend(ctx), MsgFrontendOK, target)
	case CmdCheckCerts:
		err = d.reporter.Handle(ctx, d.checker.CheckCertificates(ctx), MsgCertsOK, target)
	case CmdPause:
		d.setPaused(true, chatID)
		err = d.reporter.Notify(ctx, MsgPaused, target)
	case CmdUnpause:
		d.setPaused(false, chatID)
		err = d.reporter.Notify(ctx, MsgResumed, target)
	default:
		d.log.Info("unrecognized command", logx.String("command", cmd), logx.Int64("chat_id", chatID))
		d.bus.Publish(eventbus.Event{
			Type:   eventbus.TypeCommandUnknown,
			Source: "monitor",
			Attrs:  map[string]any{"command": cmd, "chat_id": chatID},
		})
		return false
	}
	d.logSendErr(cmd, err)

	took := time.Since(start)
	d.log.Info("command handled", logx.String("command", cmd), logx.Int64("chat_id", chatID), logx.Duration("took", took))
	d.bus.Publish(eventbus.Event{
		Type:   eventbus.TypeCommandHandled,
		Source: "monitor",
		Attrs: map[string]any{
			"command": cmd,
			"chat_id": chatID,
			"ok":      err == nil,
			"took_ms": took.Milliseconds(),
		},
	})
	return true
}

func (d *Dispatcher) setPaused(paused bool, chatID int64) {
	if changed := d.pause.SetPaused(paused); !changed {
		return
	}
	d.log.Info("pause state changed", logx.Bool("paused", paused), logx.Int64("chat_id", chatID))
	d.bus.Publish(eventbus.Event{
		Type:   eventbus.TypePauseChanged,
		Source: "monitor",
		Attrs:  map[string]any{"paused": paused, "chat_id": chatID},
	})
}

func (d *Dispatcher) logSendErr(cmd string, err error) {
	if err != nil {
		d.log.Warn("command reply failed", logx.String("command", cmd), logx.Err(err))
	}
}
