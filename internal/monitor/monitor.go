package monitor

import (
	"context"
	"svcmon/internal/eventbus"
	"svcmon/internal/pause"
	"svcmon/internal/telegram"
	logx "svcmon/pkg/logx"
	"time"

	tele "gopkg.in/telebot.v4"
)

// UpdateSource is the inbound side of the channel. *telegram.Client
// implements it.
type UpdateSource interface {
	FetchNewUpdates(ctx context.Context) ([]telegram.Update, error)
	DrainPending(ctx context.Context) int
}

// CommandMenu publishes and reads back the bot command list.
type CommandMenu interface {
	SyncCommands(ctx context.Context, cmds []tele.Command) error
	GetCommands(ctx context.Context) ([]tele.Command, error)
}

type Config struct {
	PollInterval  time.Duration
	ProbeInterval time.Duration
	// RemindEvery is the pause reminder interval. 0 disables reminders.
	RemindEvery time.Duration
}

type Deps struct {
	Updates    UpdateSource
	Menu       CommandMenu
	Dispatcher *Dispatcher
	Checker    Checker
	Reporter   *Reporter
	Pause      *pause.State
	Log        logx.Logger
	Bus        eventbus.Bus
}

// Monitor owns the two long-running loops: the command loop and the
// website loop.
type Monitor struct {
	cfg Config
	Deps
}

func New(cfg Config, deps Deps) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 20 * time.Second
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	return &Monitor{cfg: cfg, Deps: deps}
}

// RunCommands publishes the command menu, then polls for updates every
// PollInterval until ctx is done.
func (m *Monitor) RunCommands(ctx context.Context) error {
	if m.Menu != nil {
		m.syncMenu(ctx)
	}
	for {
		m.PollOnce(ctx)
		if !sleep(ctx, m.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

func (m *Monitor) syncMenu(ctx context.Context) {
	if err := m.Menu.SyncCommands(ctx, Commands()); err != nil {
		m.Log.Warn("setMyCommands failed", logx.Err(err))
		return
	}
	cmds, err := m.Menu.GetCommands(ctx)
	if err != nil {
		m.Log.Warn("getMyCommands failed", logx.Err(err))
		return
	}
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Text)
	}
	m.Log.Info("bot commands registered", logx.Any("commands", names))
}

// PollOnce is one command-loop cycle: redeliver pending sends, fetch new
// updates and dispatch them in order.
func (m *Monitor) PollOnce(ctx context.Context) {
	if n := m.Updates.DrainPending(ctx); n > 0 {
		m.Log.Info("pending messages delivered", logx.Int("count", n))
	}
	updates, err := m.Updates.FetchNewUpdates(ctx)
	if err != nil && ctx.Err() == nil {
		m.Log.Warn("fetching updates failed; no more updates this cycle", logx.Err(err))
	}
	if len(updates) > 0 {
		m.Log.Debug("updates received", logx.Int("count", len(updates)))
	}
	for _, u := range updates {
		m.Dispatcher.Dispatch(ctx, u)
	}
}

// RunWebsite runs ProbeOnce every ProbeInterval until ctx is done.
func (m *Monitor) RunWebsite(ctx context.Context) error {
	for {
		m.ProbeOnce(ctx)
		if !sleep(ctx, m.cfg.ProbeInterval) {
			return ctx.Err()
		}
	}
}

// ProbeOnce is one website-loop iteration. While paused it only advances
// the pause counter and sends the reminder when due; otherwise it runs the
// full summary and reports failures to the default groups.
func (m *Monitor) ProbeOnce(ctx context.Context) {
	paused, remind := m.Pause.Advance(m.cfg.ProbeInterval, m.cfg.RemindEvery)
	if paused {
		if remind {
			m.Log.Info("pause reminder due")
			m.Bus.Publish(eventbus.Event{Type: eventbus.TypePauseReminder, Source: "monitor"})
			if err := m.Reporter.Notify(ctx, MsgReminder, nil); err != nil {
				m.Log.Warn("pause reminder failed", logx.Err(err))
			}
		}
		return
	}

	start := time.Now()
	report := m.Checker.Summary(ctx)
	m.Log.Debug("probe pass finished", logx.Int("failures", len(report)), logx.Duration("took", time.Since(start)))
	for _, line := range report {
		m.Bus.Publish(eventbus.Event{Type: eventbus.TypeProbeFailed, Source: "monitor", Attrs: map[string]any{"line": line}})
	}
	if err := m.Reporter.Handle(ctx, report, "", nil); err != nil {
		m.Log.Warn("probe report failed", logx.Err(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
