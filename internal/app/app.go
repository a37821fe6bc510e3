// Package app wires the monitor loops, the webhook and the ambient services
// into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"svcmon/internal/config"
	"svcmon/internal/eventbus"
	"svcmon/internal/gateway"
	"svcmon/internal/httpx"
	"svcmon/internal/monitor"
	"svcmon/internal/pause"
	"svcmon/internal/probe"
	"svcmon/internal/runtime/supervisor"
	"svcmon/internal/storage"
	"svcmon/internal/telegram"
	logx "svcmon/pkg/logx"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
)

var loopRestart = supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: 30 * time.Second}

type App struct {
	cfg     *config.Config
	timings config.Timings
	cfgPath string

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	channel Channel
	pause   *pause.State
	probes  *probe.Engine
	mon     *monitor.Monitor
	digest  *monitor.Digest
	gw      *gateway.Server
	watcher *config.Watcher

	sup *supervisor.Supervisor

	gwMu     sync.Mutex
	gwCancel context.CancelFunc
	gwDone   chan struct{}
}

type Option func(*options)

type options struct {
	channel Channel
	doer    httpx.Doer
	certs   probe.CertChecker
	cfgPath string
	logs    *logx.Service
}

// WithChannel replaces the telegram client.
func WithChannel(ch Channel) Option { return func(o *options) { o.channel = ch } }

// WithHTTPDoer replaces the HTTP client used by probes and telegram.
func WithHTTPDoer(d httpx.Doer) Option { return func(o *options) { o.doer = d } }

func WithCertChecker(c probe.CertChecker) Option { return func(o *options) { o.certs = c } }

// WithConfigWatch watches path for changes after Start.
func WithConfigWatch(path string) Option { return func(o *options) { o.cfgPath = path } }

// WithLogService lets a changed logging section be applied live.
func WithLogService(s *logx.Service) Option { return func(o *options) { o.logs = s } }

// New validates cfg and builds every component. Nothing runs until Start.
func New(cfg *config.Config, log logx.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	t, err := cfg.Timings()
	if err != nil {
		return nil, err
	}
	if o.doer == nil {
		o.doer = &http.Client{}
	}

	a := &App{
		cfg:     cfg,
		timings: t,
		cfgPath: o.cfgPath,
		log:     log.With(logx.String("comp", "app")),
		logs:    o.logs,
		bus:     eventbus.New(),
		pause:   pause.New(),
	}

	if sc, enabled := mapStorageConfig(cfg, t); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	switch {
	case o.channel != nil:
		a.channel = o.channel
	case cfg.Telegram.IsEnabled():
		c, err := telegram.New(mapTelegramConfig(cfg, t), o.doer,
			log.With(logx.String("comp", "telegram")), telegram.WithEventBus(a.bus))
		if err != nil {
			_ = a.closeStore()
			return nil, err
		}
		a.channel = c
	default:
		a.channel = logChannel{log: log.With(logx.String("comp", "notify"))}
	}

	certs := o.certs
	if certs == nil {
		certs = probe.TLSChecker{Timeout: t.ProbeTimeout, ExpiryWindow: t.CertExpiryWindow}
	}
	a.probes = probe.New(mapProbeConfig(cfg, t), o.doer, certs, log.With(logx.String("comp", "probe")))

	reporter := monitor.NewReporter(a.channel)
	deps := monitor.Deps{
		Updates:    a.channel,
		Dispatcher: monitor.NewDispatcher(a.probes, a.pause, reporter, log.With(logx.String("comp", "commands")), a.bus),
		Checker:    a.probes,
		Reporter:   reporter,
		Pause:      a.pause,
		Log:        log.With(logx.String("comp", "monitor")),
		Bus:        a.bus,
	}
	if menu, ok := a.channel.(monitor.CommandMenu); ok {
		deps.Menu = menu
	}
	a.mon = monitor.New(mapMonitorConfig(t), deps)

	if cfg.Digest.Enabled {
		a.digest = monitor.NewDigest(a.probes, reporter, a.pause, log.With(logx.String("comp", "digest")), a.bus)
	}
	if cfg.API.IsEnabled() {
		a.gw = gateway.New(mapGatewayConfig(cfg, t), a.channel, log.With(logx.String("comp", "gateway")), a.bus)
	}
	return a, nil
}

// Pause exposes the shared pause state.
func (a *App) Pause() *pause.State { return a.pause }

// Bus exposes the event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

// GatewayAddr is the bound webhook address, or "" when the webhook is off.
func (a *App) GatewayAddr() string {
	if a.gw == nil {
		return ""
	}
	return a.gw.Addr()
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches every enabled unit. It returns once the webhook is bound,
// so a port conflict is reported here.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app: already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("audit.sink", func(c context.Context) error {
			defer unsub()
			return storage.Record(c, events, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}
	a.startEventLog()

	if a.cfg.Telegram.IsEnabled() {
		a.sup.GoRestart("monitor.commands", loopRestart, a.mon.RunCommands)
	}
	if a.cfg.Monitor.IsEnabled() {
		a.sup.GoRestart("monitor.website", loopRestart, a.mon.RunWebsite)
	}

	if a.gw != nil {
		if err := a.startGateway(sctx); err != nil {
			a.abortStart()
			return err
		}
	}

	if a.digest != nil {
		if err := a.startDigest(sctx); err != nil {
			a.abortStart()
			return err
		}
	}

	if a.cfgPath != "" {
		a.watcher = config.NewWatcher(a.cfgPath, a.cfg, a.log.With(logx.String("comp", "config")))
		if a.logs != nil {
			a.watcher.ApplyLogging = func(l config.LoggingConfig) { a.logs.Apply(l.LogxConfig()) }
		}
		a.sup.Go("config.watch", a.watcher.Run)
	}

	if a.cfg.Systemd.Watchdog {
		a.sup.Go("systemd.watchdog", a.watchdog)
	}
	a.sdNotify(daemon.SdNotifyReady)

	a.log.Info("app started",
		logx.Bool("telegram", a.cfg.Telegram.IsEnabled()),
		logx.Bool("monitor", a.cfg.Monitor.IsEnabled()),
		logx.Bool("api", a.gw != nil),
		logx.Bool("digest", a.digest != nil),
	)
	return nil
}

func (a *App) abortStart() {
	a.sup.Cancel()
	_ = a.sup.Wait(context.Background())
	_ = a.closeStore()
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("source", e.Source), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) startGateway(ctx context.Context) error {
	gctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	errc := make(chan error, 1)

	a.gwMu.Lock()
	a.gwCancel = cancel
	a.gwDone = done
	a.gwMu.Unlock()

	a.sup.Go("gateway.http", func(context.Context) error {
		defer close(done)
		err := a.gw.Run(gctx)
		errc <- err
		return err
	})

	select {
	case <-a.gw.Ready():
		return nil
	case err := <-errc:
		cancel()
		if err == nil {
			err = errors.New("gateway stopped before listening")
		}
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (a *App) startDigest(ctx context.Context) error {
	loc := time.Local
	if tz := strings.TrimSpace(a.cfg.Digest.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest.timezone: %w", err)
		}
		loc = l
	}
	schedule, err := monitor.ParseSchedule(a.cfg.Digest.Schedule)
	if err != nil {
		return fmt.Errorf("digest.schedule: %w", err)
	}

	clog := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(schedule, a.digest.Job(ctx))
	c.Start()
	a.log.Info("digest scheduled", logx.String("schedule", a.cfg.Digest.Schedule), logx.String("tz", loc.String()))

	a.sup.Go("digest.cron", func(c2 context.Context) error {
		<-c2.Done()
		<-c.Stop().Done()
		return nil
	})
	return nil
}

// ShutdownGateway stops the webhook server only; the loops keep running.
func (a *App) ShutdownGateway(ctx context.Context) error {
	a.gwMu.Lock()
	cancel, done := a.gwCancel, a.gwDone
	a.gwMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels every unit and waits for them within ctx. Each step gets a
// bounded share of the remaining time.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("gateway", 5*time.Second, a.ShutdownGateway)
	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		// A fatal loop error was already logged when it happened.
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
