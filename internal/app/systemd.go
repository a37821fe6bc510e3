package app

import (
	"context"
	logx "svcmon/pkg/logx"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotify is a no-op outside a notify unit (NOTIFY_SOCKET unset).
func (a *App) sdNotify(state string) {
	if !a.cfg.Systemd.Notify {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return err
	}
	if interval <= 0 {
		a.log.Debug("systemd watchdog not enabled for this unit")
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				a.log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
