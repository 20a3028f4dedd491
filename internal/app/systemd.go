package app

import (
	"context"
	"time"

	logx "dayloop/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotify sends state to systemd when running under a Type=notify unit.
// Outside systemd (NOTIFY_SOCKET unset) it is a no-op.
func (a *App) sdNotify(state string) {
	if !a.notifySystemd {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings the systemd watchdog at half its interval while the poll
// loop keeps ticking. A stalled loop stops the pings and lets systemd
// restart the unit.
func (a *App) watchdog(ctx context.Context) {
	if !a.notifySystemd {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.health(); err != nil {
				a.log.Warn("withholding watchdog ping", logx.Err(err))
				continue
			}
			a.sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
