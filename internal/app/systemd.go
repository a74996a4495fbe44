package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "scibot/pkg/logx"
)

// sdNotifier reports readiness to systemd and pings the watchdog while the
// run loop keeps completing passes. Outside systemd every call is a no-op.
type sdNotifier struct {
	log      logx.Logger
	notify   bool
	watchdog bool

	send func(state string) (bool, error)
	// lastPass is the unix nano time of the latest run loop pass.
	lastPass atomic.Int64
}

func newSDNotifier(notify, watchdog bool, log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:      log,
		notify:   notify,
		watchdog: watchdog,
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *sdNotifier) state(state string) {
	if !n.notify {
		return
	}
	sent, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.state(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.state(daemon.SdNotifyStopping) }

func (n *sdNotifier) Pass(at time.Time) { n.lastPass.Store(at.UnixNano()) }

// Watchdog pings at half the WatchdogSec interval, skipping pings once the
// run loop has not passed within a full interval so systemd restarts a stuck process.
func (n *sdNotifier) Watchdog(ctx context.Context) {
	if !n.notify || !n.watchdog {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	n.runWatchdog(ctx, interval, time.Now)
}

func (n *sdNotifier) runWatchdog(ctx context.Context, interval time.Duration, now func() time.Time) {
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, n.lastPass.Load())
			if now().Sub(last) > interval {
				n.log.Warn("run loop stalled; withholding watchdog ping", logx.Time("last_pass", last))
				continue
			}
			n.state(daemon.SdNotifyWatchdog)
		}
	}
}
