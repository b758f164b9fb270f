package app

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dayorder/pkg/logx"
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec. It is fed by
// the clock ticker, so a stalled tick loop stops the pings and lets
// systemd restart the unit.
type watchdog struct {
	log      logx.Logger
	interval time.Duration
	last     atomic.Int64
}

func newWatchdog(log logx.Logger) *watchdog {
	w := &watchdog{log: log}
	iv, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return w
	}
	w.interval = iv
	if iv > 0 {
		log.Info("systemd watchdog enabled", logx.Duration("interval", iv))
	}
	return w
}

func (w *watchdog) enabled() bool { return w != nil && w.interval > 0 }

func (w *watchdog) tick(time.Time) {
	if !w.enabled() {
		return
	}
	now := time.Now()
	if now.Sub(time.Unix(0, w.last.Load())) < w.interval/2 {
		return
	}
	w.last.Store(now.UnixNano())
	sdNotify(w.log, daemon.SdNotifyWatchdog)
}
