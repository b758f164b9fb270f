package app

import (
	"fmt"
	"strings"
	"time"

	"dayorder/internal/config"
	"dayorder/internal/dashboard"
	"dayorder/internal/notifier"
	"dayorder/internal/storage"
	"dayorder/internal/task/engine"
	"dayorder/internal/task/scheduler"
	"dayorder/internal/timetable"
	"dayorder/internal/transport"
	"dayorder/internal/transport/telegram/router"
	"dayorder/pkg/logx"
)

// Config values have passed config.Validate before they reach these
// mappers, so duration fields are parsed with DurationOr.

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled && lc.Telegram.ChatID != 0,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: config.DurationOr(sc.BusyTimeout, time.Second)}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngine(cfg *config.Config) engine.Config {
	ec := engine.Config{Enabled: cfg.Scheduler.Enabled}
	if te := cfg.TaskEngine; te != nil {
		ec.Workers = te.Workers
		ec.QueueSize = te.QueueSize
		ec.HistorySize = te.HistorySize
		ec.RetryMax = te.RetryMax
		ec.DefaultTimeout = config.DurationOr(te.DefaultTimeout, 0)
	}
	return ec
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

// mapNotifier falls back to a small enabled pipeline when the section is
// omitted. Without a chat transport nothing can be delivered, so the
// notifier stays off.
func mapNotifier(cfg *config.Config, haveSender bool) notifier.Config {
	nc := notifier.Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     64,
		RatePerSec:    1,
		RetryMax:      3,
		RetryBase:     time.Second,
		RetryMaxDelay: 30 * time.Second,
		DedupWindow:   10 * time.Minute,
	}
	if n := cfg.Notifier; n != nil {
		nc.Enabled = n.Enabled
		if n.Workers > 0 {
			nc.Workers = n.Workers
		}
		if n.QueueSize > 0 {
			nc.QueueSize = n.QueueSize
		}
		if n.RatePerSec > 0 {
			nc.RatePerSec = n.RatePerSec
		}
		nc.RetryMax = n.RetryMax
		nc.RetryBase = config.DurationOr(n.RetryBase, nc.RetryBase)
		nc.RetryMaxDelay = config.DurationOr(n.RetryMaxDelay, nc.RetryMaxDelay)
		nc.DedupWindow = config.DurationOr(n.DedupWindow, nc.DedupWindow)
		nc.PersistDedup = n.PersistDedup
	}
	if !haveSender {
		nc.Enabled = false
	}
	return nc
}

func mapDashboard(cfg *config.Config) dashboard.Config {
	dc := cfg.Dashboard
	return dashboard.Config{
		Enabled:        dc.Enabled,
		Addr:           strings.TrimSpace(dc.Addr),
		Token:          strings.TrimSpace(dc.Token),
		AllowInsecure:  dc.AllowInsecure,
		AllowedOrigins: dc.AllowedOrigins,
		RatePerSec:     dc.RatePerSec,
		Pprof:          dc.Pprof,
		Title:          dc.Title,
		ReadTimeout:    config.DurationOr(dc.ReadTimeout, 15*time.Second),
		WriteTimeout:   config.DurationOr(dc.WriteTimeout, 0),
		IdleTimeout:    config.DurationOr(dc.IdleTimeout, 60*time.Second),
	}
}

func mapAnnounce(cfg *config.Config) timetable.AnnounceConfig {
	ac := cfg.Announce
	return timetable.AnnounceConfig{
		Enabled:     ac.Enabled,
		Target:      transport.ChatTarget{ChatID: ac.ChatID, ThreadID: ac.ThreadID},
		PeriodStart: ac.PeriodStart,
		Lead:        config.DurationOr(ac.Lead, 0),
		Digest:      strings.TrimSpace(ac.Digest),
	}
}

func mapRouter(cfg *config.Config) router.Config {
	return router.Config{
		Workers: cfg.Telegram.Workers,
		Owners:  append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
	}
}
