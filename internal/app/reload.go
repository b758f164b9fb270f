package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"dayorder/internal/config"
	"dayorder/pkg/logx"
)

var errAnnounceNeedsTelegram = errors.New("announce.enabled needs telegram.token")

// validateReload rejects configs that cannot be applied live. It runs
// after config.Validate accepted the file.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if cfg.Announce.Enabled && a.adapter == nil {
		return fmt.Errorf("%w at startup", errAnnounceNeedsTelegram)
	}
	tt, _, _, err := cfg.Timetable.BuildTimetable()
	if err != nil {
		return err
	}
	for _, o := range a.timetable.Overrides() {
		if !o.Holiday && o.DayOrder >= len(tt.Days) {
			return fmt.Errorf("timetable.days: override for %s uses Day %d but only %d days are defined", o.Date, o.DayOrder+1, len(tt.Days))
		}
	}
	return nil
}

// startReloadLoop applies every committed config to the running services.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogging(next))
	if a.cmdm != nil {
		a.cmdm.Apply(mapRouter(next))
	}

	if changed("timetable") {
		tt, cal, loc, err := next.Timetable.BuildTimetable()
		if err == nil {
			err = a.timetable.Apply(tt, cal, loc)
		}
		if err != nil {
			a.log.Warn("invalid timetable; keeping previous", logx.Err(err))
		}
	}

	// Engine first so a freshly enabled scheduler has workers to feed.
	a.engine.Apply(ctx, mapEngine(next))
	prevSched := a.sched.Enabled()
	a.sched.Apply(mapScheduler(next), a.timetable.Resolver().Location())
	switch nowSched := next.Scheduler.Enabled; {
	case prevSched && !nowSched:
		a.log.Info("scheduler disabled via config")
		a.sched.Stop(ctx)
	case !prevSched && nowSched:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	prevNotif := a.notif.Enabled()
	ncfg := mapNotifier(next, a.adapter != nil)
	a.notif.Apply(ncfg)
	switch {
	case prevNotif && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		a.notif.Stop(ctx)
	case !prevNotif && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	// Replans lead reminders against the possibly new timetable.
	a.announcer.Apply(mapAnnounce(next))
	a.dash.Reconfigure(ctx, mapDashboard(next))
	a.refreshSupervisors()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
