// Package app wires the timetable service, its chat and HTTP surfaces and
// the background services into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dayorder/internal/clock"
	"dayorder/internal/config"
	"dayorder/internal/dashboard"
	"dayorder/internal/eventbus"
	"dayorder/internal/notifier"
	rtsup "dayorder/internal/runtime/supervisor"
	"dayorder/internal/storage"
	"dayorder/internal/task/engine"
	"dayorder/internal/task/scheduler"
	"dayorder/internal/timetable"
	"dayorder/internal/transport"
	telegram "dayorder/internal/transport/telegram/adapter"
	"dayorder/internal/transport/telegram/router"
	"dayorder/pkg/logx"
	systemplug "dayorder/plugins/system"
	ttplug "dayorder/plugins/timetable"
)

const (
	dedupPruneJob   = "notifier.dedup_prune"
	dedupPruneEvery = time.Hour
)

// Options configure New. Only ConfigPath is required.
type Options struct {
	ConfigPath string
	// Getenv overrides os.Getenv for secret lookups.
	Getenv func(string) string
	Clock  clock.Clock
	// Adapter replaces the Telegram adapter built from telegram.token.
	Adapter transport.Adapter
}

type App struct {
	cfgm    *config.Manager
	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	clk     clock.Clock
	started time.Time

	ticker    *clock.Ticker
	watchdog  *watchdog
	timetable *timetable.Service
	publisher *timetable.Publisher
	announcer *timetable.Announcer

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	dash   *dashboard.Service

	adapter transport.Adapter // nil when telegram is disabled
	cmdm    *router.CommandManager
	serv    *router.Services

	sup     *rtsup.Supervisor
	updates chan transport.Update
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	if opts.Getenv != nil {
		cfgm.SetEnv(opts.Getenv)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System
	}

	// Telegram logging needs the adapter; attach it once it exists.
	logSvc, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.Comp("app"))

	ad := opts.Adapter
	if ad == nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		}, root)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}
	if ad != nil {
		logSvc.SetSender(ad)
	} else {
		log.Info("telegram disabled (no token)")
		if cfg.Announce.Enabled {
			_ = logSvc.Close()
			return nil, errAnnounceNeedsTelegram
		}
	}

	bus := eventbus.New()

	var store storage.Store
	sc, enabled, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		store, err = storage.Open(sc, root.With(logx.Comp("storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	tt, cal, loc, err := cfg.Timetable.BuildTimetable()
	if err != nil {
		closeStore()
		return nil, err
	}
	ttSvc, err := timetable.NewService(tt, cal, loc, store, bus, root)
	if err != nil {
		closeStore()
		return nil, err
	}
	ttSvc.SetClock(clk)
	if err := ttSvc.LoadOverrides(context.Background()); err != nil {
		closeStore()
		return nil, fmt.Errorf("load calendar overrides: %w", err)
	}

	eng := engine.New(mapEngine(cfg), root.With(logx.Comp("task.engine")), bus)
	sched := scheduler.New(mapScheduler(cfg), eng, loc, root.With(logx.Comp("scheduler")))

	var sender notifier.Sender
	if ad != nil {
		sender = ad
	}
	notif := notifier.New(mapNotifier(cfg, ad != nil), sender, root.With(logx.Comp("notifier")), bus, store)

	var annNotif timetable.Notifier
	if ad != nil {
		annNotif = notif
	}
	ann := timetable.NewAnnouncer(mapAnnounce(cfg), ttSvc, bus, annNotif, sched, clk, root)

	started := time.Now()
	serv := &router.Services{
		Timetable:   ttSvc,
		Scheduler:   sched,
		Engine:      eng,
		Notifier:    notif,
		Store:       store,
		Supervisors: router.NewSupervisorRegistry(),
		Clock:       clk,
		Config:      cfgm.Get,
		Started:     started,
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		clk:       clk,
		started:   started,
		ticker:    clock.NewTicker(clk, root.With(logx.Comp("clock"))),
		watchdog:  newWatchdog(root.With(logx.Comp("systemd"))),
		timetable: ttSvc,
		publisher: timetable.NewPublisher(ttSvc, bus, root),
		announcer: ann,
		engine:    eng,
		sched:     sched,
		notif:     notif,
		dash:      dashboard.New(mapDashboard(cfg), dashboard.Deps{Timetable: ttSvc, Bus: bus, Clock: clk}, root),
		adapter:   ad,
		serv:      serv,
		updates:   make(chan transport.Update, 256),
	}

	if ad != nil {
		a.cmdm = router.New(ad, serv, root)
		a.cmdm.Apply(mapRouter(cfg))
		tp, sp := ttplug.New(), systemplug.New(started)
		cmds := append(tp.Commands(), sp.Commands()...)
		if err := a.cmdm.Register(cmds, tp.Callbacks()); err != nil {
			closeStore()
			return nil, err
		}
	}
	return a, nil
}

// Done is closed when the app supervisor context is cancelled (fatal
// error or Stop).
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

// Timetable exposes the resolver service (tests, embedding).
func (a *App) Timetable() *timetable.Service { return a.timetable }

// Dashboard exposes the HTTP service (tests, embedding).
func (a *App) Dashboard() *dashboard.Service { return a.dash }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	a.serv.Supervisors.Set("app", a.sup)

	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(a.validateReload)

	a.engine.Start(runCtx)
	a.sched.Start(runCtx)
	a.notif.Start(runCtx)
	if err := a.sched.AddInterval(dedupPruneJob, dedupPruneEvery, 30*time.Second, a.notif.PruneDedup); err != nil {
		a.log.Warn("dedup prune not scheduled", logx.Err(err))
	}

	a.ticker.Subscribe("timetable.publisher", a.publisher.OnTick)
	a.ticker.Subscribe("systemd.watchdog", a.watchdog.tick)
	a.sup.Go("clock.ticker", a.ticker.Run)

	a.announcer.Start(runCtx)

	if a.adapter != nil {
		if err := a.adapter.Start(runCtx, a.updates); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("telegram start: %w", err)
		}
		if u, ok := a.adapter.(interface{ Username() string }); ok {
			a.cmdm.SetBotUsername(u.Username())
		}
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := a.cmdm.UpdateMenu(mctx); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
		a.serv.Supervisors.Set("router", a.cmdm.DispatchLoop(runCtx, a.updates))
	}

	a.dash.Start(runCtx)
	a.refreshSupervisors()

	a.startEventLog()
	a.startReloadLoop()
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("dashboard", a.dash.Supervisor() != nil),
		logx.String("tz", a.timetable.Resolver().Location().String()),
		logx.String("today", timetable.DayLabel(a.timetable.Status(a.clk.Now()).DayOrder)),
	)
	return nil
}

// refreshSupervisors re-reads supervisors that are replaced on restart.
func (a *App) refreshSupervisors() {
	reg := a.serv.Supervisors
	if a.adapter != nil {
		if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
			reg.Set("telegram.adapter", sp.Supervisor())
		}
	}
	reg.Set("task.engine", a.engine.Supervisor())
	reg.Set("notifier", a.notif.Supervisor())
	reg.Set("announcer", a.announcer.Supervisor())
	reg.Set("dashboard", a.dash.Supervisor())
}

// startEventLog mirrors bus events at debug level. Ticks are skipped.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == timetable.EventTick {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	for _, st := range a.shutdownSteps() {
		if err := a.stopStep(ctx, st.name, st.limit, st.fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
		}
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

type shutdownStep struct {
	name  string
	limit time.Duration
	fn    func(context.Context) error
}

// shutdownSteps lists teardown in order. Storage closes only after every
// goroutine that may still write to it has returned.
func (a *App) shutdownSteps() []shutdownStep {
	steps := []shutdownStep{
		{"announcer", time.Second, a.announcer.Stop},
		{"dashboard", 2 * time.Second, func(c context.Context) error { a.dash.Stop(c); return nil }},
		{"scheduler", 2 * time.Second, func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"task.engine", 2 * time.Second, func(c context.Context) error { a.engine.Stop(c); return nil }},
		{"notifier", 2 * time.Second, func(c context.Context) error { a.notif.Stop(c); return nil }},
	}
	if a.adapter != nil {
		steps = append(steps, shutdownStep{"telegram.adapter", 2 * time.Second, a.adapter.Stop})
	}
	if a.cmdm != nil {
		steps = append(steps, shutdownStep{"router", 2 * time.Second, func(c context.Context) error {
			if sup := a.cmdm.Supervisor(); sup != nil {
				return sup.Stop(c)
			}
			return nil
		}})
	}
	// Ticker, config watch/reload.
	steps = append(steps, shutdownStep{"supervisor", 2 * time.Second, a.sup.Wait})
	if a.store != nil {
		steps = append(steps, shutdownStep{"storage", time.Second, func(context.Context) error { return a.store.Close() }})
	}
	return steps
}

// stopStep bounds one shutdown step so a single component cannot stall
// the whole stop. The caller's deadline is never extended.
func (a *App) stopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return err
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name),
				logx.Duration("took", time.Since(start)),
				logx.Bool("ok", err == nil),
			)
		}()
		return stepCtx.Err()
	}
}
