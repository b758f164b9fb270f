package timetable

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tt "dayorder/internal/timetable"
	"dayorder/internal/transport/telegram/router"
	"dayorder/pkg/tgui"
)

func (p *Plugin) cmdCalendarList(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	days := defaultListDays
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 {
			return router.Userf("days must be a positive number")
		}
		days = min(n, maxListDays)
	}

	r := svc.Resolver()
	b := tgui.New().Title("🗓", "Upcoming school days")
	up := r.Upcoming(req.Services.Now(), days)
	if len(up) == 0 {
		b.Line("No dated school days in the next year.")
	}
	for _, d := range up {
		line := fmt.Sprintf("%s %s: %s", d.Date.Format("Mon"), tt.FormatDate(d.Date), tt.DayLabel(d.DayOrder))
		if d.Note != "" {
			line += " (" + d.Note + ")"
		}
		b.Line(line)
	}

	if ovs := svc.Overrides(); len(ovs) > 0 {
		b.Blank().Section("Overrides")
		for _, o := range ovs {
			what := tt.DayLabel(o.DayOrder)
			if o.Holiday {
				what = "holiday"
			}
			line := o.Date + ": " + what
			if o.Note != "" {
				line += " (" + o.Note + ")"
			}
			if o.UpdatedBy != "" {
				line += " by " + o.UpdatedBy
			}
			b.Bullets(line)
		}
	}
	return req.Reply(ctx, b.Build())
}

func (p *Plugin) cmdCalendarSet(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	if len(req.Args) < 2 {
		return router.Userf("Usage: /calendar set <YYYY-MM-DD> <n|holiday> [--note text]")
	}
	date, value := req.Args[0], strings.ToLower(req.Args[1])
	holiday := value == "holiday" || value == "off" || value == "none"
	d := 0
	if !holiday {
		if d, err = parseDayOrder(value, len(svc.Resolver().Days())); err != nil {
			return err
		}
	}
	note := req.Flags["note"]
	if note == "" && len(req.Args) > 2 {
		note = strings.Join(req.Args[2:], " ")
	}

	e, err := svc.SetOverride(ctx, date, d, holiday, note, req.Actor())
	if err != nil {
		return userErr(err)
	}
	what := tt.DayLabel(e.DayOrder)
	if e.Holiday {
		what = "a holiday"
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("✅ %s is now %s", strings.TrimSpace(date), what), nil)
	return err
}

func (p *Plugin) cmdCalendarClear(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	if len(req.Args) < 1 {
		return router.Userf("Usage: /calendar clear <YYYY-MM-DD>")
	}
	ok, err := svc.ClearOverride(ctx, req.Args[0], req.Actor())
	if err != nil {
		return userErr(err)
	}
	msg := "No override for " + req.Args[0]
	if ok {
		msg = "🧹 Override for " + req.Args[0] + " removed"
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, msg, nil)
	return err
}
