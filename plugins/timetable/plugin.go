// Package timetable exposes the day-order resolver over chat commands.
package timetable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tt "dayorder/internal/timetable"
	"dayorder/internal/transport/telegram/router"
	"dayorder/pkg/tgui"
)

const (
	defaultListDays = 10
	maxListDays     = 60
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{Route: "now", Description: "Current period and countdown", Usage: "/now", Handle: p.cmdNow},
		{Route: "today", Description: "Today's timetable", Usage: "/today", Handle: p.cmdToday},
		{Route: "week", Description: "Browse every day order", Usage: "/week", Handle: p.cmdWeek},
		{Route: "day", Description: "Timetable of one day order", Usage: "/day <n>", Handle: p.cmdDay},
		{Route: "on", Description: "Day order of a date", Usage: "/on <YYYY-MM-DD>", Handle: p.cmdOn},
		{
			Route:       "calendar list",
			Description: "Upcoming school days and overrides",
			Usage:       "/calendar list [days]",
			Handle:      p.cmdCalendarList,
		},
		{
			Route:       "calendar set",
			Description: "Override the day order of a date",
			Usage:       "/calendar set <YYYY-MM-DD> <n|holiday> [--note text]",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdCalendarSet,
		},
		{
			Route:       "calendar clear",
			Description: "Remove a date override",
			Usage:       "/calendar clear <YYYY-MM-DD>",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdCalendarClear,
		},
	}
}

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Group: callbackGroup, Action: "day", Handle: p.cbDay},
	}
}

func service(req *router.Request) (*tt.Service, error) {
	if req.Services == nil || req.Services.Timetable == nil {
		return nil, router.Userf("The timetable is unavailable right now.")
	}
	return req.Services.Timetable, nil
}

func (p *Plugin) cmdNow(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	st := svc.Status(req.Services.Now())
	return req.Reply(ctx, renderNow(st, svc.Resolver()))
}

func (p *Plugin) cmdToday(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	st := svc.Status(req.Services.Now())
	b := tgui.New().Title("📚", tt.Weekday(st.At)+" "+tt.FormatDate(st.At))
	if !st.HasDayOrder() {
		return req.Reply(ctx, b.Line(noTimetableLine(st)).Build())
	}
	b.HTML(tgui.B(tt.DayLabel(st.DayOrder)))
	renderDay(b, svc.Resolver(), st.DayOrder, st.Current)
	return req.Reply(ctx, b.Build())
}

func (p *Plugin) cmdWeek(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	d := svc.Status(req.Services.Now()).DayOrder
	if d == tt.NoDayOrder {
		d = 0
	}
	return req.Reply(ctx, renderWeek(svc.Resolver(), d))
}

func (p *Plugin) cbDay(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	r := svc.Resolver()
	d, err := parseDayOrder(req.Payload, len(r.Days()))
	if err != nil {
		return err
	}
	return req.Edit(ctx, renderWeek(r, d))
}

func (p *Plugin) cmdDay(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	r := svc.Resolver()
	if len(req.Args) == 0 {
		return router.Userf("Usage: /day <n> (1-%d)", len(r.Days()))
	}
	d, err := parseDayOrder(req.Args[0], len(r.Days()))
	if err != nil {
		return err
	}
	b := tgui.New().Title("📅", tt.DayLabel(d))
	return req.Reply(ctx, renderDay(b, r, d, tt.NoPeriod).Build())
}

func (p *Plugin) cmdOn(ctx context.Context, req *router.Request) error {
	svc, err := service(req)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return router.Userf("Usage: /on <YYYY-MM-DD>")
	}
	date, err := svc.ParseDate(req.Args[0])
	if err != nil {
		return userErr(err)
	}
	r := svc.Resolver()
	b := tgui.New().Title("📆", tt.Weekday(date)+" "+tt.FormatDate(date))
	d, ok := r.DayOrderOn(date)
	if !ok {
		return req.Reply(ctx, b.Line("No timetable on this date").Build())
	}
	b.HTML(tgui.B(tt.DayLabel(d)))
	return req.Reply(ctx, renderDay(b, r, d, tt.NoPeriod).Build())
}

// parseDayOrder turns a 1-based argument into a 0-based day order.
func parseDayOrder(raw string, days int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 || n > days {
		return 0, router.Userf("Day order must be a number from 1 to %d.", days)
	}
	return n - 1, nil
}

// userErr surfaces validation failures to the chat and hides the rest.
func userErr(err error) error {
	switch {
	case errors.Is(err, tt.ErrInvalidDate):
		return &router.UserError{Msg: "Invalid date, use YYYY-MM-DD.", Err: err}
	case errors.Is(err, tt.ErrInvalidDayOrder):
		return &router.UserError{Msg: fmt.Sprintf("Invalid day order: %v", err), Err: err}
	}
	return err
}
