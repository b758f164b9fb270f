// Package system carries the operational commands: ping, uptime, health
// and the schedule list.
package system

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dayorder/internal/transport/telegram/router"
	"dayorder/pkg/tgui"
)

type Plugin struct {
	startedAt time.Time
}

func New(startedAt time.Time) *Plugin {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &Plugin{startedAt: startedAt}
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "Check the bot is alive",
			Usage:       "/ping",
			Handle: func(ctx context.Context, req *router.Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, "pong", nil)
				return err
			},
		},
		{
			Route:       "uptime",
			Aliases:     []string{"up"},
			Description: "Show process uptime",
			Usage:       "/uptime",
			Handle: func(ctx context.Context, req *router.Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, "uptime: "+durRel(time.Since(p.startedAt)), nil)
				return err
			},
		},
		{
			Route:       "health",
			Description: "Runtime, scheduler and notifier status",
			Usage:       "/health",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdHealth,
		},
		{
			Route:       "sched list",
			Aliases:     []string{"tasks"},
			Description: "List scheduled jobs",
			Usage:       "/sched_list",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdSchedList,
		},
	}
}

func (p *Plugin) cmdSchedList(ctx context.Context, req *router.Request) error {
	s := req.Services.Scheduler
	if s == nil || !s.Enabled() {
		return router.Userf("scheduler is disabled")
	}
	snap := s.Snapshot()
	if len(snap.Schedules)+len(snap.Once) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "no scheduled jobs", nil)
		return err
	}

	now := req.Services.Now()
	b := tgui.New().Title("⏱", "Scheduled jobs ("+snap.Timezone+")")
	b.Line(fmt.Sprintf("workers: %d, queue: %d/%d", snap.Engine.Workers, snap.Engine.QueueLen, snap.Engine.QueueCap))
	all := make([]scheduleRow, 0, len(snap.Schedules)+len(snap.Once))
	for _, t := range snap.Schedules {
		all = append(all, scheduleRow{name: t.Name, spec: t.Spec, next: t.Next})
	}
	for _, t := range snap.Once {
		all = append(all, scheduleRow{name: t.Name, spec: t.Spec, next: t.Next})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })
	for _, t := range all {
		next := "-"
		if !t.next.IsZero() {
			next = t.next.In(s.Location()).Format("2006-01-02 15:04:05")
			if t.next.After(now) {
				next += " (in " + durRel(t.next.Sub(now)) + ")"
			}
		}
		b.HTML(tgui.JoinH(" ", tgui.Esc("•"), tgui.Code(t.name), tgui.Esc(t.spec+", next "+next)))
	}
	return req.Reply(ctx, b.Build())
}

type scheduleRow struct {
	name string
	spec string
	next time.Time
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
