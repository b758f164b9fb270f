package system

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"dayorder/internal/timetable"
	"dayorder/internal/transport"
	"dayorder/internal/transport/telegram/router"
)

func (p *Plugin) cmdHealth(ctx context.Context, req *router.Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, p.healthText(req.Services), &transport.SendOptions{DisablePreview: true})
	return err
}

// healthText is plain text: operational output should never fail on
// HTML parsing.
func (p *Plugin) healthText(ps *router.Services) string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	degraded := false
	var sups []string
	if ps.Supervisors != nil {
		for _, name := range ps.Supervisors.Names() {
			sup := ps.Supervisors.Get(name)
			if sup == nil {
				continue
			}
			snap := sup.Snapshot()
			icon := "✅"
			var panics, restarts uint64
			for _, g := range snap.Goroutines {
				panics += g.Panics
				restarts += g.Restarts
			}
			if snap.FirstError != "" || panics > 0 {
				icon = "⚠️"
				degraded = true
			}
			line := fmt.Sprintf("  • %s %s: %d active, %d restarts, %d panics", icon, name, snap.Counters.Active, restarts, panics)
			if snap.FirstError != "" {
				line += " | " + snap.FirstError
			}
			sups = append(sups, line)
		}
	}

	status := "Running"
	if degraded {
		status = "Degraded"
	}

	var b strings.Builder
	b.Grow(2048)
	b.WriteString("🏥 Bot Health Status\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Uptime: %s\n", durRel(time.Since(p.startedAt)))
	if ps.Timetable != nil {
		st := ps.Timetable.Status(ps.Now())
		fmt.Fprintf(&b, "Today: %s (%s)\n", st.Date, timetable.DayLabel(st.DayOrder))
	}
	b.WriteString("\n")

	b.WriteString("💾 Memory Usage\n")
	fmt.Fprintf(&b, "  • Allocated: %s\n", fmtBytes(m.Alloc))
	fmt.Fprintf(&b, "  • System:    %s\n", fmtBytes(m.Sys))
	fmt.Fprintf(&b, "  • GC Runs:   %d\n", m.NumGC)
	fmt.Fprintf(&b, "  • Goroutines: %d\n", runtime.NumGoroutine())
	b.WriteString("\n")

	b.WriteString("📊 Scheduler / Task Engine\n")
	if s := ps.Scheduler; s != nil && s.Enabled() {
		snap := s.Snapshot()
		e := snap.Engine
		fmt.Fprintf(&b, "  • Jobs: %d cron, %d one-shot\n", len(snap.Schedules), len(snap.Once))
		fmt.Fprintf(&b, "  • Workers: %d, queue %d/%d, in flight %d\n", e.Workers, e.QueueLen, e.QueueCap, e.InFlight)
		fmt.Fprintf(&b, "  • Dropped: %d, skipped (overlap): %d\n", e.DroppedQueueFull, e.SkippedOverlap)
		if n := len(e.History); n > 0 {
			last := e.History[n-1]
			res := "ok"
			if last.Error != "" {
				res = last.Error
			}
			fmt.Fprintf(&b, "  • Last run: %s (%s ago): %s\n", last.Name, durRel(time.Since(last.Started)), res)
		}
	} else {
		b.WriteString("  • disabled\n")
	}
	b.WriteString("\n")

	b.WriteString("📣 Notifier\n")
	if n := ps.Notifier; n != nil && n.Enabled() {
		hist := n.History()
		fmt.Fprintf(&b, "  • Sent (recent): %d\n", len(hist))
		if len(hist) > 0 {
			last := hist[len(hist)-1]
			fmt.Fprintf(&b, "  • Last: %s (%s ago)\n", last.Channel, durRel(time.Since(last.At)))
		}
	} else {
		b.WriteString("  • disabled\n")
	}
	b.WriteString("\n")

	b.WriteString("🧵 Supervisors\n")
	if len(sups) == 0 {
		b.WriteString("  • (none)\n")
	}
	for _, s := range sups {
		b.WriteString(s + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
