package scheduler

import (
	"sort"
	"strings"
	"time"
)

func sortInfos(items []ScheduleInfo) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Next.Equal(items[j].Next) {
			return items[i].Next.Before(items[j].Next)
		}
		return items[i].Name < items[j].Name
	})
}

// PreviewNext returns the next n fire times of a cron spec in loc, joined
// for log lines. Invalid specs yield "".
func (s *Service) PreviewNext(spec string, n int, loc *time.Location) string {
	sched, err := s.parser.Parse(spec)
	if err != nil || n <= 0 {
		return ""
	}
	t := time.Now().In(loc)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t.Format("Mon 02 Jan 15:04"))
	}
	return strings.Join(out, ", ")
}
