package timetable

import (
	"fmt"
	"strconv"

	tt "dayorder/internal/timetable"
	"dayorder/internal/transport"
	"dayorder/pkg/tgui"
)

const callbackGroup = "tt"

// renderNow is the /now card: clock, day order, current period and the
// countdown to the next boundary.
func renderNow(st tt.Status, r *tt.Resolver) tgui.Message {
	b := tgui.New().Title("🕘", tt.Weekday(st.At)+" "+tt.FormatDate(st.At)+" · "+tt.FormatClock(st.At))
	if !st.HasDayOrder() {
		b.Line(noTimetableLine(st))
		return b.Build()
	}
	b.HTML(tgui.B(tt.DayLabel(st.DayOrder)))
	periods := r.Periods()
	if subj, ok := st.CurrentSubject(); ok {
		b.Line(fmt.Sprintf("▶️ %s · %s", tt.PeriodLabel(st.Current), periods[st.Current].Range()))
		b.HTML(tgui.JoinH("", tgui.Esc("   "), tgui.I(subj)))
	}
	if st.Next == nil {
		b.Line("🏁 Classes are over for today")
		return b.Build()
	}
	b.Line("⏱ " + st.Headline())
	if st.Next.Kind == tt.CountdownBefore && st.Next.Period < len(st.Subjects) {
		b.HTML(tgui.JoinH("", tgui.Esc("   next: "), tgui.I(st.Subjects[st.Next.Period])))
	}
	return b.Build()
}

func noTimetableLine(st tt.Status) string {
	if st.Holiday {
		return "🏖 No Timetable Today (holiday)"
	}
	return "😴 No Timetable Today"
}

// renderDay lists every period of a day order; current marks the running
// period or is tt.NoPeriod.
func renderDay(b *tgui.Builder, r *tt.Resolver, dayOrder, current int) *tgui.Builder {
	subjects, ok := r.Day(dayOrder)
	if !ok {
		return b.Line("No such day order")
	}
	for i, p := range r.Periods() {
		mark := "▫️"
		if i == current {
			mark = "▶️"
		}
		subj := "-"
		if i < len(subjects) {
			subj = subjects[i]
		}
		b.HTML(tgui.JoinH(" ", tgui.Esc(mark), tgui.Code(p.Range()), tgui.Esc(subj)))
	}
	return b
}

// weekKeyboard has one button per day order; the selected one is marked.
func weekKeyboard(days, selected int) *tgui.Keyboard {
	btns := make([]transport.Button, 0, days)
	for i := 0; i < days; i++ {
		label := "Day " + strconv.Itoa(i+1)
		if i == selected {
			label = "• " + label + " •"
		}
		btns = append(btns, tgui.Btn(label, tgui.MustData(callbackGroup, "day", strconv.Itoa(i+1))))
	}
	return tgui.NewKeyboard().Grid(5, btns...)
}

func renderWeek(r *tt.Resolver, dayOrder int) tgui.Message {
	b := tgui.New().Title("📅", tt.DayLabel(dayOrder))
	renderDay(b, r, dayOrder, tt.NoPeriod)
	return b.Keyboard(weekKeyboard(len(r.Days()), dayOrder)).Build()
}
