package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	ticks, unsubTicks := b.Subscribe(4, "timetable.tick")
	defer unsubAll()
	defer unsubTicks()

	b.Publish(Event{Type: "timetable.tick"})
	b.Publish(Event{Type: "timetable.calendar_changed"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(ticks); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	if e := <-ticks; e.Time.IsZero() {
		t.Fatalf("published event has zero Time")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if e := <-ch; e.Type != "a" {
		t.Fatalf("first event = %q, want a", e.Type)
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "c"})
}
