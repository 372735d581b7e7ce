package socket

import (
	"sync"
	"testing"
	"time"

	"github.com/GSam/filezilla/event"
)

type recordingSocketHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingSocketHandler) OnSocketEvent(ev Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *recordingSocketHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	loop := event.NewLoop()
	defer loop.Close()
	d := NewEventDispatcher(loop)

	h := &recordingSocketHandler{}
	src := &Socket{}

	for i := 0; i < 50; i++ {
		d.Send(Event{Source: src, Handler: h, Type: EventRead, Err: Error(i)})
	}

	waitFor(t, 2*time.Second, func() bool { return len(h.snapshot()) == 50 })

	for i, ev := range h.snapshot() {
		if int(ev.Err) != i {
			t.Fatalf("event %d out of order: %d", i, int(ev.Err))
		}
	}
}

func TestDispatcherRemovePendingHandler(t *testing.T) {
	loop := event.NewLoop()
	defer loop.Close()
	d := NewEventDispatcher(loop)

	dying := &recordingSocketHandler{}
	alive := &recordingSocketHandler{}
	src := &Socket{}

	d.mu.Lock()
	d.pending = append(d.pending,
		Event{Source: src, Handler: dying, Type: EventRead},
		Event{Source: src, Handler: alive, Type: EventWrite},
		Event{Source: src, Handler: dying, Type: EventClose},
	)
	d.mu.Unlock()

	d.RemovePendingHandler(dying)

	d.HandleEvent(drainEvent{})
	d.HandleEvent(drainEvent{})

	if n := len(dying.snapshot()); n != 0 {
		t.Fatalf("dying handler received %d events", n)
	}
	got := alive.snapshot()
	if len(got) != 1 || got[0].Type != EventWrite {
		t.Fatalf("surviving handler got %v", got)
	}
}

func TestDispatcherRemovePendingSource(t *testing.T) {
	loop := event.NewLoop()
	defer loop.Close()
	d := NewEventDispatcher(loop)

	h := &recordingSocketHandler{}
	deadSrc := &Socket{}
	liveSrc := &Socket{}

	d.mu.Lock()
	d.pending = append(d.pending,
		Event{Source: deadSrc, Handler: h, Type: EventRead},
		Event{Source: liveSrc, Handler: h, Type: EventWrite},
	)
	d.mu.Unlock()

	d.RemovePendingSource(deadSrc)

	d.HandleEvent(drainEvent{})
	d.HandleEvent(drainEvent{})

	got := h.snapshot()
	if len(got) != 1 || got[0].Type != EventWrite {
		t.Fatalf("got %v", got)
	}
}

func TestDispatcherUpdatePendingRetargets(t *testing.T) {
	loop := event.NewLoop()
	defer loop.Close()
	d := NewEventDispatcher(loop)

	oldHandler := &recordingSocketHandler{}
	newHandler := &recordingSocketHandler{}
	src := &Socket{}

	d.mu.Lock()
	d.pending = append(d.pending, Event{Source: src, Handler: oldHandler, Type: EventRead})
	d.mu.Unlock()

	d.UpdatePending(oldHandler, src, newHandler, src)

	d.HandleEvent(drainEvent{})

	if n := len(oldHandler.snapshot()); n != 0 {
		t.Fatalf("old handler received %d events", n)
	}
	got := newHandler.snapshot()
	if len(got) != 1 || got[0].Type != EventRead || got[0].Source != EventSource(src) {
		t.Fatalf("new handler got %v", got)
	}
}
