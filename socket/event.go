package socket

import (
	"sync"

	"github.com/GSam/filezilla/event"
)

// EventType identifies the kind of a socket event.
type EventType int

const (
	// EventHostAddress reports the textual address about to be tried.
	EventHostAddress EventType = iota

	// EventConnectionNext is a nonfatal condition. It means there are
	// additional addresses to try.
	EventConnectionNext

	// EventConnection reports the outcome of a connection attempt, or
	// accept-readiness on a listening socket.
	EventConnection

	// EventRead reports read-readiness.
	EventRead

	// EventWrite reports write-readiness.
	EventWrite

	// EventClose reports that the peer closed the connection.
	EventClose
)

// EventSource is the origin of a socket event, typically a *Socket or a
// backend layered on one.
type EventSource interface{}

// Event is a single readiness notification. The queue owns the payload.
type Event struct {
	Source  EventSource
	Handler EventHandler
	Type    EventType
	Data    string
	Err     Error
}

// EventHandler consumes socket events on the controller loop.
type EventHandler interface {
	OnSocketEvent(ev Event)
}

// EventDispatcher queues socket events produced by the workers and delivers
// them serially on the controller loop, one event per drain step. Pending
// events can be purged or retargeted while in flight, which is required
// when a handler is destroyed or the observer of a live socket is swapped.
type EventDispatcher struct {
	mu      sync.Mutex
	pending []Event
	loop    *event.Loop
}

type drainEvent struct{}

// NewEventDispatcher creates a dispatcher posting its drain wake-ups to
// loop.
func NewEventDispatcher(loop *event.Loop) *EventDispatcher {
	return &EventDispatcher{loop: loop}
}

// Send appends ev and schedules a drain on the controller loop. Safe to
// call from any goroutine.
func (d *EventDispatcher) Send(ev Event) {
	if ev.Handler == nil {
		return
	}
	d.mu.Lock()
	d.pending = append(d.pending, ev)
	d.mu.Unlock()

	d.loop.Post(d, drainEvent{})
}

// RemovePendingHandler drops all queued events targeting h.
func (d *EventDispatcher) RemovePendingHandler(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	remaining := d.pending[:0]
	for _, ev := range d.pending {
		if ev.Handler != h {
			remaining = append(remaining, ev)
		}
	}
	d.pending = remaining
}

// RemovePendingSource drops all queued events originating from src.
func (d *EventDispatcher) RemovePendingSource(src EventSource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	remaining := d.pending[:0]
	for _, ev := range d.pending {
		if ev.Source != src {
			remaining = append(remaining, ev)
		}
	}
	d.pending = remaining
}

// UpdatePending retargets queued events matching (oldHandler, oldSource) to
// (newHandler, newSource). Used when swapping the observer of a live
// socket.
func (d *EventDispatcher) UpdatePending(oldHandler EventHandler, oldSource EventSource, newHandler EventHandler, newSource EventSource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.pending {
		if d.pending[i].Handler != oldHandler || d.pending[i].Source != oldSource {
			continue
		}
		d.pending[i].Handler = newHandler
		d.pending[i].Source = newSource
	}
}

// HandleEvent pops one pending event and delivers it to its handler. It
// runs on the controller loop.
func (d *EventDispatcher) HandleEvent(event.Event) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()

	ev.Handler.OnSocketEvent(ev)
}
