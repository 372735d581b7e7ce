package event

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

// Event is any value delivered to a Handler through the loop.
type Event interface{}

// Handler receives events posted to the loop. HandleEvent runs on the loop
// goroutine; it must not block and must not call Loop.RemoveHandler on
// itself.
type Handler interface {
	HandleEvent(ev Event)
}

// TimerEvent is delivered when a timer added with AddTimer fires.
type TimerEvent struct {
	ID int
}

type pendingEvent struct {
	handler Handler
	ev      Event
}

type loopTimer struct {
	handler Handler
	timer   *time.Timer
	oneShot bool
}

// Loop is the controller event loop. All handler callbacks are serialized on
// one goroutine started by NewLoop.
type Loop struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending *queue.Queue // of pendingEvent

	timers      map[int]*loopTimer
	nextTimerID int

	active Handler // handler currently inside HandleEvent
	quit   bool
	done   chan struct{}
}

// NewLoop creates a loop and starts its dispatch goroutine.
func NewLoop() *Loop {
	l := &Loop{
		pending: queue.New(),
		timers:  make(map[int]*loopTimer),
		done:    make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Post enqueues ev for h. Events for the same handler are delivered in the
// order they were posted. Safe to call from any goroutine.
func (l *Loop) Post(h Handler, ev Event) {
	if h == nil {
		return
	}
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return
	}
	l.pending.Add(pendingEvent{handler: h, ev: ev})
	l.cond.Broadcast()
	l.mu.Unlock()
}

// AddTimer arranges for h to receive TimerEvent values every interval, or
// once if oneShot is set. It returns the timer id for StopTimer.
func (l *Loop) AddTimer(h Handler, interval time.Duration, oneShot bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.quit {
		return -1
	}

	l.nextTimerID++
	id := l.nextTimerID

	t := &loopTimer{handler: h, oneShot: oneShot}
	t.timer = time.AfterFunc(interval, func() { l.fireTimer(id, interval) })
	l.timers[id] = t
	return id
}

func (l *Loop) fireTimer(id int, interval time.Duration) {
	l.mu.Lock()
	t, ok := l.timers[id]
	if !ok || l.quit {
		l.mu.Unlock()
		return
	}
	l.pending.Add(pendingEvent{handler: t.handler, ev: TimerEvent{ID: id}})
	l.cond.Broadcast()
	if t.oneShot {
		delete(l.timers, id)
	} else {
		t.timer.Reset(interval)
	}
	l.mu.Unlock()
}

// StopTimer cancels the timer and drops any of its not yet delivered
// TimerEvents.
func (l *Loop) StopTimer(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.timers[id]
	if !ok {
		return
	}
	t.timer.Stop()
	delete(l.timers, id)

	l.filterPendingLocked(func(p pendingEvent) bool {
		te, isTimer := p.ev.(TimerEvent)
		return !isTimer || te.ID != id
	})
}

// RemoveHandler drops all pending events and timers targeting h and waits
// for a callback into h that is currently running to return. After it
// returns, h receives no further events and may be torn down. Must not be
// called from h's own HandleEvent.
func (l *Loop) RemoveHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, t := range l.timers {
		if t.handler == h {
			t.timer.Stop()
			delete(l.timers, id)
		}
	}
	l.filterPendingLocked(func(p pendingEvent) bool {
		return p.handler != h
	})

	for l.active == h {
		l.cond.Wait()
	}
}

// filterPendingLocked keeps only the events for which keep returns true,
// preserving order. Caller holds l.mu.
func (l *Loop) filterPendingLocked(keep func(pendingEvent) bool) {
	n := l.pending.Length()
	for i := 0; i < n; i++ {
		p := l.pending.Remove().(pendingEvent)
		if keep(p) {
			l.pending.Add(p)
		}
	}
}

// Close stops the dispatch goroutine. Pending events are discarded and all
// timers cancelled. Blocks until the goroutine has exited.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.quit = true
	for id, t := range l.timers {
		t.timer.Stop()
		delete(l.timers, id)
	}
	l.cond.Broadcast()
	l.mu.Unlock()

	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	l.mu.Lock()
	for {
		for !l.quit && l.pending.Length() == 0 {
			l.cond.Wait()
		}
		if l.quit {
			l.mu.Unlock()
			return
		}

		p := l.pending.Remove().(pendingEvent)
		l.active = p.handler
		l.mu.Unlock()

		l.dispatch(p)

		l.mu.Lock()
		l.active = nil
		l.cond.Broadcast()
	}
}

func (l *Loop) dispatch(p pendingEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"component": "event",
				"panic":     r,
			}).Error("Event handler panicked")
		}
	}()
	p.handler.HandleEvent(p.ev)
}
