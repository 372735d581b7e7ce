package socket

import (
	"sync/atomic"
)

// State describes a socket's lifecycle position.
type State int

const (
	// StateNone is how the socket starts out.
	StateNone State = iota

	// StateListening and StateConnecting are the only states in which a
	// connection event can be received. A successful connect moves a
	// connecting socket to StateConnected; a listening socket stays
	// listening while it reports accept readiness.
	StateListening
	StateConnecting
	StateConnected

	// StateClosing means the peer has closed its side; data may still be
	// buffered. The owner has to call Close to reach StateClosed.
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "invalid"
}

// Family selects the address family for connects and listens.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Flags are socket option bits applied to the descriptor.
type Flags int

const (
	FlagNodelay Flags = 1 << iota
	FlagKeepalive
)

// Readiness directions the worker watches or has triggered.
const (
	waitConnect = 0x01
	waitRead    = 0x02
	waitWrite   = 0x04
	waitAccept  = 0x08
	waitClose   = 0x10

	waitEventCount = 5
)

var nextSocketID atomic.Uint64

// Socket is a non-blocking TCP socket. All methods are meant to be called
// from the controller goroutine; the socket's worker goroutine accesses the
// mutable fields under the worker's mutex.
type Socket struct {
	id         uint64
	dispatcher *EventDispatcher
	evtHandler EventHandler

	fd    int
	state State

	host   string
	port   int
	family Family

	flags       Flags
	bufferSizes [2]int

	worker *worker
}

// NewSocket creates an idle socket posting its events for handler through
// dispatcher.
func NewSocket(dispatcher *EventDispatcher, handler EventHandler) *Socket {
	return &Socket{
		id:          nextSocketID.Add(1),
		dispatcher:  dispatcher,
		evtHandler:  handler,
		fd:          -1,
		bufferSizes: [2]int{-1, -1},
	}
}

// ID returns the process-unique socket id.
func (s *Socket) ID() uint64 {
	return s.id
}

// Dispatcher returns the event dispatcher the socket posts to.
func (s *Socket) Dispatcher() *EventDispatcher {
	return s.dispatcher
}

// Connect starts a connection attempt to host:port. It returns immediately;
// nil means the attempt is in progress and its outcome will arrive as
// HostAddress/ConnectionNext/Connection events. Name resolution runs on the
// worker; a Close during resolution detaches the worker into the reaper
// list.
func (s *Socket) Connect(host string, port int, family Family) error {
	if s.state != StateNone {
		return EISCONN
	}
	if host == "" || port < 1 || port > 65535 {
		return EINVAL
	}
	s.family = family

	if w := s.worker; w != nil {
		w.mu.Lock()
		if w.inResolver {
			// Worker is stuck inside the blocking resolver. Abandon it.
			s.detachWorkerLocked(w)
		} else {
			w.mu.Unlock()
		}
	}
	if s.worker == nil {
		s.worker = newWorker(s)
	}

	s.state = StateConnecting
	s.host = host
	s.port = port

	if err := s.worker.connect(); err != 0 {
		s.state = StateNone
		s.worker = nil
		return err
	}
	return nil
}

// SetEventHandler swaps the observer of the socket, retargeting events
// still queued in the dispatcher. A nil handler drops them instead. When a
// handler is (re)attached to a connected socket, read and write interest is
// re-asserted so the new observer gets fresh readiness events; on a closing
// socket the already-triggered events are re-sent.
func (s *Socket) SetEventHandler(h EventHandler) {
	w := s.worker
	if w != nil {
		w.mu.Lock()
	}

	if h == nil {
		if s.evtHandler != nil {
			s.dispatcher.RemovePendingHandler(s.evtHandler)
		}
	} else if s.evtHandler != nil {
		s.dispatcher.UpdatePending(s.evtHandler, s, h, s)
	}
	s.evtHandler = h

	if w != nil {
		if h != nil && s.state == StateConnected {
			w.waiting |= waitRead | waitWrite
			w.wakeupLocked()
		} else if h != nil && s.state == StateClosing {
			w.sendEvents()
		}
		w.mu.Unlock()
	}
}

// Close releases the descriptor and cancels any in-flight connect. Events
// already queued for the handler are purged. If the worker is inside the
// blocking resolver it is detached and parked in the reaper list; Cleanup
// reclaims it once the blocking call returns.
func (s *Socket) Close() {
	w := s.worker
	if w != nil {
		w.mu.Lock()

		fd := s.fd
		s.fd = -1
		w.pendingHost = ""
		w.pendingPort = 0

		if !w.threadwait {
			w.wakeupLocked()
		}

		if fd != -1 {
			closeFD(fd)
		}
		s.state = StateNone

		w.triggered = 0
		for i := range w.triggeredErrors {
			w.triggeredErrors[i] = 0
		}

		if w.inResolver {
			s.detachWorkerLocked(w)
		} else {
			w.mu.Unlock()
		}
	} else {
		if s.fd != -1 {
			closeFD(s.fd)
			s.fd = -1
		}
		s.state = StateNone
	}

	if s.evtHandler != nil {
		s.dispatcher.RemovePendingHandler(s.evtHandler)
	}
}

// detachWorkerLocked hands the worker to the reaper list. Called with
// w.mu held; unlocks it.
func (s *Socket) detachWorkerLocked(w *worker) {
	w.sock = nil
	w.quit = true
	w.wakeupLocked()
	w.mu.Unlock()

	s.worker = nil
	reaperAdd(w)
}

// State returns the socket's current state.
func (s *Socket) State() State {
	w := s.worker
	if w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
	}
	return s.state
}

// PeerHost returns the host passed to Connect.
func (s *Socket) PeerHost() string {
	return s.host
}

// SetFlags applies nodelay/keepalive option bits, now and on descriptors
// created by future connects.
func (s *Socket) SetFlags(flags Flags) {
	w := s.worker
	if w != nil {
		w.mu.Lock()
	}
	if s.fd != -1 {
		applyFlags(s.fd, flags, flags^s.flags)
	}
	s.flags = flags
	if w != nil {
		w.mu.Unlock()
	}
}

// SetBufferSizes sets the kernel receive and send buffer sizes. -1 keeps
// the system default.
func (s *Socket) SetBufferSizes(read, write int) {
	w := s.worker
	if w != nil {
		w.mu.Lock()
	}
	s.bufferSizes[0] = read
	s.bufferSizes[1] = write
	if s.fd != -1 {
		applyBufferSizes(s.fd, read, write)
	}
	if w != nil {
		w.mu.Unlock()
	}
}

// rearm re-asserts interest in a readiness direction after a would-block
// result and wakes the worker if the interest was not already armed.
func (s *Socket) rearm(flag int) {
	w := s.worker
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.waiting&flag == 0 {
		w.waiting |= flag
		w.wakeupLocked()
	}
	w.mu.Unlock()
}

func familyNetwork(f Family) string {
	switch f {
	case FamilyIPv4:
		return "ip4"
	case FamilyIPv6:
		return "ip6"
	}
	return "ip"
}
