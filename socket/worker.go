package socket

import (
	"sync"
)

// worker drives one socket: it resolves names, runs the connect sequence
// and watches the descriptor for readiness. The worker's mutex guards the
// socket's mutable fields; the worker holds it except across blocking
// calls. A condition variable parks the worker while there is nothing to
// watch.
type worker struct {
	mu   sync.Mutex
	cond *sync.Cond

	// The socket whose shared state this worker borrows. nil once
	// detached; the worker then only finishes up and exits.
	sock *Socket

	pendingHost string
	pendingPort int

	started  bool
	quit     bool
	finished bool

	// Worker is parked on the condition variable.
	threadwait bool

	// Worker is inside the blocking resolver and cannot be preempted;
	// Close detaches it instead.
	inResolver bool

	// Directions the owner still wants, and directions ready but not yet
	// delivered. After delivery a direction clears from both.
	waiting   int
	triggered int

	triggeredErrors [waitEventCount]Error

	// Self-pipe used to break the readiness wait.
	wakeR, wakeW int

	peekBuf [1]byte

	done chan struct{}
}

func newWorker(s *Socket) *worker {
	w := &worker{
		sock:  s,
		wakeR: -1,
		wakeW: -1,
		done:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// connect stages the socket's host/port for the worker and starts or wakes
// it. Returns 0 on success.
func (w *worker) connect() Error {
	w.mu.Lock()
	w.pendingHost = w.sock.host
	w.pendingPort = w.sock.port
	w.waiting = 0

	if w.started {
		w.wakeupLocked()
		w.mu.Unlock()
		return 0
	}
	w.mu.Unlock()
	return w.start()
}

func (w *worker) start() Error {
	if err := w.initWake(); err != 0 {
		return err
	}
	w.started = true
	go w.loop()
	return 0
}

// wakeupLocked cancels a readiness wait or idle park. Caller holds w.mu.
func (w *worker) wakeupLocked() {
	if !w.started || w.finished {
		return
	}
	if w.threadwait {
		w.threadwait = false
		w.cond.Signal()
		return
	}
	w.writeWake()
}

// idleLoop parks the worker until there is something to do. Caller holds
// w.mu. Returns false if the worker should exit.
func (w *worker) idleLoop() bool {
	if w.quit {
		return false
	}
	for w.sock == nil || (w.waiting == 0 && w.pendingHost == "") {
		w.threadwait = true
		w.cond.Wait()
		if w.quit {
			return false
		}
	}
	return true
}

// Process-wide holding area for workers abandoned mid-blocking-call. They
// are joined later by Cleanup.
var (
	reaperMu      sync.Mutex
	reapedWorkers []*worker
)

func reaperAdd(w *worker) {
	reaperMu.Lock()
	reapedWorkers = append(reapedWorkers, w)
	reaperMu.Unlock()
}

// Cleanup reclaims detached workers that have finished. With force set it
// blocks until every detached worker has exited.
func Cleanup(force bool) {
	reaperMu.Lock()
	defer reaperMu.Unlock()

	remaining := reapedWorkers[:0]
	for _, w := range reapedWorkers {
		if force {
			<-w.done
			continue
		}
		select {
		case <-w.done:
		default:
			remaining = append(remaining, w)
		}
	}
	reapedWorkers = remaining
}
