package control

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LockReason tags the kind of cache access a lock protects. Two holders
// with different reasons do not conflict.
type LockReason int

const (
	LockReasonUnknown LockReason = iota
	LockReasonList
	LockReasonMkdir
)

func (r LockReason) String() string {
	switch r {
	case LockReasonList:
		return "list"
	case LockReasonMkdir:
		return "mkdir"
	}
	return "unknown"
}

// obtainLockEvent resumes a control socket that was parked on a cache
// lock.
type obtainLockEvent struct{}

// lockEntry is one socket's position in the advisory lock list. Insertion
// order determines grant order. waiting==false iff lockCount>0.
type lockEntry struct {
	socketID  uint64
	owner     *ControlSocket
	server    Server
	directory ServerPath
	reason    LockReason
	waiting   bool
	lockCount int
}

func (e *lockEntry) sameKey(server Server, directory ServerPath, reason LockReason) bool {
	return e.server.Equal(server) && e.directory.Equal(directory) && e.reason == reason
}

// LockManager coordinates advisory locks between all connections the
// engine runs against the same server. It is owned by the engine and
// handed to control sockets at construction. Grants are strict FIFO over
// concurrent requesters of the same (server, directory, reason) key.
type LockManager struct {
	mu      sync.Mutex
	entries []*lockEntry
}

// NewLockManager creates an empty manager.
func NewLockManager() *LockManager {
	return &LockManager{}
}

func (m *LockManager) findLocked(socketID uint64) (int, *lockEntry) {
	for i, e := range m.entries {
		if e.socketID == socketID {
			return i, e
		}
	}
	return -1, nil
}

// TryLock requests the (server, directory, reason) lock for cs's current
// operation. Re-entrant for a socket that already holds its entry. Returns
// true when granted. When false, the entry is queued and the operation
// must park until an obtain-lock event arrives; the operation's HoldsLock
// flag is set either way so ResetOperation cleans up.
func (m *LockManager) TryLock(cs *ControlSocket, reason LockReason, directory ServerPath) bool {
	if cs.currentServer == nil || cs.curOp == nil {
		logrus.WithFields(logrus.Fields{
			"component": "lock",
		}).Warn("TryLock without server or operation")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, own := m.findLocked(cs.id)
	if own == nil {
		own = &lockEntry{
			socketID:  cs.id,
			owner:     cs,
			server:    *cs.currentServer,
			directory: directory,
			reason:    reason,
			waiting:   true,
		}
		m.entries = append(m.entries, own)
	} else if own.lockCount > 0 {
		if !cs.curOp.HoldsLock {
			cs.curOp.HoldsLock = true
			own.lockCount++
		}
		return true
	}

	// Set in any case so that ResetOperation unlocks or cancels the lock
	// wait.
	cs.curOp.HoldsLock = true

	for _, e := range m.entries {
		if e == own {
			break
		}
		if e.sameKey(own.server, own.directory, own.reason) {
			// Some other instance is holding the lock.
			return false
		}
	}

	own.lockCount++
	own.waiting = false
	return true
}

// Unlock drops one hold of cs's entry. When the count reaches zero the
// entry is removed and the first same-keyed waiter, if any, gets an
// obtain-lock event.
func (m *LockManager) Unlock(cs *ControlSocket) {
	m.mu.Lock()

	i, own := m.findLocked(cs.id)
	if own == nil {
		m.mu.Unlock()
		return
	}

	if !own.waiting {
		own.lockCount--
		if own.lockCount > 0 {
			m.mu.Unlock()
			return
		}
	}

	server, directory, reason := own.server, own.directory, own.reason
	m.entries = append(m.entries[:i], m.entries[i+1:]...)

	var next *ControlSocket
	for _, e := range m.entries {
		if e.sameKey(server, directory, reason) {
			next = e.owner
			break
		}
	}
	m.mu.Unlock()

	if next != nil {
		next.loop.Post(next, obtainLockEvent{})
	}
}

// obtainFromEvent checks whether cs's queued entry is now first for its
// key. If so the entry flips to granted and the reason is returned;
// otherwise LockReasonUnknown and the socket keeps waiting.
func (m *LockManager) obtainFromEvent(cs *ControlSocket) LockReason {
	if cs.curOp == nil {
		return LockReasonUnknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, own := m.findLocked(cs.id)
	if own == nil || !own.waiting {
		return LockReasonUnknown
	}

	for _, e := range m.entries {
		if e == own {
			break
		}
		if e.sameKey(own.server, own.directory, own.reason) {
			// Another instance comes before us.
			return LockReasonUnknown
		}
	}

	own.waiting = false
	own.lockCount++
	return own.reason
}

// IsWaiting reports whether cs is queued for a lock it does not yet hold.
// The timeout watchdog is suppressed while this is true.
func (m *LockManager) IsWaiting(cs *ControlSocket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, own := m.findLocked(cs.id)
	return own != nil && own.waiting
}

// Detach removes cs's entry outright, waking the next same-keyed waiter.
// Called when a control socket closes so no dangling entries remain.
func (m *LockManager) Detach(cs *ControlSocket) {
	m.mu.Lock()

	i, own := m.findLocked(cs.id)
	if own == nil {
		m.mu.Unlock()
		return
	}

	server, directory, reason := own.server, own.directory, own.reason
	m.entries = append(m.entries[:i], m.entries[i+1:]...)

	var next *ControlSocket
	for _, e := range m.entries {
		if e.sameKey(server, directory, reason) {
			next = e.owner
			break
		}
	}
	m.mu.Unlock()

	if next != nil {
		next.loop.Post(next, obtainLockEvent{})
	}
}
