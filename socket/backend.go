package socket

import (
	"time"

	"golang.org/x/time/rate"
)

// Backend is the byte stream a control connection reads and writes. A
// backend layers on a socket; Detach disconnects it from the socket without
// closing the descriptor, so another backend can take over.
type Backend interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Detach()
}

// DirectBackend reads and writes the socket directly, optionally paced by
// token-bucket limiters. When a direction is out of tokens the call fails
// with EAGAIN and a synthetic readiness event is scheduled for when tokens
// become available, mirroring the socket's own would-block protocol.
type DirectBackend struct {
	sock    *Socket
	handler EventHandler

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	readPending  *time.Timer
	writePending *time.Timer

	detached bool
}

// NewDirectBackend creates a backend over sock delivering synthetic
// rate-limit wakeups to handler. Either limiter may be nil for an unlimited
// direction.
func NewDirectBackend(sock *Socket, handler EventHandler, readLimiter, writeLimiter *rate.Limiter) *DirectBackend {
	return &DirectBackend{
		sock:         sock,
		handler:      handler,
		readLimiter:  readLimiter,
		writeLimiter: writeLimiter,
	}
}

// Read receives at most as many bytes as the read limiter currently
// allows.
func (b *DirectBackend) Read(buf []byte) (int, error) {
	if b.detached {
		return -1, ENOTCONN
	}
	if b.readLimiter != nil {
		allowed := b.limit(b.readLimiter, len(buf), &b.readPending, EventRead)
		if allowed == 0 {
			return -1, EAGAIN
		}
		buf = buf[:allowed]
	}
	n, err := b.sock.Read(buf)
	if n > 0 && b.readLimiter != nil {
		b.readLimiter.AllowN(time.Now(), n)
	}
	return n, err
}

// Write sends at most as many bytes as the write limiter currently allows.
func (b *DirectBackend) Write(buf []byte) (int, error) {
	if b.detached {
		return -1, ENOTCONN
	}
	if b.writeLimiter != nil {
		allowed := b.limit(b.writeLimiter, len(buf), &b.writePending, EventWrite)
		if allowed == 0 {
			return -1, EAGAIN
		}
		buf = buf[:allowed]
	}
	n, err := b.sock.Write(buf)
	if n > 0 && b.writeLimiter != nil {
		b.writeLimiter.AllowN(time.Now(), n)
	}
	return n, err
}

// limit returns how many bytes may move now, zero if the direction has to
// wait. In the latter case a wakeup event is scheduled for when the bucket
// refills.
func (b *DirectBackend) limit(l *rate.Limiter, want int, pending **time.Timer, wakeType EventType) int {
	now := time.Now()
	tokens := int(l.TokensAt(now))
	if tokens >= 1 {
		if *pending != nil {
			(*pending).Stop()
			*pending = nil
		}
		if tokens < want {
			return tokens
		}
		return want
	}

	r := l.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)

	if *pending != nil {
		(*pending).Stop()
	}
	sock, handler, dispatcher := b.sock, b.handler, b.sock.dispatcher
	*pending = time.AfterFunc(delay, func() {
		dispatcher.Send(Event{Source: sock, Handler: handler, Type: wakeType})
	})
	return 0
}

// Detach disconnects the backend from the socket, cancelling scheduled
// rate-limit wakeups.
func (b *DirectBackend) Detach() {
	b.detached = true
	if b.readPending != nil {
		b.readPending.Stop()
		b.readPending = nil
	}
	if b.writePending != nil {
		b.writePending.Stop()
		b.writePending = nil
	}
}
