package socket

import (
	"github.com/sirupsen/logrus"
)

// SOCKS5 handshake states.
type socksState int

const (
	socksStateConnecting socksState = iota
	socksStateGreeting
	socksStateAuth
	socksStateRequest
	socksStateDone
	socksStateFailed
)

// SocksBackend tunnels the connection through a SOCKS5 proxy. It takes over
// as the socket's event handler while the handshake runs; once the tunnel
// is usable it posts a synthetic connection event to the observer, which is
// expected to detach the backend and attach a fresh direct backend over the
// same descriptor.
type SocksBackend struct {
	sock     *Socket
	observer EventHandler

	destHost string
	destPort int
	user     string
	pass     string

	state    socksState
	sendBuf  []byte
	recvBuf  []byte
	need     int
	detached bool
}

// NewSocksBackend prepares a handshake towards destHost:destPort for the
// proxied socket. The caller installs it as the socket's event handler
// before connecting to the proxy itself.
func NewSocksBackend(sock *Socket, observer EventHandler, destHost string, destPort int, user, pass string) *SocksBackend {
	return &SocksBackend{
		sock:     sock,
		observer: observer,
		destHost: destHost,
		destPort: destPort,
		user:     user,
		pass:     pass,
		state:    socksStateConnecting,
	}
}

// Detached reports whether the backend has been detached from the socket.
func (b *SocksBackend) Detached() bool {
	return b.detached
}

// Detach releases the socket to the next backend.
func (b *SocksBackend) Detach() {
	b.detached = true
}

// Read passes through to the socket. Only meaningful after the handshake;
// the real control socket normally swaps in a direct backend instead.
func (b *SocksBackend) Read(buf []byte) (int, error) {
	if b.detached {
		return -1, ENOTCONN
	}
	return b.sock.Read(buf)
}

// Write passes through to the socket.
func (b *SocksBackend) Write(buf []byte) (int, error) {
	if b.detached {
		return -1, ENOTCONN
	}
	return b.sock.Write(buf)
}

// OnSocketEvent drives the handshake state machine from the socket's
// events. Resolution progress and failures are forwarded to the observer.
func (b *SocksBackend) OnSocketEvent(ev Event) {
	if b.detached {
		return
	}
	switch ev.Type {
	case EventHostAddress, EventConnectionNext:
		b.forward(ev)
	case EventConnection:
		if ev.Err != 0 {
			b.forward(ev)
			return
		}
		b.startGreeting()
	case EventRead:
		b.onReceive()
	case EventWrite:
		b.flush()
	case EventClose:
		if b.state != socksStateDone {
			b.fail(ECONNABORTED)
			return
		}
		b.forward(ev)
	}
}

func (b *SocksBackend) forward(ev Event) {
	ev.Handler = b.observer
	ev.Source = b
	b.sock.dispatcher.Send(ev)
}

func (b *SocksBackend) startGreeting() {
	logrus.WithFields(logrus.Fields{
		"component": "socks",
		"dest":      b.destHost,
	}).Debug("Proxy connected, starting SOCKS5 handshake")

	method := byte(0x00)
	if b.user != "" {
		method = 0x02
	}
	b.state = socksStateGreeting
	b.need = 2
	b.send([]byte{0x05, 0x01, method})
}

func (b *SocksBackend) send(buf []byte) {
	b.sendBuf = append(b.sendBuf, buf...)
	b.flush()
}

func (b *SocksBackend) flush() {
	for len(b.sendBuf) > 0 {
		n, err := b.sock.Write(b.sendBuf)
		if err != nil {
			if err == EAGAIN {
				return
			}
			b.fail(FromSyscall(err))
			return
		}
		b.sendBuf = b.sendBuf[n:]
	}
}

func (b *SocksBackend) onReceive() {
	for b.state != socksStateDone && b.state != socksStateFailed {
		missing := b.need - len(b.recvBuf)
		if missing <= 0 {
			break
		}
		chunk := make([]byte, missing)
		n, err := b.sock.Read(chunk)
		if err != nil {
			if err == EAGAIN {
				return
			}
			b.fail(FromSyscall(err))
			return
		}
		if n == 0 {
			b.fail(ECONNABORTED)
			return
		}
		b.recvBuf = append(b.recvBuf, chunk[:n]...)
		if len(b.recvBuf) < b.need {
			continue
		}
		b.advance()
	}
}

// advance consumes one complete handshake reply. Caller guarantees need
// bytes are buffered.
func (b *SocksBackend) advance() {
	buf := b.recvBuf

	switch b.state {
	case socksStateGreeting:
		if buf[0] != 0x05 {
			b.fail(ECONNABORTED)
			return
		}
		switch buf[1] {
		case 0x00:
			b.sendRequest()
		case 0x02:
			b.sendAuth()
		default:
			logrus.WithFields(logrus.Fields{
				"component": "socks",
				"method":    buf[1],
			}).Warn("Proxy offered no acceptable authentication method")
			b.fail(ECONNABORTED)
		}

	case socksStateAuth:
		if buf[1] != 0x00 {
			b.fail(ECONNREFUSED)
			return
		}
		b.sendRequest()

	case socksStateRequest:
		if len(buf) == 4 {
			if buf[1] != 0x00 {
				b.fail(socksReplyError(buf[1]))
				return
			}
			// Bound address follows; length depends on the address type.
			switch buf[3] {
			case 0x01:
				b.need = 4 + 4 + 2
			case 0x04:
				b.need = 4 + 16 + 2
			case 0x03:
				b.need = 4 + 1
			default:
				b.fail(ECONNABORTED)
			}
			return
		}
		if buf[3] == 0x03 && len(buf) == 5 {
			b.need = 5 + int(buf[4]) + 2
			return
		}
		b.complete()
	}
}

func (b *SocksBackend) sendAuth() {
	b.state = socksStateAuth
	b.recvBuf = nil
	b.need = 2

	req := []byte{0x01, byte(len(b.user))}
	req = append(req, b.user...)
	req = append(req, byte(len(b.pass)))
	req = append(req, b.pass...)
	b.send(req)
}

func (b *SocksBackend) sendRequest() {
	if len(b.destHost) > 255 {
		b.fail(EINVAL)
		return
	}
	b.state = socksStateRequest
	b.recvBuf = nil
	b.need = 4

	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(b.destHost))}
	req = append(req, b.destHost...)
	req = append(req, byte(b.destPort>>8), byte(b.destPort))
	b.send(req)
}

func (b *SocksBackend) complete() {
	b.state = socksStateDone
	b.recvBuf = nil

	logrus.WithFields(logrus.Fields{
		"component": "socks",
		"dest":      b.destHost,
	}).Debug("SOCKS5 tunnel established")

	b.sock.dispatcher.Send(Event{Source: b, Handler: b.observer, Type: EventConnection})
}

func (b *SocksBackend) fail(err Error) {
	b.state = socksStateFailed
	b.sock.dispatcher.Send(Event{Source: b, Handler: b.observer, Type: EventConnection, Err: err})
}

// socksReplyError maps a SOCKS5 reply code to an errno.
func socksReplyError(rep byte) Error {
	switch rep {
	case 0x03:
		return ENETUNREACH
	case 0x04:
		return EHOSTUNREACH
	case 0x05:
		return ECONNREFUSED
	case 0x06:
		return ETIMEDOUT
	}
	return ECONNABORTED
}
