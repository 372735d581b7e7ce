//go:build unix

package socket

import (
	"context"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// closeFD closes a descriptor, ignoring EINTR.
func closeFD(fd int) {
	_ = unix.Close(fd)
}

func applyFlags(fd int, flags, mask Flags) Error {
	if mask&FlagNodelay != 0 {
		value := 0
		if flags&FlagNodelay != 0 {
			value = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, value); err != nil {
			return FromSyscall(err)
		}
	}
	if mask&FlagKeepalive != 0 {
		value := 0
		if flags&FlagKeepalive != 0 {
			value = 1
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, value); err != nil {
			return FromSyscall(err)
		}
	}
	return 0
}

func applyBufferSizes(fd, read, write int) Error {
	if read != -1 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, read); err != nil {
			return FromSyscall(err)
		}
	}
	if write != -1 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, write); err != nil {
			return FromSyscall(err)
		}
	}
	return 0
}

// Read is a non-blocking receive. On EAGAIN the worker's read interest is
// re-armed and the caller must await the next read event.
func (s *Socket) Read(buf []byte) (int, error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		e := FromSyscall(err)
		if e == EAGAIN {
			s.rearm(waitRead)
		}
		return -1, e
	}
	if n == 0 && len(buf) > 0 {
		// Peer FIN reached with the buffer drained; let the worker turn
		// it into a close event.
		s.rearm(waitRead)
	}
	return n, nil
}

// Peek receives without consuming.
func (s *Socket) Peek(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, unix.MSG_PEEK)
	if err != nil {
		return -1, FromSyscall(err)
	}
	return n, nil
}

// Write is a non-blocking send. On EAGAIN the worker's write interest is
// re-armed and the caller must await the next write event.
func (s *Socket) Write(buf []byte) (int, error) {
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		e := FromSyscall(err)
		if e == EAGAIN {
			s.rearm(waitWrite)
		}
		return -1, e
	}
	return n, nil
}

// Listen binds the wildcard address and listens with a backlog of one. The
// worker then watches for accept readiness, reported as connection events.
func (s *Socket) Listen(family Family, port int) error {
	if s.state != StateNone {
		return EALREADY
	}
	if port < 0 || port > 65535 {
		return EINVAL
	}
	s.family = family

	domain := unix.AF_INET
	var sa unix.Sockaddr = &unix.SockaddrInet4{Port: port}
	if family == FamilyIPv6 {
		domain = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: port}
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return FromSyscall(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		closeFD(fd)
		return FromSyscall(err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		closeFD(fd)
		return FromSyscall(err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		closeFD(fd)
		return FromSyscall(err)
	}

	s.fd = fd
	s.state = StateListening

	s.worker = newWorker(s)
	s.worker.waiting = waitAccept
	if werr := s.worker.start(); werr != 0 {
		closeFD(fd)
		s.fd = -1
		s.state = StateNone
		s.worker = nil
		return werr
	}
	return nil
}

// Accept takes a pending connection off the listening socket and returns it
// as a new connected socket with its own worker watching read and write.
// The caller attaches an observer with SetEventHandler.
func (s *Socket) Accept() (*Socket, error) {
	if w := s.worker; w != nil {
		w.mu.Lock()
		w.waiting |= waitAccept
		w.wakeupLocked()
		w.mu.Unlock()
	}

	nfd, _, err := unix.Accept(s.fd)
	if err != nil {
		return nil, FromSyscall(err)
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		closeFD(nfd)
		return nil, FromSyscall(err)
	}
	applyBufferSizes(nfd, s.bufferSizes[0], s.bufferSizes[1])

	ns := NewSocket(s.dispatcher, nil)
	ns.fd = nfd
	ns.state = StateConnected
	ns.worker = newWorker(ns)
	ns.worker.waiting = waitRead | waitWrite
	if werr := ns.worker.start(); werr != 0 {
		closeFD(nfd)
		return nil, werr
	}
	return ns, nil
}

// LocalPort returns the port the descriptor is bound to.
func (s *Socket) LocalPort() (int, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return -1, FromSyscall(err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return -1, EINVAL
}

func (w *worker) initWake() Error {
	if w.wakeR != -1 {
		return 0
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return FromSyscall(err)
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	w.wakeR = p[0]
	w.wakeW = p[1]
	return 0
}

func (w *worker) writeWake() {
	var b [1]byte
	for {
		_, err := unix.Write(w.wakeW, b[:])
		if err != unix.EINTR {
			return
		}
	}
}

func (w *worker) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.wakeR, buf[:])
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (w *worker) closeWakeLocked() {
	if w.wakeR != -1 {
		closeFD(w.wakeR)
		w.wakeR = -1
	}
	if w.wakeW != -1 {
		closeFD(w.wakeW)
		w.wakeW = -1
	}
}

// postEvent queues an event for the socket's observer. Caller holds w.mu.
func (w *worker) postEvent(t EventType, data string, err Error) {
	s := w.sock
	if s == nil || s.evtHandler == nil {
		return
	}
	s.dispatcher.Send(Event{Source: s, Handler: s.evtHandler, Type: t, Data: data, Err: err})
}

// sendEvents delivers all triggered directions and clears them. Caller
// holds w.mu.
func (w *worker) sendEvents() {
	if w.sock == nil || w.sock.evtHandler == nil {
		return
	}
	if w.triggered&waitRead != 0 {
		w.postEvent(EventRead, "", w.triggeredErrors[1])
		w.triggered &^= waitRead
	}
	if w.triggered&waitWrite != 0 {
		w.postEvent(EventWrite, "", w.triggeredErrors[2])
		w.triggered &^= waitWrite
	}
	if w.triggered&waitAccept != 0 {
		w.postEvent(EventConnection, "", w.triggeredErrors[3])
		w.triggered &^= waitAccept
	}
	if w.triggered&waitClose != 0 {
		w.postEvent(EventClose, "", w.triggeredErrors[4])
		w.triggered &^= waitClose
	}
}

// loop is the worker's main routine: idle-park, resolve+connect, then watch
// or listen until the descriptor goes away.
func (w *worker) loop() {
	defer close(w.done)

	w.mu.Lock()
	for {
		if !w.idleLoop() {
			break
		}

		if w.sock.state == StateListening {
			for w.idleLoop() {
				if w.sock.fd == -1 {
					w.waiting = 0
					break
				}
				if !w.doWait(0) {
					break
				}
				w.sendEvents()
			}
		} else {
			if w.sock.state == StateConnecting {
				if !w.doConnect() {
					continue
				}
			}

			// Watch for peer close from now on. Close must never be
			// reported while unread bytes remain; doWait peeks to
			// guarantee that.
			w.waiting |= waitClose
			for w.idleLoop() {
				if w.sock.fd == -1 {
					w.waiting = 0
					break
				}
				res := w.doWait(0)
				if w.triggered&waitClose != 0 && w.sock != nil {
					w.sock.state = StateClosing
				}
				if !res {
					break
				}
				w.sendEvents()
			}
		}

		if w.quit {
			break
		}
	}

	w.finished = true
	w.closeWakeLocked()
	w.mu.Unlock()
}

// doConnect resolves the staged host and iterates the addresses. Caller
// holds w.mu. Returns true once connected; false when the attempt is over
// (failed, cancelled or quitting).
func (w *worker) doConnect() bool {
	host := w.pendingHost
	port := w.pendingPort
	w.pendingHost = ""
	w.pendingPort = 0

	if host == "" {
		w.sock.state = StateClosed
		return false
	}

	family := w.sock.family

	w.inResolver = true
	w.mu.Unlock()

	ips, lerr := net.DefaultResolver.LookupIP(context.Background(), familyNetwork(family), host)

	w.mu.Lock()
	w.inResolver = false

	if w.quit || w.sock == nil {
		return false
	}
	// If state isn't connecting, Close was called. If pendingHost is set,
	// Close was called and Connect afterwards. Either way this attempt is
	// stale.
	if w.sock.state != StateConnecting || w.pendingHost != "" {
		return false
	}

	if lerr != nil {
		w.postEvent(EventConnection, "", FromResolver(lerr))
		w.sock.state = StateClosed
		return false
	}
	if len(ips) == 0 {
		w.postEvent(EventConnection, "", EAI_NODATA)
		w.sock.state = StateClosed
		return false
	}

	for i, ip := range ips {
		res := w.tryConnect(ip, port, i+1 < len(ips))
		if res < 0 {
			if w.sock != nil && w.sock.state == StateConnecting {
				w.sock.state = StateClosed
			}
			return false
		}
		if res > 0 {
			return true
		}
	}

	w.postEvent(EventConnection, "", ECONNABORTED)
	w.sock.state = StateClosed
	return false
}

// tryConnect attempts one resolved address. Caller holds w.mu. Returns 1 on
// success, 0 to continue with the next address, -1 to abort the whole
// attempt.
func (w *worker) tryConnect(ip net.IP, port int, hasNext bool) int {
	w.postEvent(EventHostAddress, net.JoinHostPort(ip.String(), strconv.Itoa(port)), 0)

	failureType := EventConnection
	if hasNext {
		failureType = EventConnectionNext
	}

	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		domain = unix.AF_INET
		a := &unix.SockaddrInet4{Port: port}
		copy(a.Addr[:], ip4)
		sa = a
	} else {
		domain = unix.AF_INET6
		a := &unix.SockaddrInet6{Port: port}
		copy(a.Addr[:], ip.To16())
		sa = a
	}

	fd, serr := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if serr != nil {
		w.postEvent(failureType, "", FromSyscall(serr))
		return 0
	}

	s := w.sock
	applyFlags(fd, s.flags, s.flags)
	applyBufferSizes(fd, s.bufferSizes[0], s.bufferSizes[1])
	unix.SetNonblock(fd, true)

	var res Error
	if cerr := unix.Connect(fd, sa); cerr != nil {
		res = FromSyscall(cerr)
	}

	if res == EINPROGRESS {
		s.fd = fd

		for {
			ok := w.doWait(waitConnect)
			if w.triggered&waitConnect != 0 {
				break
			}
			if !ok {
				// Skip the close if the owner already closed the fd.
				if w.sock != nil && w.sock.fd == fd {
					w.sock.fd = -1
					closeFD(fd)
				}
				return -1
			}
		}
		w.triggered &^= waitConnect
		res = w.triggeredErrors[0]
	}

	if res != 0 {
		w.postEvent(failureType, "", res)
		if w.sock != nil {
			w.sock.fd = -1
		}
		closeFD(fd)
		return 0
	}

	s.fd = fd
	s.state = StateConnected
	w.postEvent(EventConnection, "", 0)

	w.waiting |= waitRead | waitWrite
	return 1
}

// doWait blocks until a requested direction triggers or the wait is
// cancelled. Caller holds w.mu; the lock is dropped across the poll.
// Returns false if the worker should stop waiting (quit, detach or fd
// removal).
func (w *worker) doWait(wait int) bool {
	w.waiting |= wait

	// Set when the kernel keeps reporting a condition the owner currently
	// has no interest in (peer FIN with undrained data). The fd is then
	// left out of the poll set until the owner changes the interest set,
	// which always writes the wake pipe.
	ignoreFD := false

	for {
		s := w.sock
		if s == nil || s.fd == -1 {
			return false
		}
		fd := s.fd

		pfds := [2]unix.PollFd{{Fd: int32(w.wakeR), Events: unix.POLLIN}}
		nfds := 1
		if !ignoreFD {
			var events int16
			if w.waiting&waitConnect != 0 {
				events |= unix.POLLOUT
			} else {
				if w.waiting&(waitRead|waitAccept) != 0 {
					events |= unix.POLLIN
				}
				if w.waiting&waitWrite != 0 {
					events |= unix.POLLOUT
				}
			}
			pfds[1] = unix.PollFd{Fd: int32(fd), Events: events}
			nfds = 2
		}

		w.mu.Unlock()
		n, perr := unix.Poll(pfds[:nfds], -1)
		w.mu.Lock()

		if n > 0 && pfds[0].Revents&unix.POLLIN != 0 {
			w.drainWake()
			ignoreFD = false
		}

		if w.quit || w.sock == nil || w.sock.fd == -1 {
			return false
		}
		if perr != nil {
			if perr == unix.EINTR {
				continue
			}
			return false
		}
		if n == 0 || nfds < 2 {
			continue
		}

		re := pfds[1].Revents
		if re == 0 {
			continue
		}

		progressed := false

		if w.waiting&waitConnect != 0 {
			if re&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0 {
				soerr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
				if gerr != nil {
					soerr = int(FromSyscall(gerr))
				}
				w.triggered |= waitConnect
				w.triggeredErrors[0] = Error(soerr)
				w.waiting &^= waitConnect
				progressed = true
			}
		} else if w.waiting&waitAccept != 0 {
			if re&unix.POLLIN != 0 {
				w.triggered |= waitAccept
				w.triggeredErrors[3] = 0
				w.waiting &^= waitAccept
				progressed = true
			}
		} else if re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			// Data, peer FIN or error. Peek decides between read and
			// close so that close is never delivered while unread bytes
			// remain.
			pn, _, rerr := unix.Recvfrom(fd, w.peekBuf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
			switch {
			case rerr == unix.EAGAIN:
				// Spurious wakeup.
			case rerr != nil:
				if w.waiting&waitClose != 0 {
					w.triggered |= waitClose
					w.triggeredErrors[4] = FromSyscall(rerr)
					w.waiting &^= waitClose
					progressed = true
				}
			case pn > 0:
				if w.waiting&waitRead != 0 {
					w.triggered |= waitRead
					w.triggeredErrors[1] = 0
					w.waiting &^= waitRead
					progressed = true
				}
			default:
				// EOF with the receive buffer drained.
				if w.waiting&waitClose != 0 {
					w.triggered |= waitClose
					w.triggeredErrors[4] = 0
					w.waiting &^= waitClose
					progressed = true
				}
			}
		}

		if w.waiting&waitWrite != 0 && re&unix.POLLOUT != 0 {
			w.triggered |= waitWrite
			w.triggeredErrors[2] = 0
			w.waiting &^= waitWrite
			progressed = true
		}

		if w.triggered != 0 || w.waiting == 0 {
			return true
		}
		if !progressed {
			// The kernel reported a condition nothing is armed for.
			// Park on the wake pipe until the interest set changes.
			ignoreFD = true
		}
	}
}
