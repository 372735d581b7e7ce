//go:build unix

package socket

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GSam/filezilla/event"
)

// fakeSocksServer speaks just enough SOCKS5 to complete a handshake. It
// records the CONNECT target and answers with the given reply code.
func fakeSocksServer(t *testing.T, ln net.Listener, expectAuth bool, reply byte, target chan<- string) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 3)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}

		if expectAuth {
			conn.Write([]byte{0x05, 0x02})

			header := make([]byte, 2)
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			user := make([]byte, int(header[1]))
			io.ReadFull(conn, user)
			passLen := make([]byte, 1)
			io.ReadFull(conn, passLen)
			pass := make([]byte, int(passLen[0]))
			io.ReadFull(conn, pass)
			conn.Write([]byte{0x01, 0x00})
		} else {
			conn.Write([]byte{0x05, 0x00})
		}

		head := make([]byte, 5)
		if _, err := io.ReadFull(conn, head); err != nil {
			return
		}
		hostLen := int(head[4])
		rest := make([]byte, hostLen+2)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}
		if target != nil {
			port := int(rest[hostLen])<<8 | int(rest[hostLen+1])
			target <- net.JoinHostPort(string(rest[:hostLen]), strconv.Itoa(port))
		}

		conn.Write([]byte{0x05, reply, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		time.Sleep(200 * time.Millisecond)
	}()
}

func TestSocksHandshake(t *testing.T) {
	ln, port := testListener(t)
	target := make(chan string, 1)
	fakeSocksServer(t, ln, false, 0x00, target)

	loop := event.NewLoop()
	defer loop.Close()
	d := NewEventDispatcher(loop)

	observer := &recordingSocketHandler{}

	s := NewSocket(d, nil)
	defer s.Close()

	b := NewSocksBackend(s, observer, "files.example.com", 21, "", "")
	s.SetEventHandler(b)

	require.NoError(t, s.Connect("127.0.0.1", port, FamilyIPv4))

	waitFor(t, 5*time.Second, func() bool {
		for _, ev := range observer.snapshot() {
			if ev.Type == EventConnection && ev.Source == EventSource(b) {
				return true
			}
		}
		return false
	})

	var tunnelEvent *Event
	for i := range observer.snapshot() {
		ev := observer.snapshot()[i]
		if ev.Type == EventConnection && ev.Source == EventSource(b) {
			tunnelEvent = &ev
			break
		}
	}
	require.NotNil(t, tunnelEvent)
	require.Equal(t, Error(0), tunnelEvent.Err)

	require.Equal(t, "files.example.com:21", <-target)

	b.Detach()
	require.True(t, b.Detached())
}

func TestSocksHandshakeWithAuth(t *testing.T) {
	ln, port := testListener(t)
	fakeSocksServer(t, ln, true, 0x00, nil)

	loop := event.NewLoop()
	defer loop.Close()
	d := NewEventDispatcher(loop)

	observer := &recordingSocketHandler{}

	s := NewSocket(d, nil)
	defer s.Close()

	b := NewSocksBackend(s, observer, "files.example.com", 21, "user", "secret")
	s.SetEventHandler(b)

	require.NoError(t, s.Connect("127.0.0.1", port, FamilyIPv4))

	waitFor(t, 5*time.Second, func() bool {
		for _, ev := range observer.snapshot() {
			if ev.Type == EventConnection && ev.Source == EventSource(b) && ev.Err == 0 {
				return true
			}
		}
		return false
	})
}

func TestSocksConnectionRefusedByProxy(t *testing.T) {
	ln, port := testListener(t)
	fakeSocksServer(t, ln, false, 0x05, nil)

	loop := event.NewLoop()
	defer loop.Close()
	d := NewEventDispatcher(loop)

	observer := &recordingSocketHandler{}

	s := NewSocket(d, nil)
	defer s.Close()

	b := NewSocksBackend(s, observer, "files.example.com", 21, "", "")
	s.SetEventHandler(b)

	require.NoError(t, s.Connect("127.0.0.1", port, FamilyIPv4))

	waitFor(t, 5*time.Second, func() bool {
		for _, ev := range observer.snapshot() {
			if ev.Type == EventConnection && ev.Source == EventSource(b) {
				return true
			}
		}
		return false
	})

	for _, ev := range observer.snapshot() {
		if ev.Type == EventConnection && ev.Source == EventSource(b) {
			require.Equal(t, ECONNREFUSED, ev.Err)
		}
	}
}
