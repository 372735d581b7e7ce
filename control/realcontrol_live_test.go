//go:build unix

package control

import (
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GSam/filezilla/socket"
)

type recordingSink struct {
	rc *RealControlSocket

	mu       sync.Mutex
	connects int
	receives int
	closes   []socket.Error
}

func (s *recordingSink) OnConnect() {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
}

func (s *recordingSink) OnReceive() {
	s.mu.Lock()
	s.receives++
	s.mu.Unlock()
}

func (s *recordingSink) OnSend() {
	s.rc.OnSend()
}

func (s *recordingSink) OnClose(err socket.Error) {
	s.mu.Lock()
	s.closes = append(s.closes, err)
	s.mu.Unlock()
	s.rc.OnClose(err)
}

func (s *recordingSink) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func liveListener(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	_, portText, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return ln, port
}

func TestRealControlSocketConnects(t *testing.T) {
	ln, port := liveListener(t)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(300 * time.Millisecond)
		}
	}()

	e := newFakeEngine(t)
	rc := NewRealControlSocket(e, nil)
	sink := &recordingSink{rc: rc}
	rc.SetWireHandler(sink)

	code := rc.Connect(&Server{Host: "127.0.0.1", Port: port})
	require.Equal(t, ReplyWouldBlock, code)

	waitFor(t, 5*time.Second, func() bool { return sink.connectCount() == 1 })
	require.True(t, e.hasLog("Connecting to 127.0.0.1:"+strconv.Itoa(port)+"..."))

	rc.ResetSocket()
}

func TestRealControlSocketConnectThroughProxy(t *testing.T) {
	proxyLn, proxyPort := liveListener(t)
	target := make(chan string, 1)

	// Minimal SOCKS5 proxy accepting an anonymous CONNECT.
	go func() {
		conn, err := proxyLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 3)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}
		conn.Write([]byte{0x05, 0x00})

		head := make([]byte, 5)
		if _, err := io.ReadFull(conn, head); err != nil {
			return
		}
		rest := make([]byte, int(head[4])+2)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}
		target <- string(rest[:int(head[4])])

		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		time.Sleep(300 * time.Millisecond)
	}()

	e := newFakeEngine(t)
	e.opts.ProxyType = ProxySocks5
	e.opts.ProxyHost = "127.0.0.1"
	e.opts.ProxyPort = proxyPort

	rc := NewRealControlSocket(e, nil)
	sink := &recordingSink{rc: rc}
	rc.SetWireHandler(sink)

	code := rc.Connect(&Server{Host: "files.example.com", Port: 21})
	require.Equal(t, ReplyWouldBlock, code)

	waitFor(t, 5*time.Second, func() bool { return sink.connectCount() == 1 })

	require.Equal(t, "files.example.com", <-target)
	require.True(t, e.hasLog("Connecting to files.example.com:21 through proxy"))

	// After the handshake the proxy backend is replaced by a direct one
	// over the same descriptor.
	require.True(t, rc.proxyBackend.Detached())
	_, isDirect := rc.backend.(*socket.DirectBackend)
	require.True(t, isDirect, "backend after handshake: %T", rc.backend)

	rc.ResetSocket()
}
