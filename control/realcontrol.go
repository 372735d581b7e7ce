package control

import (
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
	"golang.org/x/time/rate"

	"github.com/GSam/filezilla/socket"
)

// wireHandler is the overridable surface a TCP-based protocol dialect uses
// to react to connection-level events. RealControlSocket provides defaults
// for the plumbing (send-buffer drain, close handling).
type wireHandler interface {
	OnConnect()
	OnReceive()
	OnSend()
	OnClose(err socket.Error)
}

// RealControlSocket binds a non-blocking socket and its byte-stream
// backend to the control-socket base: it buffers partial sends, sequences
// the connect including the proxy handshake and backend swap, and maps
// internationalized host names before resolution.
type RealControlSocket struct {
	ControlSocket

	sock    *socket.Socket
	backend socket.Backend

	proxyBackend *socket.SocksBackend

	sendBuffer []byte

	sink wireHandler
}

// NewRealControlSocket creates the socket-backed control socket. driver
// may be nil; the dialect installs itself later via SetDriver, and its
// connection-event hooks via SetWireHandler.
func NewRealControlSocket(engine EngineHost, driver ProtocolDriver) *RealControlSocket {
	rc := &RealControlSocket{}
	rc.ControlSocket.init(engine, driver)
	if driver == nil {
		rc.ControlSocket.driver = rc
	}
	rc.sink = rc
	rc.sock = socket.NewSocket(engine.SocketDispatcher(), rc)
	rc.backend = rc.newDirectBackend()
	return rc
}

// SetWireHandler installs the dialect's connection-event hooks.
func (rc *RealControlSocket) SetWireHandler(sink wireHandler) {
	rc.sink = sink
}

// Socket exposes the underlying socket to the dialect (e.g. for flags and
// buffer sizes).
func (rc *RealControlSocket) Socket() *socket.Socket {
	return rc.sock
}

// Backend returns the current byte-stream backend.
func (rc *RealControlSocket) Backend() socket.Backend {
	return rc.backend
}

func (rc *RealControlSocket) newDirectBackend() *socket.DirectBackend {
	opts := rc.engine.Options()
	var readLimiter, writeLimiter *rate.Limiter
	if opts.DownloadLimit > 0 {
		readLimiter = rate.NewLimiter(rate.Limit(opts.DownloadLimit), opts.DownloadLimit)
	}
	if opts.UploadLimit > 0 {
		writeLimiter = rate.NewLimiter(rate.Limit(opts.UploadLimit), opts.UploadLimit)
	}
	return socket.NewDirectBackend(rc.sock, rc, readLimiter, writeLimiter)
}

// ConvertDomainName maps an internationalized host name to its ASCII form
// for resolution. On failure the original string is used and a warning
// logged.
func ConvertDomainName(domain string) string {
	ascii, err := idna.ToASCII(domain)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "control",
			"domain":    domain,
			"error":     err.Error(),
		}).Warn("Could not convert domain name")
		return domain
	}
	return ascii
}

// Connect stores the server and starts the connection sequence, selecting
// a direct or proxied route.
func (rc *RealControlSocket) Connect(server *Server) ReplyCode {
	rc.SetWait(true)

	if server.Encoding == EncodingCustom {
		logrus.WithFields(logrus.Fields{
			"component": "control",
			"socket":    rc.id,
			"encoding":  server.CustomEncoding,
		}).Debug("Using custom encoding")
	}

	srv := *server
	srv.Host = ConvertDomainName(server.Host)
	rc.SetCurrentServer(&srv)

	return rc.ContinueConnect()
}

// ContinueConnect performs the actual socket connect, through the proxy
// when one is configured and not bypassed.
func (rc *RealControlSocket) ContinueConnect() ReplyCode {
	opts := rc.engine.Options()
	server := rc.currentServer
	if server == nil {
		rc.driver.DoClose(ReplyInternalError)
		return ReplyError
	}

	var host string
	var port int

	if opts.ProxyType != ProxyNone && !server.BypassProxy {
		rc.LogMessage(LogStatus, "Connecting to %s through proxy", server.FormatHost())

		host = opts.ProxyHost
		port = opts.ProxyPort

		if rc.backend != nil {
			rc.backend.Detach()
		}
		rc.proxyBackend = socket.NewSocksBackend(rc.sock, rc, server.Host, server.Port, opts.ProxyUser, opts.ProxyPass)
		rc.backend = rc.proxyBackend
		rc.sock.SetEventHandler(rc.proxyBackend)
	} else {
		if rc.curOp != nil && rc.curOp.Cmd == CommandConnect {
			if data, ok := rc.curOp.Data.(*ConnectOp); ok && data.Host != "" {
				host = ConvertDomainName(data.Host)
				port = data.Port
			}
		}
		if host == "" {
			host = server.Host
			port = server.Port
		}
		// A previous proxied session may have left the proxy backend as
		// the socket's observer.
		rc.sock.SetEventHandler(rc)
	}

	if net.ParseIP(host) == nil {
		rc.LogMessage(LogStatus, "Resolving address of %s", host)
	}

	if rc.backend == nil {
		rc.backend = rc.newDirectBackend()
	}

	if err := rc.sock.Connect(host, port, socket.FamilyUnspec); err != nil {
		desc := err.Error()
		if serr, ok := err.(socket.Error); ok {
			desc = serr.Description()
		}
		rc.LogMessage(LogError, "Could not connect to server: %s", desc)
		rc.driver.DoClose(ReplyDisconnected)
		return ReplyError
	}

	return ReplyWouldBlock
}

// Send writes buf through the backend, keeping any residue in the pending
// send buffer drained by OnSend. Any error other than a would-block is
// fatal for the connection.
func (rc *RealControlSocket) Send(buf []byte) bool {
	rc.SetWait(true)

	if rc.sendBuffer != nil {
		rc.sendBuffer = append(rc.sendBuffer, buf...)
		return true
	}

	written, err := rc.backend.Write(buf)
	if err != nil {
		if serr, ok := err.(socket.Error); !ok || serr != socket.EAGAIN {
			rc.LogMessage(LogError, "Could not write to socket: %s", errorDescription(err))
			rc.LogMessage(LogError, "Disconnected from server")
			rc.driver.DoClose(ReplyDisconnected)
			return false
		}
		written = 0
	}

	if written > 0 {
		rc.SetActive(DirectionSend)
	}

	if written < len(buf) {
		rc.sendBuffer = append([]byte(nil), buf[written:]...)
	}

	return true
}

func errorDescription(err error) string {
	if serr, ok := err.(socket.Error); ok {
		return serr.Description()
	}
	return err.Error()
}

// OnSocketEvent routes socket readiness into the control machinery. Runs
// on the controller loop.
func (rc *RealControlSocket) OnSocketEvent(ev socket.Event) {
	if rc.backend == nil {
		return
	}

	switch ev.Type {
	case socket.EventHostAddress:
		rc.LogMessage(LogStatus, "Connecting to %s...", ev.Data)

	case socket.EventConnectionNext:
		if ev.Err != 0 {
			rc.LogMessage(LogStatus, "Connection attempt failed with \"%s\", trying next address.", ev.Err.Description())
		}

	case socket.EventConnection:
		if ev.Err != 0 {
			rc.LogMessage(LogStatus, "Connection attempt failed with \"%s\".", ev.Err.Description())
			rc.sink.OnClose(ev.Err)
			return
		}
		if rc.proxyBackend != nil && !rc.proxyBackend.Detached() {
			// The proxy handshake is done with the socket; replace it
			// with a fresh direct backend over the same descriptor.
			rc.proxyBackend.Detach()
			rc.backend = rc.newDirectBackend()
			rc.sock.SetEventHandler(rc)
		}
		rc.sink.OnConnect()

	case socket.EventRead:
		rc.sink.OnReceive()

	case socket.EventWrite:
		rc.sink.OnSend()

	case socket.EventClose:
		rc.sink.OnClose(ev.Err)

	default:
		logrus.WithFields(logrus.Fields{
			"component": "control",
			"socket":    rc.id,
			"type":      int(ev.Type),
		}).Warn("Unhandled socket event")
	}
}

// OnConnect is the default no-op hook; dialects override it via
// SetWireHandler.
func (rc *RealControlSocket) OnConnect() {}

// OnReceive is the default no-op hook.
func (rc *RealControlSocket) OnReceive() {}

// OnSend drains the pending send buffer on write-readiness.
func (rc *RealControlSocket) OnSend() {
	if rc.sendBuffer == nil {
		return
	}
	if len(rc.sendBuffer) == 0 {
		rc.sendBuffer = nil
		return
	}

	written, err := rc.backend.Write(rc.sendBuffer)
	if err != nil {
		if serr, ok := err.(socket.Error); !ok || serr != socket.EAGAIN {
			rc.LogMessage(LogError, "Could not write to socket: %s", errorDescription(err))
			if rc.CurrentCommand() != CommandConnect {
				rc.LogMessage(LogError, "Disconnected from server")
			}
			rc.driver.DoClose(ReplyDisconnected)
		}
		return
	}

	if written > 0 {
		rc.SetActive(DirectionSend)
	}

	if written == len(rc.sendBuffer) {
		rc.sendBuffer = nil
	} else {
		rc.sendBuffer = rc.sendBuffer[written:]
	}
}

// OnClose handles a connection loss. During the connect command the
// attempt handler already logged, so close quietly.
func (rc *RealControlSocket) OnClose(err socket.Error) {
	if rc.CurrentCommand() != CommandConnect {
		if err == 0 {
			rc.LogMessage(LogError, "Connection closed by server")
		} else {
			rc.LogMessage(LogError, "Disconnected from server: %s", err.Description())
		}
	}
	rc.driver.DoClose(ReplyDisconnected)
}

// DoClose shuts the socket down before running the base teardown.
func (rc *RealControlSocket) DoClose(code ReplyCode) ReplyCode {
	rc.ResetSocket()
	return rc.ControlSocket.DoClose(code)
}

// ResetSocket closes the descriptor and discards the backends and any
// buffered send data.
func (rc *RealControlSocket) ResetSocket() {
	rc.sock.Close()

	rc.sendBuffer = nil

	if rc.proxyBackend != nil {
		if socket.Backend(rc.proxyBackend) != rc.backend {
			rc.proxyBackend.Detach()
		}
		rc.proxyBackend = nil
	}
	if rc.backend != nil {
		rc.backend.Detach()
		rc.backend = nil
	}
}

// Destroy tears down the socket, its pending events and the base.
func (rc *RealControlSocket) Destroy() {
	rc.driver.DoClose(ReplyDisconnected)
	rc.sock.SetEventHandler(nil)
	rc.engine.SocketDispatcher().RemovePendingSource(rc.sock)
	rc.loop.RemoveHandler(&rc.ControlSocket)
	rc.engine.LockManager().Detach(&rc.ControlSocket)
}
