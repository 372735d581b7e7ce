package control

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GSam/filezilla/event"
)

var nextControlSocketID atomic.Uint64

// ProtocolDriver is the re-entry surface of a protocol dialect sitting on
// the control-socket base. The base calls back into it to advance or
// terminate the current operation; the default implementations on
// ControlSocket report an internal error.
type ProtocolDriver interface {
	// SendNextCommand resumes the current operation after a park.
	SendNextCommand() ReplyCode

	// ParseSubcommandResult lets a parent operation advance after a pushed
	// sub-operation completed with code.
	ParseSubcommandResult(code ReplyCode) ReplyCode

	// DoClose terminates the connection, funnelling through
	// ResetOperation.
	DoClose(code ReplyCode) ReplyCode
}

// ControlSocket owns one connection's command state machine: the operation
// stack, transfer status, async user requests, the timeout watchdog and
// the tracked remote working directory. Protocol dialects embed it (via
// RealControlSocket for TCP-based protocols) and install themselves as the
// ProtocolDriver.
//
// All methods run on the controller goroutine, except where noted on the
// transfer status.
type ControlSocket struct {
	id     uint64
	engine EngineHost
	loop   *event.Loop
	driver ProtocolDriver

	curOp *Operation

	currentServer *Server

	currentPath ServerPath

	// Set instead of clearing currentPath mid-operation; committed at
	// ResetOperation.
	invalidatePath bool

	codec  *textCodec
	closed bool

	status transferStatusTracker

	timerID       int
	stopwatch     time.Time
	watchInterval time.Duration
}

// NewControlSocket creates a bare control socket, driven by driver. Pass
// nil to use the base's own defaults (useful for derived types that call
// SetDriver afterwards).
func NewControlSocket(engine EngineHost, driver ProtocolDriver) *ControlSocket {
	cs := &ControlSocket{}
	cs.init(engine, driver)
	return cs
}

func (cs *ControlSocket) init(engine EngineHost, driver ProtocolDriver) {
	cs.id = nextControlSocketID.Add(1)
	cs.engine = engine
	cs.loop = engine.EventLoop()
	cs.timerID = -1
	cs.watchInterval = time.Second
	if driver == nil {
		driver = cs
	}
	cs.driver = driver
}

// ID returns the process-unique control socket id. The lock manager keys
// its entries on it.
func (cs *ControlSocket) ID() uint64 {
	return cs.id
}

// SetDriver installs the protocol dialect on top of the base.
func (cs *ControlSocket) SetDriver(driver ProtocolDriver) {
	cs.driver = driver
}

// Destroy tears the control socket down: pending events are purged and any
// lock entry removed.
func (cs *ControlSocket) Destroy() {
	cs.driver.DoClose(ReplyDisconnected)
	cs.loop.RemoveHandler(cs)
	cs.engine.LockManager().Detach(cs)
}

// HandleEvent receives watchdog ticks and obtain-lock wakeups on the
// controller loop.
func (cs *ControlSocket) HandleEvent(ev event.Event) {
	switch e := ev.(type) {
	case event.TimerEvent:
		if e.ID == cs.timerID {
			cs.onTimer()
		}
	case obtainLockEvent:
		cs.onObtainLock()
	}
}

// LogMessage posts a user-visible message to the embedder.
func (cs *ControlSocket) LogMessage(level LogLevel, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	cs.engine.AddNotification(&LogNotification{Level: level, Message: msg})

	logrus.WithFields(logrus.Fields{
		"component": "control",
		"socket":    cs.id,
	}).Debug(msg)
}

// CurrentCommand returns the command of the operation on top of the
// stack.
func (cs *ControlSocket) CurrentCommand() Command {
	if cs.curOp != nil {
		return cs.curOp.Cmd
	}
	return CommandNone
}

// CurrentOperation returns the top operation record, nil when idle.
func (cs *ControlSocket) CurrentOperation() *Operation {
	return cs.curOp
}

// CurrentServer returns the server the socket is connected to, nil when
// disconnected.
func (cs *ControlSocket) CurrentServer() *Server {
	return cs.currentServer
}

// SetCurrentServer installs the server descriptor and the matching text
// codec. Clears the closed state so the socket can be reused for a new
// connection.
func (cs *ControlSocket) SetCurrentServer(server *Server) {
	cs.currentServer = server
	cs.closed = false
	if server != nil {
		cs.codec = newTextCodec(server, func() {
			cs.LogMessage(LogStatus, "Invalid character sequence received, disabling UTF-8. Select UTF-8 option in site manager to force UTF-8.")
		})
	}
}

// CurrentPath returns the tracked remote working directory.
func (cs *ControlSocket) CurrentPath() ServerPath {
	return cs.currentPath
}

// SetCurrentPath records the remote working directory.
func (cs *ControlSocket) SetCurrentPath(path ServerPath) {
	cs.currentPath = path
}

// PushOperation places op on top of the current record; the pushed-down
// record resumes through ParseSubcommandResult when op completes.
func (cs *ControlSocket) PushOperation(op *Operation) {
	op.Next = cs.curOp
	cs.curOp = op
}

// Default driver implementations; a protocol dialect overrides them.

// SendNextCommand reports an internal error; dialects override it.
func (cs *ControlSocket) SendNextCommand() ReplyCode {
	cs.ResetOperation(ReplyInternalError)
	return ReplyError
}

// ParseSubcommandResult reports an internal error; dialects override it.
func (cs *ControlSocket) ParseSubcommandResult(ReplyCode) ReplyCode {
	cs.ResetOperation(ReplyInternalError)
	return ReplyError
}

// DoClose terminates the connection state, resetting the operation chain
// with the disconnect code.
func (cs *ControlSocket) DoClose(code ReplyCode) ReplyCode {
	if cs.closed {
		return code
	}
	cs.closed = true

	code = cs.ResetOperation(ReplyError | ReplyDisconnected | code)

	cs.engine.LockManager().Detach(cs)
	cs.currentServer = nil
	return code
}

// Disconnect closes the connection on user request.
func (cs *ControlSocket) Disconnect() ReplyCode {
	cs.LogMessage(LogStatus, "Disconnected from server")
	cs.driver.DoClose(ReplyDisconnected)
	return ReplyOK
}

// Cancel aborts the active operation. A connect in progress is torn down
// through DoClose; anything else resets in place and the connection
// remains.
func (cs *ControlSocket) Cancel() {
	if cs.CurrentCommand() == CommandNone {
		return
	}
	if cs.CurrentCommand() == CommandConnect {
		cs.driver.DoClose(ReplyCanceled)
	} else {
		cs.ResetOperation(ReplyCanceled)
	}
}

// ResetOperation is the single convergence point of every operation
// outcome. It releases a held cache lock, pops pushed-down records, logs
// the per-command user message, clears the transfer status, commits a
// deferred working-directory invalidation and tells the engine to dequeue
// the next command.
func (cs *ControlSocket) ResetOperation(code ReplyCode) ReplyCode {
	logrus.WithFields(logrus.Fields{
		"component": "control",
		"socket":    cs.id,
		"code":      code.String(),
	}).Debug("ResetOperation")

	if code&ReplyWouldBlock != 0 {
		logrus.WithFields(logrus.Fields{
			"component": "control",
			"socket":    cs.id,
			"code":      int(code),
		}).Warn("ResetOperation with wouldblock bit set")
		code &^= ReplyWouldBlock
	}

	if cs.curOp != nil && cs.curOp.HoldsLock {
		cs.UnlockCache()
	}

	if cs.curOp != nil && cs.curOp.Next != nil {
		next := cs.curOp.Next
		cs.curOp.Next = nil
		cs.curOp = next
		if code == ReplyOK || code == ReplyError || code == ReplyCriticalError {
			return cs.driver.ParseSubcommandResult(code)
		}
		return cs.ResetOperation(code)
	}

	prefix := ""
	if code.Has(ReplyCriticalError) && (cs.curOp == nil || cs.curOp.Cmd != CommandTransfer) {
		prefix = "Critical error: "
	}

	if cs.curOp != nil {
		switch cs.curOp.Cmd {
		case CommandNone:
			if prefix != "" {
				cs.LogMessage(LogError, "Critical error")
			}
		case CommandConnect:
			if code.Has(ReplyCanceled) {
				cs.LogMessage(LogError, "%sConnection attempt interrupted by user", prefix)
			} else if code != ReplyOK {
				cs.LogMessage(LogError, "%sCould not connect to server", prefix)
			}
		case CommandList:
			if code.Has(ReplyCanceled) {
				cs.LogMessage(LogError, "%sDirectory listing aborted by user", prefix)
			} else if code != ReplyOK {
				cs.LogMessage(LogError, "%sFailed to retrieve directory listing", prefix)
			} else {
				cs.LogMessage(LogStatus, "Directory listing successful")
			}
		case CommandTransfer:
			if data, ok := cs.curOp.Data.(*TransferOp); ok {
				if !data.Download && data.TransferInitiated {
					if cs.currentServer == nil {
						logrus.WithFields(logrus.Fields{
							"component": "control",
							"socket":    cs.id,
						}).Warn("Transfer completed without current server")
					} else {
						size := int64(-1)
						if code == ReplyOK {
							size = data.LocalFileSize
						}
						if cs.engine.DirectoryCache().UpdateFile(*cs.currentServer, data.RemotePath, data.RemoteFile, true, size) {
							cs.engine.AddNotification(&DirectoryListingNotification{Path: data.RemotePath, Modified: true})
						}
					}
				}
				cs.logTransferResult(code, data)
			}
		default:
			if code.Has(ReplyCanceled) {
				cs.LogMessage(LogError, "%sInterrupted by user", prefix)
			}
		}

		cs.curOp = nil
	}

	cs.ResetTransferStatus()

	cs.SetWait(false)

	if cs.invalidatePath {
		cs.currentPath.Clear()
		cs.invalidatePath = false
	}

	cs.engine.OperationFinished(code)
	return code
}

func (cs *ControlSocket) logTransferResult(code ReplyCode, data *TransferOp) {
	status, ok := cs.status.Snapshot()
	if ok && (code == ReplyOK || status.MadeProgress) {
		elapsed := int(time.Since(status.Started).Seconds())
		if elapsed <= 0 {
			elapsed = 1
		}
		transferred := formatSize(status.CurrentOffset - status.StartOffset)
		duration := formatSeconds(elapsed)

		switch {
		case code == ReplyOK:
			cs.LogMessage(LogStatus, "File transfer successful, transferred %s in %s", transferred, duration)
		case code.Has(ReplyCanceled):
			cs.LogMessage(LogError, "File transfer aborted by user after transferring %s in %s", transferred, duration)
		case code.Has(ReplyCriticalError):
			cs.LogMessage(LogError, "Critical file transfer error after transferring %s in %s", transferred, duration)
		default:
			cs.LogMessage(LogError, "File transfer failed after transferring %s in %s", transferred, duration)
		}
		return
	}

	switch {
	case code.Has(ReplyCanceled):
		cs.LogMessage(LogError, "File transfer aborted by user")
	case code == ReplyOK && data.TransferInitiated:
		cs.LogMessage(LogStatus, "File transfer successful")
	case code == ReplyOK:
		cs.LogMessage(LogStatus, "File transfer skipped")
	case code.Has(ReplyCriticalError):
		cs.LogMessage(LogError, "Critical file transfer error")
	default:
		cs.LogMessage(LogError, "File transfer failed")
	}
}

func formatSize(bytes int64) string {
	if bytes == 1 {
		return "1 byte"
	}
	return fmt.Sprintf("%d bytes", bytes)
}

func formatSeconds(seconds int) string {
	if seconds == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", seconds)
}

// Transfer status surface. Init/Update run from the transfer path; Sample
// may be called concurrently by the UI reader.

// InitTransferStatus creates the status for a transfer about to start.
func (cs *ControlSocket) InitTransferStatus(totalSize, startOffset int64, listing bool) {
	cs.status.Init(totalSize, startOffset, listing)
}

// SetTransferStatusStartTime stamps the transfer start.
func (cs *ControlSocket) SetTransferStatusStartTime() {
	cs.status.SetStartTime()
}

// SetTransferStatusMadeProgress marks payload movement.
func (cs *ControlSocket) SetTransferStatusMadeProgress() {
	cs.status.SetMadeProgress()
}

// UpdateTransferStatus advances the offset, notifying the embedder unless
// a notification is already outstanding.
func (cs *ControlSocket) UpdateTransferStatus(transferredBytes int64) {
	if snapshot := cs.status.Update(transferredBytes); snapshot != nil {
		cs.engine.AddNotification(&TransferStatusNotification{Status: snapshot})
	}
}

// GetTransferStatus samples the status for the UI reader.
func (cs *ControlSocket) GetTransferStatus() (TransferStatus, bool, bool) {
	return cs.status.Sample()
}

// ResetTransferStatus clears the status and notifies the embedder.
func (cs *ControlSocket) ResetTransferStatus() {
	cs.status.Reset()
	cs.engine.AddNotification(&TransferStatusNotification{})
}

// Timeout watchdog.

// SetWait starts or stops the watchdog. Starting restarts the stopwatch.
func (cs *ControlSocket) SetWait(wait bool) {
	if wait {
		if cs.timerID != -1 {
			return
		}
		cs.stopwatch = time.Now()
		cs.timerID = cs.loop.AddTimer(cs, cs.watchInterval, false)
		return
	}
	if cs.timerID != -1 {
		cs.loop.StopTimer(cs.timerID)
		cs.timerID = -1
	}
}

// SetAlive restarts the stopwatch; called whenever a byte moves.
func (cs *ControlSocket) SetAlive() {
	cs.stopwatch = time.Now()
}

// SetActive reports traffic to the engine and keeps the watchdog happy.
func (cs *ControlSocket) SetActive(direction Direction) {
	cs.SetAlive()
	cs.engine.SetActive(direction)
}

func (cs *ControlSocket) onTimer() {
	timeout := cs.engine.Options().TimeoutSeconds
	if timeout == 0 {
		return
	}

	if cs.curOp != nil && cs.curOp.WaitingForAsyncRequest {
		return
	}
	if cs.engine.LockManager().IsWaiting(cs) {
		return
	}

	if time.Since(cs.stopwatch) > time.Duration(timeout)*time.Second {
		cs.LogMessage(LogError, "Connection timed out")
		cs.driver.DoClose(ReplyTimeout)
	}
}

// Cache locking.

// TryLockCache requests the advisory lock for the current operation.
// When false is returned the operation must park until the obtain-lock
// event resumes it.
func (cs *ControlSocket) TryLockCache(reason LockReason, directory ServerPath) bool {
	return cs.engine.LockManager().TryLock(cs, reason, directory)
}

// UnlockCache drops the current operation's hold, if any.
func (cs *ControlSocket) UnlockCache() {
	if cs.curOp == nil || !cs.curOp.HoldsLock {
		return
	}
	cs.curOp.HoldsLock = false
	cs.engine.LockManager().Unlock(cs)
}

// IsWaitingForLock reports whether the socket is queued for a lock.
func (cs *ControlSocket) IsWaitingForLock() bool {
	return cs.engine.LockManager().IsWaiting(cs)
}

func (cs *ControlSocket) onObtainLock() {
	if cs.engine.LockManager().obtainFromEvent(cs) == LockReasonUnknown {
		return
	}
	cs.driver.SendNextCommand()
	cs.UnlockCache()
}

// Async user requests.

// SendAsyncRequest numbers the request, parks the current operation and
// posts the prompt to the embedder.
func (cs *ControlSocket) SendAsyncRequest(n AsyncRequestNotification) {
	n.setRequestNumber(cs.engine.NextAsyncRequestNumber())
	if cs.curOp != nil {
		cs.curOp.WaitingForAsyncRequest = true
	}
	cs.engine.AddNotification(n)
}

// CheckOverwriteFile decides whether the current transfer needs a
// file-exists prompt. Returns ReplyOK to proceed immediately or
// ReplyWouldBlock after dispatching the prompt. Remote metadata is
// backfilled from the directory cache when available and case-matched.
func (cs *ControlSocket) CheckOverwriteFile() ReplyCode {
	data, ok := cs.transferOp()
	if !ok {
		cs.ResetOperation(ReplyInternalError)
		return ReplyError
	}

	if data.Download {
		if _, err := os.Stat(data.LocalFile); err != nil {
			return ReplyOK
		}
	}

	remotePath := cs.currentPath
	if data.TryAbsolutePath || remotePath.Empty() {
		remotePath = data.RemotePath
	}

	var entry Direntry
	found := false
	matchedCase := false
	if cs.currentServer != nil {
		entry, _, matchedCase, found = cs.engine.DirectoryCache().LookupFile(*cs.currentServer, remotePath, data.RemoteFile)
	}

	// Ignore entries with wrong case.
	if found && !matchedCase {
		found = false
	}

	if !data.Download {
		if !found && data.RemoteFileSize == -1 && data.FileTime.IsZero() {
			return ReplyOK
		}
	}

	n := &FileExistsNotification{
		Download:   data.Download,
		LocalFile:  data.LocalFile,
		RemoteFile: data.RemoteFile,
		RemotePath: data.RemotePath,
		LocalSize:  data.LocalFileSize,
		RemoteSize: data.RemoteFileSize,
		ASCII:      !data.Binary,
	}

	if data.Download && n.LocalSize != -1 {
		n.CanResume = true
	} else if !data.Download && n.RemoteSize != -1 {
		n.CanResume = true
	}

	if fi, err := os.Stat(data.LocalFile); err == nil {
		n.LocalTime = fi.ModTime()
	}

	if !data.FileTime.IsZero() {
		n.RemoteTime = data.FileTime
	}
	if found && data.FileTime.IsZero() && !entry.Time.IsZero() {
		n.RemoteTime = entry.Time
		data.FileTime = entry.Time
	}

	cs.SendAsyncRequest(n)
	return ReplyWouldBlock
}

func (cs *ControlSocket) transferOp() (*TransferOp, bool) {
	if cs.curOp == nil || cs.curOp.Cmd != CommandTransfer {
		return nil, false
	}
	data, ok := cs.curOp.Data.(*TransferOp)
	return data, ok
}

func (cs *ControlSocket) logSkip(data *TransferOp) {
	if data.Download {
		cs.LogMessage(LogStatus, "Skipping download of %s", data.RemotePath.FormatFilename(data.RemoteFile))
	} else {
		cs.LogMessage(LogStatus, "Skipping upload of %s", data.LocalFile)
	}
}

// SetFileExistsAction resolves a file-exists prompt. Each action is
// interpreted in terms of the transfer direction: the "source" of a
// download is the remote file.
func (cs *ControlSocket) SetFileExistsAction(n *FileExistsNotification) bool {
	if n == nil {
		return false
	}
	data, ok := cs.transferOp()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"component": "control",
			"socket":    cs.id,
			"request":   n.RequestNumber(),
		}).Debug("No or invalid operation in progress, ignoring request reply")
		return false
	}
	cs.curOp.WaitingForAsyncRequest = false

	switch n.Action {
	case ActionOverwrite:
		cs.driver.SendNextCommand()

	case ActionOverwriteNewer:
		if n.LocalTime.IsZero() || n.RemoteTime.IsZero() {
			cs.driver.SendNextCommand()
		} else if n.Download && n.LocalTime.Before(n.RemoteTime) {
			cs.driver.SendNextCommand()
		} else if !n.Download && n.LocalTime.After(n.RemoteTime) {
			cs.driver.SendNextCommand()
		} else {
			cs.logSkip(data)
			cs.ResetOperation(ReplyOK)
		}

	case ActionOverwriteSize:
		// Different sizes, or one unknown, mean overwrite; both unknown
		// also overwrites since nothing can be compared.
		if n.LocalSize != n.RemoteSize || n.LocalSize == -1 {
			cs.driver.SendNextCommand()
		} else {
			cs.logSkip(data)
			cs.ResetOperation(ReplyOK)
		}

	case ActionOverwriteSizeOrNewer:
		if n.LocalTime.IsZero() || n.RemoteTime.IsZero() {
			cs.driver.SendNextCommand()
		} else if n.LocalSize != n.RemoteSize || n.LocalSize == -1 {
			cs.driver.SendNextCommand()
		} else if n.Download && n.LocalTime.Before(n.RemoteTime) {
			cs.driver.SendNextCommand()
		} else if !n.Download && n.LocalTime.After(n.RemoteTime) {
			cs.driver.SendNextCommand()
		} else {
			cs.logSkip(data)
			cs.ResetOperation(ReplyOK)
		}

	case ActionResume:
		if data.Download && data.LocalFileSize != -1 {
			data.Resume = true
		} else if !data.Download && data.RemoteFileSize != -1 {
			data.Resume = true
		}
		cs.driver.SendNextCommand()

	case ActionRename:
		if data.Download {
			data.LocalFile = filepath.Join(filepath.Dir(data.LocalFile), n.NewName)

			if fi, err := os.Stat(data.LocalFile); err == nil && !fi.IsDir() {
				data.LocalFileSize = fi.Size()
			} else {
				data.LocalFileSize = -1
			}

			if cs.CheckOverwriteFile() == ReplyOK {
				cs.driver.SendNextCommand()
			}
		} else {
			data.RemoteFile = n.NewName

			lookupPath := cs.currentPath
			if data.TryAbsolutePath || lookupPath.Empty() {
				lookupPath = data.RemotePath
			}
			var entry Direntry
			var found, matchedCase bool
			if cs.currentServer != nil {
				entry, _, matchedCase, found = cs.engine.DirectoryCache().LookupFile(*cs.currentServer, lookupPath, data.RemoteFile)
			}
			if found && matchedCase {
				data.RemoteFileSize = entry.Size
				if !entry.Time.IsZero() {
					data.FileTime = entry.Time
				}
				if cs.CheckOverwriteFile() != ReplyOK {
					break
				}
			} else {
				data.FileTime = time.Time{}
				data.RemoteFileSize = -1
			}
			cs.driver.SendNextCommand()
		}

	case ActionSkip:
		cs.logSkip(data)
		cs.ResetOperation(ReplyOK)

	default:
		logrus.WithFields(logrus.Fields{
			"component": "control",
			"socket":    cs.id,
			"action":    int(n.Action),
		}).Warn("Unknown file exists action")
		cs.ResetOperation(ReplyInternalError)
		return false
	}

	return true
}

// ParsePwdReply extracts a server-reported working directory from reply.
// The substring between the first and last double quote wins, with ""
// unescaping to a literal quote; single quotes and the first
// whitespace-delimited token are degraded-server fallbacks. When parsing
// fails and defaultPath is non-empty, the default is assumed and the call
// still succeeds.
func (cs *ControlSocket) ParsePwdReply(reply string, unquoted bool, defaultPath ServerPath) bool {
	if !unquoted {
		pos1 := strings.Index(reply, `"`)
		pos2 := strings.LastIndex(reply, `"`)
		if pos1 == -1 || pos1 >= pos2 {
			pos1 = strings.Index(reply, "'")
			pos2 = strings.LastIndex(reply, "'")
			if pos1 != -1 && pos1 < pos2 {
				logrus.WithFields(logrus.Fields{
					"component": "control",
					"socket":    cs.id,
				}).Debug("Broken server sending single-quoted path instead of double-quoted path")
			}
		}
		if pos1 == -1 || pos1 >= pos2 {
			logrus.WithFields(logrus.Fields{
				"component": "control",
				"socket":    cs.id,
			}).Debug("Broken server, no quoted path found in pwd reply, trying first token as path")
			if sp := strings.Index(reply, " "); sp != -1 {
				reply = reply[sp+1:]
				if sp2 := strings.Index(reply, " "); sp2 != -1 {
					reply = reply[:sp2]
				}
			} else {
				reply = ""
			}
		} else {
			reply = reply[pos1+1 : pos2]
			reply = strings.ReplaceAll(reply, `""`, `"`)
		}
	}

	serverType := ServerTypeUnix
	if cs.currentServer != nil {
		serverType = cs.currentServer.Type
	}

	path, ok := NewServerPath(serverType, reply)
	if reply == "" || !ok {
		if reply == "" {
			cs.LogMessage(LogError, "Server returned empty path.")
		} else {
			cs.LogMessage(LogError, "Failed to parse returned path.")
		}

		if !defaultPath.Empty() {
			logrus.WithFields(logrus.Fields{
				"component": "control",
				"socket":    cs.id,
				"path":      defaultPath.String(),
			}).Debug("Assuming default path")
			cs.currentPath = defaultPath
			return true
		}
		return false
	}

	cs.currentPath = path
	return true
}

// InvalidateCurrentWorkingDir flags the tracked directory stale when path
// covers it. Mid-operation the clear is deferred to ResetOperation to
// avoid racing the in-flight command.
func (cs *ControlSocket) InvalidateCurrentWorkingDir(path ServerPath) {
	if cs.currentPath.Empty() {
		return
	}
	if cs.currentPath.Equal(path) || path.IsParentOf(cs.currentPath) {
		if cs.curOp != nil {
			cs.invalidatePath = true
		} else {
			cs.currentPath.Clear()
		}
	}
}

// CreateLocalDir creates the directory chain for a download target and
// notifies the embedder about the deepest directory that had to be
// created.
func (cs *ControlSocket) CreateLocalDir(localFile string) {
	dir := filepath.Dir(localFile)
	if dir == "" || dir == "." {
		return
	}
	if _, err := os.Stat(dir); err == nil {
		return
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "control",
			"socket":    cs.id,
			"dir":       dir,
			"error":     err.Error(),
		}).Warn("Could not create local directory")
		return
	}
	cs.engine.AddNotification(&LocalDirCreatedNotification{Dir: dir})
}

// Text conversion.

// ConvToLocal decodes server bytes using the negotiated encoding.
func (cs *ControlSocket) ConvToLocal(buf []byte) string {
	if cs.codec == nil {
		return string(buf)
	}
	return cs.codec.Decode(buf)
}

// ConvToServer encodes a string for the server, UTF-8 unless disabled.
func (cs *ControlSocket) ConvToServer(s string, forceUTF8 bool) []byte {
	if cs.codec == nil {
		return []byte(s)
	}
	return cs.codec.Encode(s, forceUTF8)
}

// Command entry points; dialects override what they support.

// List reports the command as unsupported.
func (cs *ControlSocket) List(ListOp) ReplyCode { return ReplyNotSupported }

// FileTransfer reports the command as unsupported.
func (cs *ControlSocket) FileTransfer(TransferOp) ReplyCode { return ReplyNotSupported }

// RawCommand reports the command as unsupported.
func (cs *ControlSocket) RawCommand(RawOp) ReplyCode { return ReplyNotSupported }

// Delete reports the command as unsupported.
func (cs *ControlSocket) Delete(DeleteOp) ReplyCode { return ReplyNotSupported }

// RemoveDir reports the command as unsupported.
func (cs *ControlSocket) RemoveDir(RemoveDirOp) ReplyCode { return ReplyNotSupported }

// Mkdir reports the command as unsupported.
func (cs *ControlSocket) Mkdir(MkdirOp) ReplyCode { return ReplyNotSupported }

// Rename reports the command as unsupported.
func (cs *ControlSocket) Rename(RenameOp) ReplyCode { return ReplyNotSupported }

// Chmod reports the command as unsupported.
func (cs *ControlSocket) Chmod(ChmodOp) ReplyCode { return ReplyNotSupported }
