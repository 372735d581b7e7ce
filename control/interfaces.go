package control

import (
	"time"

	"github.com/GSam/filezilla/event"
	"github.com/GSam/filezilla/socket"
)

// Direction distinguishes activity on the two halves of a connection.
type Direction int

const (
	DirectionRecv Direction = iota
	DirectionSend
)

// Direntry is a cached directory-listing entry. A Size of -1 and a zero
// Time mean unknown.
type Direntry struct {
	Name string
	Size int64
	Time time.Time
	Dir  bool
}

// DirectoryCache is the listing cache the engine shares between its
// connections. Lookups report whether the directory was cached at all and
// whether the name matched with exact case.
type DirectoryCache interface {
	LookupFile(server Server, path ServerPath, file string) (entry Direntry, dirDidExist bool, matchedCase bool, found bool)

	// UpdateFile records a file's new size after an upload. size -1 marks
	// the entry unknown. Returns whether a cached listing changed.
	UpdateFile(server Server, path ServerPath, file string, exists bool, size int64) bool
}

// EngineHost is the embedder-side surface a control socket talks to: it
// transports notifications to the UI, numbers async requests, dequeues the
// next command when an operation finishes, and owns the shared
// infrastructure.
type EngineHost interface {
	AddNotification(n Notification)
	NextAsyncRequestNumber() uint64

	// OperationFinished is called at the end of ResetOperation so the
	// engine can dequeue the next pending command.
	OperationFinished(code ReplyCode)

	// SetActive reports bytes moving in a direction, for activity
	// indicators.
	SetActive(direction Direction)

	Options() *Options
	DirectoryCache() DirectoryCache
	EventLoop() *event.Loop
	SocketDispatcher() *socket.EventDispatcher
	LockManager() *LockManager
}
