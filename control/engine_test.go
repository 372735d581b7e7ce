package control

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GSam/filezilla/event"
	"github.com/GSam/filezilla/socket"
)

// fakeCache is an in-memory DirectoryCache keyed by formatted file paths.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]Direntry
	updates []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]Direntry)}
}

func (c *fakeCache) put(path ServerPath, entry Direntry) {
	c.mu.Lock()
	c.entries[path.FormatFilename(entry.Name)] = entry
	c.mu.Unlock()
}

func (c *fakeCache) LookupFile(server Server, path ServerPath, file string) (Direntry, bool, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := path.FormatFilename(file)
	if entry, ok := c.entries[key]; ok {
		return entry, true, true, true
	}
	// Case-insensitive probe so tests can exercise the wrong-case path.
	for k, entry := range c.entries {
		if strings.EqualFold(k, key) {
			return entry, true, false, true
		}
	}
	return Direntry{}, true, false, false
}

func (c *fakeCache) UpdateFile(server Server, path ServerPath, file string, exists bool, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, path.FormatFilename(file))
	return true
}

// fakeEngine implements EngineHost for tests, recording everything the
// control socket reports.
type fakeEngine struct {
	loop       *event.Loop
	dispatcher *socket.EventDispatcher
	locks      *LockManager
	opts       Options
	cache      *fakeCache

	mu            sync.Mutex
	notifications []Notification
	finished      []ReplyCode
	active        []Direction
	nextRequest   uint64
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	loop := event.NewLoop()
	t.Cleanup(func() { loop.Close() })

	e := &fakeEngine{
		loop:  loop,
		locks: NewLockManager(),
		cache: newFakeCache(),
	}
	e.dispatcher = socket.NewEventDispatcher(loop)
	return e
}

func (e *fakeEngine) AddNotification(n Notification) {
	e.mu.Lock()
	e.notifications = append(e.notifications, n)
	e.mu.Unlock()
}

func (e *fakeEngine) NextAsyncRequestNumber() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextRequest++
	return e.nextRequest
}

func (e *fakeEngine) OperationFinished(code ReplyCode) {
	e.mu.Lock()
	e.finished = append(e.finished, code)
	e.mu.Unlock()
}

func (e *fakeEngine) SetActive(direction Direction) {
	e.mu.Lock()
	e.active = append(e.active, direction)
	e.mu.Unlock()
}

func (e *fakeEngine) Options() *Options { return &e.opts }

func (e *fakeEngine) DirectoryCache() DirectoryCache { return e.cache }

func (e *fakeEngine) EventLoop() *event.Loop { return e.loop }

func (e *fakeEngine) SocketDispatcher() *socket.EventDispatcher { return e.dispatcher }

func (e *fakeEngine) LockManager() *LockManager { return e.locks }

func (e *fakeEngine) logMessages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, n := range e.notifications {
		if log, ok := n.(*LogNotification); ok {
			out = append(out, log.Message)
		}
	}
	return out
}

func (e *fakeEngine) hasLog(substr string) bool {
	for _, msg := range e.logMessages() {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func (e *fakeEngine) fileExistsRequests() []*FileExistsNotification {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*FileExistsNotification
	for _, n := range e.notifications {
		if req, ok := n.(*FileExistsNotification); ok {
			out = append(out, req)
		}
	}
	return out
}

func (e *fakeEngine) finishedCodes() []ReplyCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ReplyCode(nil), e.finished...)
}

// fakeDriver records the base's callbacks into the protocol layer.
type fakeDriver struct {
	cs *ControlSocket

	mu       sync.Mutex
	sendNext int
	parsed   []ReplyCode
	closed   []ReplyCode
}

func (d *fakeDriver) SendNextCommand() ReplyCode {
	d.mu.Lock()
	d.sendNext++
	d.mu.Unlock()
	return ReplyWouldBlock
}

func (d *fakeDriver) ParseSubcommandResult(code ReplyCode) ReplyCode {
	d.mu.Lock()
	d.parsed = append(d.parsed, code)
	d.mu.Unlock()
	return code
}

func (d *fakeDriver) DoClose(code ReplyCode) ReplyCode {
	d.mu.Lock()
	d.closed = append(d.closed, code)
	d.mu.Unlock()
	return d.cs.DoClose(code)
}

func (d *fakeDriver) sendNextCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendNext
}

func (d *fakeDriver) closedCodes() []ReplyCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ReplyCode(nil), d.closed...)
}

func newTestControlSocket(t *testing.T) (*ControlSocket, *fakeEngine, *fakeDriver) {
	t.Helper()
	e := newFakeEngine(t)
	d := &fakeDriver{}
	cs := NewControlSocket(e, d)
	d.cs = cs
	cs.SetCurrentServer(&Server{Host: "files.example.com", Port: 21})
	return cs, e, d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func mustPath(t *testing.T, raw string) ServerPath {
	t.Helper()
	p, ok := NewServerPath(ServerTypeUnix, raw)
	if !ok {
		t.Fatalf("invalid path %q", raw)
	}
	return p
}
