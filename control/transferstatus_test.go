package control

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransferStatusLifecycle(t *testing.T) {
	cs, e, _ := newTestControlSocket(t)

	cs.InitTransferStatus(1000, 200, false)
	cs.SetTransferStatusStartTime()

	status, _, ok := cs.GetTransferStatus()
	require.True(t, ok)
	require.Equal(t, int64(1000), status.TotalSize)
	require.Equal(t, int64(200), status.StartOffset)
	require.Equal(t, int64(200), status.CurrentOffset)

	cs.UpdateTransferStatus(300)
	status, changed, ok := cs.GetTransferStatus()
	require.True(t, ok)
	require.True(t, changed)
	require.Equal(t, int64(500), status.CurrentOffset)

	// A second sample without movement reports unchanged.
	_, changed, ok = cs.GetTransferStatus()
	require.True(t, ok)
	require.False(t, changed)

	// The first update posted a snapshot notification.
	e.mu.Lock()
	snapshots := 0
	for _, n := range e.notifications {
		if tn, isStatus := n.(*TransferStatusNotification); isStatus && tn.Status != nil {
			snapshots++
		}
	}
	e.mu.Unlock()
	require.Equal(t, 1, snapshots, "updates while a notification is outstanding must not post another")

	cs.ResetTransferStatus()
	_, _, ok = cs.GetTransferStatus()
	require.False(t, ok)
}

func TestTransferStatusNegativeStartClamped(t *testing.T) {
	cs, _, _ := newTestControlSocket(t)
	cs.InitTransferStatus(100, -5, true)

	status, _, ok := cs.GetTransferStatus()
	require.True(t, ok)
	require.Zero(t, status.StartOffset)
	require.True(t, status.Listing)
}

func TestTransferStatusConcurrentSampling(t *testing.T) {
	cs, _, _ := newTestControlSocket(t)
	cs.InitTransferStatus(1_000_000, 0, false)

	// A UI reader sampling while the transfer path updates must never
	// tear; the race detector guards this test.
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cs.UpdateTransferStatus(10)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cs.GetTransferStatus()
		}
	}()
	wg.Wait()

	status, _, ok := cs.GetTransferStatus()
	require.True(t, ok)
	require.Equal(t, int64(10000), status.CurrentOffset)
}

func TestResetOperationClearsTransferStatus(t *testing.T) {
	cs, e, _ := newTestControlSocket(t)

	cs.PushOperation(NewOperation(CommandTransfer, &TransferOp{LocalFileSize: -1, RemoteFileSize: -1, Download: true}))
	cs.InitTransferStatus(100, 0, false)

	cs.ResetOperation(ReplyOK)

	_, _, ok := cs.GetTransferStatus()
	require.False(t, ok)

	// The clear is announced with a nil-status notification.
	e.mu.Lock()
	cleared := false
	for _, n := range e.notifications {
		if tn, isStatus := n.(*TransferStatusNotification); isStatus && tn.Status == nil {
			cleared = true
		}
	}
	e.mu.Unlock()
	require.True(t, cleared)
}
