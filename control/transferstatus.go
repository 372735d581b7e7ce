package control

import (
	"sync"
	"time"
)

// TransferStatus is a snapshot of a running transfer.
type TransferStatus struct {
	TotalSize     int64
	StartOffset   int64
	CurrentOffset int64
	Started       time.Time
	MadeProgress  bool
	Listing       bool
}

// transferStatusTracker guards the live transfer status. The worker-side
// updater and the UI-side sampler run on different goroutines, so every
// access takes the mutex. The send state implements the notify/ack
// protocol: 0 idle, 1 notified and sampled, 2 changed since last sample.
type transferStatusTracker struct {
	mu        sync.Mutex
	status    *TransferStatus
	sendState int
}

// Init creates a fresh status for a transfer starting at startOffset of
// totalSize bytes (-1 unknown).
func (t *transferStatusTracker) Init(totalSize, startOffset int64, listing bool) {
	if startOffset < 0 {
		startOffset = 0
	}
	t.mu.Lock()
	t.status = &TransferStatus{
		TotalSize:     totalSize,
		StartOffset:   startOffset,
		CurrentOffset: startOffset,
		Listing:       listing,
	}
	t.mu.Unlock()
}

// SetStartTime stamps the moment bytes started moving.
func (t *transferStatusTracker) SetStartTime() {
	t.mu.Lock()
	if t.status != nil {
		t.status.Started = time.Now()
	}
	t.mu.Unlock()
}

// SetMadeProgress marks that payload bytes have moved.
func (t *transferStatusTracker) SetMadeProgress() {
	t.mu.Lock()
	if t.status != nil {
		t.status.MadeProgress = true
	}
	t.mu.Unlock()
}

// Update advances the offset. It returns a snapshot to notify the embedder
// with, or nil if a notification is already outstanding.
func (t *transferStatusTracker) Update(transferredBytes int64) *TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == nil {
		return nil
	}
	t.status.CurrentOffset += transferredBytes

	if t.sendState == 0 {
		t.sendState = 2
		snapshot := *t.status
		return &snapshot
	}
	t.sendState = 2
	return nil
}

// Sample returns the current status for the UI reader. changed reports
// whether it advanced since the last sample; when it did, the tracker
// expects another sample later.
func (t *transferStatusTracker) Sample() (status TransferStatus, changed bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == nil {
		t.sendState = 0
		return TransferStatus{}, false, false
	}

	status = *t.status
	if t.sendState == 2 {
		t.sendState = 1
		return status, true, true
	}
	t.sendState = 0
	return status, false, true
}

// Reset clears the status. Returns whether one existed.
func (t *transferStatusTracker) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	had := t.status != nil
	t.status = nil
	t.sendState = 0
	return had
}

// Snapshot returns a copy without touching the send state.
func (t *transferStatusTracker) Snapshot() (TransferStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == nil {
		return TransferStatus{}, false
	}
	return *t.status, true
}
