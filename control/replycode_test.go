package control

import "testing"

func TestReplyCodeComposition(t *testing.T) {
	// The composite codes carry the error bit, per the wire contract.
	for _, code := range []ReplyCode{ReplyCriticalError, ReplyCanceled, ReplyTimeout, ReplyNotSupported, ReplyPasswordFailed, ReplyInternalError} {
		if !code.Has(ReplyError) {
			t.Errorf("%v must include the error bit", code)
		}
	}

	if ReplyWouldBlock.Has(ReplyError) {
		t.Error("wouldblock is not an error")
	}
	if ReplyDisconnected.Has(ReplyError) {
		t.Error("disconnected alone is not an error")
	}
}

func TestReplyCodeValues(t *testing.T) {
	// Stable wire contract with the embedder.
	tests := []struct {
		code ReplyCode
		want int
	}{
		{ReplyOK, 0},
		{ReplyWouldBlock, 1},
		{ReplyError, 2},
		{ReplyCriticalError, 4 | 2},
		{ReplyCanceled, 8 | 2},
		{ReplyDisconnected, 16},
		{ReplyTimeout, 32 | 2},
		{ReplyNotSupported, 64 | 2},
		{ReplyPasswordFailed, 128 | 2},
		{ReplyInternalError, 256 | 2},
	}
	for _, tt := range tests {
		if int(tt.code) != tt.want {
			t.Errorf("%v = %d, want %d", tt.code, int(tt.code), tt.want)
		}
	}
}

func TestReplyCodeOredBitsKeepFlags(t *testing.T) {
	code := ReplyError | ReplyDisconnected | ReplyTimeout
	if !code.Has(ReplyTimeout) || !code.Has(ReplyDisconnected) || !code.Has(ReplyError) {
		t.Errorf("composite code lost flags: %v", code)
	}
	if code.Has(ReplyCanceled) {
		t.Errorf("composite code gained flags: %v", code)
	}
}
