package realtime

import (
	"testing"
	"time"
)

// drain one frame from a session's outbound queue, or fail
func receiveFrame(t *testing.T, session *Session, timeout time.Duration) *Message {
	select {
	case frame, ok := <-session.Send():
		if !ok {
			t.Fatalf("session %s closed", session.SessionId)
			return nil
		}
		message, err := DecodeMessage(frame)
		if err != nil {
			t.Fatalf("bad frame: %s", err)
			return nil
		}
		return message
	case <-time.After(timeout):
		t.Fatalf("no frame for session %s", session.SessionId)
		return nil
	}
}

// assert the session receives nothing in the window
func expectNoFrame(t *testing.T, session *Session, timeout time.Duration) {
	select {
	case frame, ok := <-session.Send():
		if ok {
			t.Fatalf("unexpected frame for session %s: %s", session.SessionId, frame)
		}
	case <-time.After(timeout):
	}
}

// poll until the condition holds
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %s", timeout)
}
