package approval

import (
	"context"
	"testing"
	"time"
)

func TestChannel_SubmitRespondAwait(t *testing.T) {
	ch := NewChannel(t.TempDir(), 20*time.Millisecond, time.Minute)

	reqID, err := ch.Submit("run-1", "phase-1", "protected path override")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		if err := ch.Respond(reqID, true, "oncall"); err != nil {
			t.Errorf("respond failed: %v", err)
		}
	}()

	resp, err := ch.Await(context.Background(), reqID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusApproved || resp.ApproverID != "oncall" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestChannel_Denial(t *testing.T) {
	ch := NewChannel(t.TempDir(), 20*time.Millisecond, time.Minute)
	reqID, err := ch.Submit("run-1", "phase-1", "reason")
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Respond(reqID, false, "oncall"); err != nil {
		t.Fatal(err)
	}

	resp, err := ch.Await(context.Background(), reqID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusDenied {
		t.Errorf("expected DENIED, got %s", resp.Status)
	}
}

func TestChannel_Timeout(t *testing.T) {
	ch := NewChannel(t.TempDir(), 10*time.Millisecond, 50*time.Millisecond)
	reqID, err := ch.Submit("run-1", "phase-1", "reason")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ch.Await(context.Background(), reqID); err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestChannel_DoubleRespondRefused(t *testing.T) {
	ch := NewChannel(t.TempDir(), 20*time.Millisecond, time.Minute)
	reqID, _ := ch.Submit("run-1", "phase-1", "reason")
	if err := ch.Respond(reqID, true, "a"); err != nil {
		t.Fatal(err)
	}
	if err := ch.Respond(reqID, false, "b"); err == nil {
		t.Error("second response accepted")
	}
}

func TestChannel_PendingLists(t *testing.T) {
	ch := NewChannel(t.TempDir(), 20*time.Millisecond, time.Minute)
	a, _ := ch.Submit("run-1", "p1", "r1")
	b, _ := ch.Submit("run-1", "p2", "r2")
	_ = ch.Respond(b, true, "x")

	pending, err := ch.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].RequestID != a {
		t.Errorf("pending = %+v", pending)
	}
}
