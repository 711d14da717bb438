package transaction

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestServerNonInvite_UnreliableCompletesAndRetransmits(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &fakeTransport{}
	tu := &fakeTU{}
	key := TransactionKey{Branch: "z9hG4bK-sn-1", Method: "MESSAGE"}
	cfg := DefaultConfig()
	cfg.Timings = fastTimings()

	tx := newServerNonInviteTransaction(key, false, transport, tu, nil, cfg, discardLogger())
	tx.timers = directTimerService(t, tx)

	req := fakeRequest{method: "MESSAGE", branch: key.Branch}
	if err := tx.start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}
	if tx.State() != StateTrying {
		t.Fatalf("state = %v, want %v", tx.State(), StateTrying)
	}

	// A retransmit of the request while in Trying and with no response yet
	// is silently absorbed (there is nothing to resend).
	if err := tx.handle(context.Background(), &requestEvent{req: req}); err != nil {
		t.Fatalf("handle duplicate request: %v", err)
	}
	if got := len(transport.messages()); got != 0 {
		t.Fatalf("sent %d messages before any TU response, want 0", got)
	}

	ok := fakeResponse{status: 200, cseqMethod: "MESSAGE", branch: key.Branch}
	if err := tx.handle(context.Background(), &responseEvent{res: ok, fromTU: true}); err != nil {
		t.Fatalf("handle final from TU: %v", err)
	}
	if tx.State() != StateCompleted {
		t.Fatalf("state = %v, want %v", tx.State(), StateCompleted)
	}
	if got := len(transport.messages()); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}

	// A retransmit of the request while Completed resends the final
	// response.
	if err := tx.handle(context.Background(), &requestEvent{req: req}); err != nil {
		t.Fatalf("handle duplicate request in Completed: %v", err)
	}
	if got := len(transport.messages()); got != 2 {
		t.Fatalf("sent %d messages after retransmit, want 2", got)
	}

	select {
	case <-tx.Done():
	case <-time.After(time.Second):
		t.Fatal("timer J never terminated the transaction")
	}
}

func TestServerNonInvite_ReliableSkipsCompleted(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &fakeTransport{}
	tu := &fakeTU{}
	key := TransactionKey{Branch: "z9hG4bK-sn-2", Method: "MESSAGE"}
	cfg := DefaultConfig()
	cfg.Timings = fastTimings()

	tx := newServerNonInviteTransaction(key, true, transport, tu, nil, cfg, discardLogger())
	tx.timers = directTimerService(t, tx)

	req := fakeRequest{method: "MESSAGE", branch: key.Branch}
	if err := tx.start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}

	ok := fakeResponse{status: 200, cseqMethod: "MESSAGE", branch: key.Branch}
	if err := tx.handle(context.Background(), &responseEvent{res: ok, fromTU: true}); err != nil {
		t.Fatalf("handle final from TU: %v", err)
	}
	if tx.State() != StateTerminated {
		t.Fatalf("state = %v, want %v (reliable transport skips Completed)", tx.State(), StateTerminated)
	}
}
