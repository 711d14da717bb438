package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

// directTimerService fires straight into the transaction under test,
// standing in for the dispatcher's queue in these single-transaction FSM
// tests (the dispatcher tests in dispatcher_test.go exercise the real
// queue).
func directTimerService(t *testing.T, tx Transaction) *TimerService {
	t.Helper()
	return NewTimerService(func(ev inboundEvent) {
		if err := tx.handle(context.Background(), ev); err != nil {
			t.Errorf("handle(%v): %v", ev, err)
		}
	})
}

func TestClientNonInvite_UnreliableSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &fakeTransport{}
	tu := &fakeTU{}
	key := TransactionKey{Branch: "z9hG4bK-1", Method: "REGISTER"}
	cfg := DefaultConfig()
	cfg.Timings = fastTimings()

	tx := newClientNonInviteTransaction(key, false, transport, tu, nil, cfg, discardLogger())
	tx.timers = directTimerService(t, tx)

	req := fakeRequest{method: "REGISTER", branch: key.Branch}
	if err := tx.start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}
	if tx.State() != StateTrying {
		t.Fatalf("state = %v, want %v", tx.State(), StateTrying)
	}

	res := fakeResponse{status: 200, cseqMethod: "REGISTER", branch: key.Branch}
	if err := tx.handle(context.Background(), &responseEvent{res: res}); err != nil {
		t.Fatalf("handle final: %v", err)
	}
	if tx.State() != StateCompleted {
		t.Fatalf("state = %v, want %v", tx.State(), StateCompleted)
	}
	if got := tu.responseCount(); got != 1 {
		t.Fatalf("tu delivered %d responses, want 1", got)
	}

	// A retransmitted final response in Completed must not be redelivered.
	if err := tx.handle(context.Background(), &responseEvent{res: res}); err != nil {
		t.Fatalf("handle duplicate final: %v", err)
	}
	if got := tu.responseCount(); got != 1 {
		t.Fatalf("tu delivered %d responses after duplicate, want 1", got)
	}

	select {
	case <-tx.Done():
	case <-time.After(time.Second):
		t.Fatal("timer K never terminated the transaction")
	}
	if tx.State() != StateTerminated {
		t.Fatalf("state = %v, want %v", tx.State(), StateTerminated)
	}
}

func TestClientNonInvite_Retransmission(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &fakeTransport{}
	tu := &fakeTU{}
	key := TransactionKey{Branch: "z9hG4bK-2", Method: "OPTIONS"}
	cfg := DefaultConfig()
	cfg.Timings = fastTimings()

	tx := newClientNonInviteTransaction(key, false, transport, tu, nil, cfg, discardLogger())
	tx.timers = directTimerService(t, tx)

	req := fakeRequest{method: "OPTIONS", branch: key.Branch}
	if err := tx.start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if got := len(transport.messages()); got < 2 {
		t.Fatalf("sent %d messages, want at least 2 (initial + retransmit)", got)
	}

	res := fakeResponse{status: 200, cseqMethod: "OPTIONS", branch: key.Branch}
	if err := tx.handle(context.Background(), &responseEvent{res: res}); err != nil {
		t.Fatalf("handle final: %v", err)
	}
	<-tx.Done()
}

func TestClientNonInvite_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &fakeTransport{}
	tu := &fakeTU{}
	key := TransactionKey{Branch: "z9hG4bK-3", Method: "OPTIONS"}
	cfg := DefaultConfig()
	cfg.Timings = fastTimings()

	tx := newClientNonInviteTransaction(key, false, transport, tu, nil, cfg, discardLogger())
	tx.timers = directTimerService(t, tx)

	req := fakeRequest{method: "OPTIONS", branch: key.Branch}
	if err := tx.start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-tx.Done():
	case <-time.After(time.Second):
		t.Fatal("timer F never terminated the transaction")
	}
	if tx.State() != StateTerminated {
		t.Fatalf("state = %v, want %v", tx.State(), StateTerminated)
	}
	if diff := cmp.Diff([]TransactionKey{key}, tu.timeouts); diff != "" {
		t.Fatalf("timeouts mismatch (-want +got):\n%s", diff)
	}
}

func TestClientNonInvite_ReliableSkipsCompleted(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &fakeTransport{}
	tu := &fakeTU{}
	key := TransactionKey{Branch: "z9hG4bK-4", Method: "REGISTER"}
	cfg := DefaultConfig()
	cfg.Timings = fastTimings()

	tx := newClientNonInviteTransaction(key, true, transport, tu, nil, cfg, discardLogger())
	tx.timers = directTimerService(t, tx)

	req := fakeRequest{method: "REGISTER", branch: key.Branch}
	if err := tx.start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}

	res := fakeResponse{status: 200, cseqMethod: "REGISTER", branch: key.Branch}
	if err := tx.handle(context.Background(), &responseEvent{res: res}); err != nil {
		t.Fatalf("handle final: %v", err)
	}
	if tx.State() != StateTerminated {
		t.Fatalf("state = %v, want %v (reliable transport skips Completed)", tx.State(), StateTerminated)
	}
	if got := tu.responseCount(); got != 1 {
		t.Fatalf("tu delivered %d responses, want 1", got)
	}
}
