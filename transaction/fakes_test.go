package transaction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gosiptx/txlayer/log"
)

func discardLogger() *slog.Logger { return log.Noop() }

type fakeRequest struct {
	method string
	branch string
}

func (r fakeRequest) Method() string { return r.method }
func (r fakeRequest) Branch() string { return r.branch }

type fakeResponse struct {
	status     int
	cseqMethod string
	branch     string
}

func (r fakeResponse) StatusCode() int     { return r.status }
func (r fakeResponse) CSeqMethod() string  { return r.cseqMethod }
func (r fakeResponse) Branch() string      { return r.branch }

// fakeTransport records every message handed to Send. It can be told to
// fail the next N sends, to exercise transport-error handling.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []any
	failNext int
	failErr  error
}

func (t *fakeTransport) Send(_ context.Context, _ TransactionKey, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext > 0 {
		t.failNext--
		if t.failErr == nil {
			t.failErr = errSimulatedTransportFailure
		}
		return t.failErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) messages() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]any, len(t.sent))
	copy(out, t.sent)
	return out
}

const errSimulatedTransportFailure = fakeError("simulated transport failure")

type fakeError string

func (e fakeError) Error() string { return string(e) }

// fakeTU records every delivery the dispatcher/transactions make to the TU.
type fakeTU struct {
	mu              sync.Mutex
	requests        []Request
	responses       []Response
	strayResponses  []Response
	timeouts        []TransactionKey
	transportErrors []TransactionKey
}

func (tu *fakeTU) DeliverRequest(_ context.Context, _ TransactionKey, req Request) {
	tu.mu.Lock()
	defer tu.mu.Unlock()
	tu.requests = append(tu.requests, req)
}

func (tu *fakeTU) DeliverResponse(_ context.Context, _ TransactionKey, res Response) {
	tu.mu.Lock()
	defer tu.mu.Unlock()
	tu.responses = append(tu.responses, res)
}

func (tu *fakeTU) DeliverStrayResponse(_ context.Context, res Response) {
	tu.mu.Lock()
	defer tu.mu.Unlock()
	tu.strayResponses = append(tu.strayResponses, res)
}

func (tu *fakeTU) TransactionTimeout(_ context.Context, key TransactionKey) {
	tu.mu.Lock()
	defer tu.mu.Unlock()
	tu.timeouts = append(tu.timeouts, key)
}

func (tu *fakeTU) TransportFailed(_ context.Context, key TransactionKey, _ error) {
	tu.mu.Lock()
	defer tu.mu.Unlock()
	tu.transportErrors = append(tu.transportErrors, key)
}

func (tu *fakeTU) responseCount() int {
	tu.mu.Lock()
	defer tu.mu.Unlock()
	return len(tu.responses)
}

func (tu *fakeTU) requestCount() int {
	tu.mu.Lock()
	defer tu.mu.Unlock()
	return len(tu.requests)
}

// fakeAckBuilder builds a trivial ACK request that just remembers which
// final response it was built for.
type fakeAckBuilder struct{}

func (fakeAckBuilder) BuildAck(invite Request, final Response) (Request, error) {
	return fakeRequest{method: "ACK", branch: invite.Branch()}, nil
}

// fakeTryingBuilder builds a trivial 100 Trying response for an INVITE.
type fakeTryingBuilder struct{}

func (fakeTryingBuilder) BuildTrying(invite Request) (Response, error) {
	return fakeResponse{status: 100, cseqMethod: "INVITE", branch: invite.Branch()}, nil
}

func fastTimings() TimingConfig {
	return TimingConfig{
		T1:    5_000_000,  // 5ms
		T2:    20_000_000, // 20ms
		T4:    10_000_000, // 10ms
		TimeD: 10_000_000, // 10ms
	}
}
