package transaction

import "context"

// TransportSink is the thin outbound queue to the transport selector
// (§2, §6). Send is expected to enqueue msg for asynchronous delivery;
// asynchronous failures are reported through Dispatcher.SubmitTransportError.
// An error returned by Send for a client transaction's request or ACK, for a
// final response that moves a server transaction into Completed, or for a
// timer-driven retransmission drives the FSM's transport-error transition,
// as a reported transportErrorEvent does. (A failed ACK on a reliable client
// INVITE is reported to the TU as TransportFailed directly.) An error from
// any other send is returned from the transaction's event handler, and the
// dispatcher logs it.
type TransportSink interface {
	Send(ctx context.Context, key TransactionKey, msg any) error
}

// TUSink is the thin outbound queue to the Transaction User (§6). Each
// method enqueues one event; delivery is at-most-once per TU-observable
// event; retransmits are absorbed by the FSM before they ever reach here.
type TUSink interface {
	DeliverRequest(ctx context.Context, key TransactionKey, req Request)
	DeliverResponse(ctx context.Context, key TransactionKey, res Response)
	// DeliverStrayResponse delivers a response whose transaction id matched
	// nothing in the table, when the stray-response policy allows it
	// (§4.6).
	DeliverStrayResponse(ctx context.Context, res Response)
	TransactionTimeout(ctx context.Context, key TransactionKey)
	TransportFailed(ctx context.Context, key TransactionKey, err error)
}

// AckBuilder constructs the ACK a client INVITE transaction must generate
// locally for a non-2xx final response, per RFC 3261 §17.1.1.3 (copy the
// top Via, Call-ID, From; copy To including the tag from the final
// response; CSeq with the same number but method ACK). Building the
// message itself belongs to the message model outside this module's scope
// (§1); this is the narrow hook the FSM needs to invoke it.
type AckBuilder interface {
	BuildAck(invite Request, final Response) (Request, error)
}

// TryingBuilder constructs the local 100 Trying a server INVITE
// transaction sends when the TU has not produced its own provisional
// within the configured delay (§4.1, §6).
type TryingBuilder interface {
	BuildTrying(invite Request) (Response, error)
}
