package transaction

// inboundEvent is the tagged variant flowing through the dispatcher's single
// input queue: InboundMessage = SipRequest | SipResponse | TimerExpiry |
// TransportError (§9 design notes — replacing the source's downcast-a-
// generic-message pattern with an exhaustive type switch in dispatcher.go).
type inboundEvent interface {
	// key derives the transaction id this event belongs to. Events that
	// cannot be matched to an id (malformed messages) return
	// ErrMessageNotMatched.
	key() (TransactionKey, error)

	isInboundEvent()
}

// requestEvent carries a request arriving either from the transport (a
// fresh or retransmitted request) or from the TU (a request to send, which
// creates a client transaction).
type requestEvent struct {
	req      Request
	fromTU   bool
	reliable bool
}

func (e *requestEvent) isInboundEvent() {}
func (e *requestEvent) key() (TransactionKey, error) { return RequestKey(e.req) }

// responseEvent carries a response arriving either from the transport (to
// be matched against a client transaction) or from the TU (a response to
// send, matched against a server transaction).
type responseEvent struct {
	res      Response
	fromTU   bool
	reliable bool
}

func (e *responseEvent) isInboundEvent() {}
func (e *responseEvent) key() (TransactionKey, error) { return ResponseKey(e.res) }

// timerExpiryEvent is enqueued by the timer service when a scheduled timer
// fires (§4.1). The dispatcher delivers it to the owning transaction if one
// still exists; a cancelled-but-already-enqueued timer that arrives after
// its transaction is gone is tolerated by dropping it (§5, invariant 2).
type timerExpiryEvent struct {
	Key  TransactionKey
	Kind TimerKind
}

func (e *timerExpiryEvent) isInboundEvent()                  {}
func (e *timerExpiryEvent) key() (TransactionKey, error) { return e.Key, nil }

// transportErrorEvent is enqueued by the transport selector when a send it
// was asked to perform on behalf of a transaction failed (§6).
type transportErrorEvent struct {
	Key TransactionKey
	Err error
}

func (e *transportErrorEvent) isInboundEvent()                  {}
func (e *transportErrorEvent) key() (TransactionKey, error) { return e.Key, nil }
