package transaction

import (
	"context"
	"log/slog"
	"sync"

	"braces.dev/errtrace"

	"github.com/gosiptx/txlayer/internal/errorutil"
	"github.com/gosiptx/txlayer/internal/types"
	txlog "github.com/gosiptx/txlayer/log"
)

// StateChange is delivered to every callback registered with
// Dispatcher.OnStateChanged, once per observed transition.
type StateChange struct {
	Key     TransactionKey
	Machine Machine
	From    State
	To      State
}

// StateChangeFunc observes one transaction's transition.
type StateChangeFunc func(StateChange)

// Dispatcher owns the transaction table and is the single writer of it
// (§4.4, §5): every inbound request, response, timer expiry, and transport
// error is funneled through its input queue and drained by exactly one
// goroutine, the only one that writes the table. The table has no lock of
// its own; mu guards it so that Len and State can read it from any goroutine.
type Dispatcher struct {
	cfg       Config
	transport TransportSink
	tu        TUSink
	ack       AckBuilder
	trying    TryingBuilder
	log       *slog.Logger
	stray     StrayPolicy

	queue chan dispatcherMsg

	mu    sync.Mutex
	table *table

	callbacks types.CallbackManager[StateChangeFunc]

	wg       sync.WaitGroup
	closeOnce sync.Once
	closed   chan struct{}
}

type dispatcherMsg struct {
	ev    inboundEvent
	reply chan error // nil for timer/transport-error deliveries that have no waiter
}

// NewDispatcher builds a Dispatcher over the given sinks. transport and tu
// must be non-nil; ack and trying may be nil only if the deployment never
// runs a client or server INVITE transaction, respectively.
func NewDispatcher(transport TransportSink, tu TUSink, ack AckBuilder, trying TryingBuilder, cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = txlog.Default()
	}
	return &Dispatcher{
		cfg:       cfg,
		transport: transport,
		tu:        tu,
		ack:       ack,
		trying:    trying,
		log:       log,
		stray:     NewStrayPolicy(cfg.DiscardStrayResponses),
		queue:     make(chan dispatcherMsg, cfg.inputQueueSize()),
		table:     newTable(),
		closed:    make(chan struct{}),
	}
}

// Start launches the dispatcher's single consumer goroutine. It returns
// once the loop has been scheduled; call Close to drain and stop it. ctx is
// given the dispatcher's logger via log.ContextWithLogger, so every sink
// call made from the loop carries it for log.LoggerFromValues to resolve.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = txlog.ContextWithLogger(ctx, d.log)
	d.wg.Add(1)
	go d.loop(ctx)
}

// Logger satisfies the interface{ Logger() *slog.Logger } case
// log.LoggerFromValues checks.
func (d *Dispatcher) Logger() *slog.Logger { return d.log }

func (d *Dispatcher) logger(ctx context.Context) *slog.Logger {
	return txlog.LoggerFromValues(ctx, d)
}

// Close stops accepting new events and waits for the consumer goroutine to
// drain what is already queued.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.wg.Wait()
}

// OnStateChanged registers a callback invoked on every transaction state
// transition observed by the dispatcher. The returned func removes it.
func (d *Dispatcher) OnStateChanged(fn StateChangeFunc) (remove func()) {
	return d.callbacks.Add(fn)
}

// Len reports the number of live table entries, real or Stale. Intended
// for tests and diagnostics, not the hot path.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table.len()
}

// State reports the current state of the transaction keyed by key, or
// ErrTransactionNotFound if the table has no entry for it (real or Stale).
// Intended for tests and diagnostics, not the hot path.
func (d *Dispatcher) State(key TransactionKey) (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx, ok := d.table.find(key)
	if !ok {
		return "", errtrace.Wrap(ErrTransactionNotFound)
	}
	return tx.State(), nil
}

// SubmitRequest hands a request arriving from the transport to the
// dispatcher, creating a new server transaction if none matches.
func (d *Dispatcher) SubmitRequest(ctx context.Context, req Request, reliable bool) error {
	return d.submit(ctx, &requestEvent{req: req, reliable: reliable})
}

// SubmitResponse hands a response arriving from the transport to the
// dispatcher, matching it to the client transaction that sent the request.
func (d *Dispatcher) SubmitResponse(ctx context.Context, res Response, reliable bool) error {
	return d.submit(ctx, &responseEvent{res: res, reliable: reliable})
}

// SendRequest starts a new client transaction for req and sends it.
func (d *Dispatcher) SendRequest(ctx context.Context, req Request, reliable bool) error {
	return d.submit(ctx, &requestEvent{req: req, fromTU: true, reliable: reliable})
}

// SendResponse hands a response the TU produced for an existing server
// transaction to the dispatcher.
func (d *Dispatcher) SendResponse(ctx context.Context, res Response, reliable bool) error {
	return d.submit(ctx, &responseEvent{res: res, fromTU: true, reliable: reliable})
}

// SubmitTransportError reports that a send the transport performed
// asynchronously on behalf of the transaction keyed by key has failed.
func (d *Dispatcher) SubmitTransportError(ctx context.Context, key TransactionKey, err error) error {
	return d.submit(ctx, &transportErrorEvent{Key: key, Err: err})
}

func (d *Dispatcher) submit(ctx context.Context, ev inboundEvent) error {
	reply := make(chan error, 1)
	msg := dispatcherMsg{ev: ev, reply: reply}

	select {
	case <-d.closed:
		return errtrace.Wrap(ErrDispatcherClosed)
	default:
	}

	select {
	case d.queue <- msg:
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	case <-d.closed:
		return errtrace.Wrap(ErrDispatcherClosed)
	}

	select {
	case err := <-reply:
		return errtrace.Wrap(err)
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	timers := NewTimerService(func(ev inboundEvent) {
		select {
		case d.queue <- dispatcherMsg{ev: ev}:
		case <-d.closed:
		}
	})

	for {
		select {
		case msg := <-d.queue:
			err := d.process(ctx, timers, msg.ev)
			if msg.reply != nil {
				msg.reply <- err
			}
		case <-d.closed:
			d.drain(ctx, timers)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain processes whatever is already queued after Close, so timers firing
// concurrently with shutdown don't leak goroutines blocked on d.queue.
func (d *Dispatcher) drain(ctx context.Context, timers *TimerService) {
	for {
		select {
		case msg := <-d.queue:
			err := d.process(ctx, timers, msg.ev)
			if msg.reply != nil {
				msg.reply <- err
			}
		default:
			return
		}
	}
}

// process runs the five-step match-or-create algorithm for one event
// (§4.4): compute its key; find or create the owning transaction; hand it
// the event; reap the transaction into the Stale absorber or out of the
// table entirely if it has reached Terminated.
func (d *Dispatcher) process(ctx context.Context, timers *TimerService, ev inboundEvent) error {
	key, err := ev.key()
	if err != nil {
		// MalformedMessage (§7): dropped silently after logging, never
		// delivered to the TU and never conflated with a legitimate §4.6
		// stray response, which the response *did* carry a valid id for.
		switch ev.(type) {
		case *requestEvent:
			d.logger(ctx).WarnContext(ctx, "dropping malformed request: no transaction id", "error", err)
		case *responseEvent:
			d.logger(ctx).WarnContext(ctx, "dropping malformed response: no transaction id", "error", err)
		}
		return nil
	}

	d.mu.Lock()
	tx, found := d.table.find(key)
	d.mu.Unlock()

	if !found {
		created, ok, err := d.createTransaction(ctx, timers, key, ev)
		if err != nil {
			return errtrace.Wrap(err)
		}
		if !ok {
			// No transaction owns this event and none should be created for
			// it (e.g. an ACK to a 2xx, or a response matching nothing);
			// the TU sees it directly if the stray policy admits it.
			if re, ok := ev.(*responseEvent); ok {
				d.handleStray(ctx, re.res)
			}
			return nil
		}
		d.mu.Lock()
		d.table.insert(created)
		d.mu.Unlock()
		// Creation already consumed ev (start sent the initial message and,
		// for a server transaction, delivered the request to the TU); do
		// not hand it to handle again.
		d.notify(key, created.Machine(), State(""), created.State())
		d.reap(ctx, timers, created)
		return nil
	}

	before := tx.State()
	if err := tx.handle(ctx, ev); err != nil {
		d.logger(ctx).ErrorContext(ctx, "transaction event handling failed", "transaction", key, "error", err)
	}
	after := tx.State()
	if after != before {
		d.notify(key, tx.Machine(), before, after)
	}

	d.reap(ctx, timers, tx)
	return nil
}

func (d *Dispatcher) notify(key TransactionKey, m Machine, from, to State) {
	for cb := range d.callbacks.All() {
		cb(StateChange{Key: key, Machine: m, From: from, To: to})
	}
}

// reap drops a transaction that has reached Terminated, replacing it with
// a Stale absorber for one T4 interval on unreliable transports so that
// late retransmits bearing the same id are discarded rather than spawning
// a fresh transaction (§4.6, invariant 2).
func (d *Dispatcher) reap(ctx context.Context, timers *TimerService, tx Transaction) {
	if tx.State() != StateTerminated {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if tx.Machine() == MachineStale || tx.Reliable() {
		d.table.remove(tx.Key())
		return
	}

	d.table.insert(newStaleTransaction(ctx, tx.Key(), timers, d.cfg))
}

// createTransaction builds the transaction that should own ev, or reports
// ok=false if ev should never spawn one (an unmatched response, or an ACK
// to a 2xx final — RFC 3261 §17.1.1.3 leaves that to the TU, not a new
// server non-INVITE transaction).
func (d *Dispatcher) createTransaction(
	ctx context.Context,
	timers *TimerService,
	key TransactionKey,
	ev inboundEvent,
) (Transaction, bool, error) {
	switch e := ev.(type) {
	case *requestEvent:
		if e.fromTU {
			return d.createClient(ctx, timers, key, e)
		}
		return d.createServer(ctx, timers, key, e)
	case *responseEvent:
		if e.fromTU {
			// A response from the TU with no matching server transaction
			// has nothing left to deliver it through.
			return nil, false, nil
		}
		// An unmatched inbound response is a stray, not a new transaction.
		return nil, false, nil
	default:
		return nil, false, nil
	}
}

func (d *Dispatcher) createClient(ctx context.Context, timers *TimerService, key TransactionKey, e *requestEvent) (Transaction, bool, error) {
	if key.Method == "INVITE" {
		if d.ack == nil {
			return nil, false, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidArgument, "no AckBuilder configured for a client INVITE transaction"))
		}
		tx := newClientInviteTransaction(key, e.reliable, d.transport, d.tu, timers, d.ack, d.cfg, d.log)
		if err := tx.start(ctx, e.req); err != nil {
			return nil, false, errtrace.Wrap(err)
		}
		return tx, true, nil
	}
	tx := newClientNonInviteTransaction(key, e.reliable, d.transport, d.tu, timers, d.cfg, d.log)
	if err := tx.start(ctx, e.req); err != nil {
		return nil, false, errtrace.Wrap(err)
	}
	return tx, true, nil
}

func (d *Dispatcher) createServer(ctx context.Context, timers *TimerService, key TransactionKey, e *requestEvent) (Transaction, bool, error) {
	if e.req.Method() == "ACK" {
		// An ACK that matches no existing INVITE transaction is either a
		// retransmit the Stale absorber should already be catching, or an
		// ACK to a 2xx: neither spawns a server non-INVITE transaction.
		d.tu.DeliverRequest(ctx, key, e.req)
		return nil, false, nil
	}

	if key.Method == "INVITE" {
		if d.trying == nil {
			return nil, false, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidArgument, "no TryingBuilder configured for a server INVITE transaction"))
		}
		tx := newServerInviteTransaction(key, e.reliable, d.transport, d.tu, timers, d.trying, d.cfg, d.log)
		if err := tx.start(ctx, e.req); err != nil {
			return nil, false, errtrace.Wrap(err)
		}
		d.tu.DeliverRequest(ctx, key, e.req)
		return tx, true, nil
	}

	tx := newServerNonInviteTransaction(key, e.reliable, d.transport, d.tu, timers, d.cfg, d.log)
	d.tu.DeliverRequest(ctx, key, e.req)
	return tx, true, nil
}

func (d *Dispatcher) handleStray(ctx context.Context, res Response) {
	if !d.stray.Admit() {
		return
	}
	d.tu.DeliverStrayResponse(ctx, res)
}
