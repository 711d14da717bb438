package transaction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gosiptx/txlayer/internal/errorutil"
	txlog "github.com/gosiptx/txlayer/log"
)

// Machine names one of the four RFC 3261 §17 state machines, or the Stale
// absorber (§4.6).
type Machine string

const (
	MachineClientInvite    Machine = "client-invite"
	MachineClientNonInvite Machine = "client-non-invite"
	MachineServerInvite    Machine = "server-invite"
	MachineServerNonInvite Machine = "server-non-invite"
	MachineStale           Machine = "stale"
)

// State is a machine-specific state label (§3). Values are readable in
// logs without a lookup table, following the source's string-const style.
type State string

const (
	StateCalling     State = "calling"
	StateTrying      State = "trying"
	StateProceeding  State = "proceeding"
	StateCompleted   State = "completed"
	StateConfirmed   State = "confirmed"
	StateStale       State = "stale"
	StateTerminated  State = "terminated"
)

// Transaction is the common surface the dispatcher drives every concrete
// transaction through (§3). The unexported handle method is the FSM entry
// point; it is unexported because only the dispatcher, in this package,
// ever calls it — external callers only observe a transaction through the
// TU sink and the OnStateChanged callback.
type Transaction interface {
	Key() TransactionKey
	Machine() Machine
	State() State
	Reliable() bool
	// Done is closed exactly once, when the transaction reaches a terminal
	// state and is eligible for removal from the table (§3, invariants).
	Done() <-chan struct{}

	handle(ctx context.Context, ev inboundEvent) error
}

// txCore is the state and collaborators shared by every concrete
// transaction type (§3: retransmit-buffer, tu-handle, timer-handle,
// transport-handle). It is embedded, never referenced through a back
// pointer from the stack (§9 design notes — no cyclic references).
type txCore struct {
	key      TransactionKey
	reliable bool

	transport TransportSink
	tu        TUSink
	timers    *TimerService
	cfg       Config
	log       *slog.Logger

	lastSent Request // nil, or the last request sent (the original request, or a client INVITE's ACK)
	lastRes  Response

	timerHandles map[TimerKind]*TimerHandle

	// curState is updated by each concrete FSM's OnEntry callbacks. It is
	// read directly rather than through the stateless machine's own state
	// accessor so that State() is a plain, allocation-free field read on
	// the dispatcher's hot path.
	curState State

	doneCh   chan struct{}
	doneOnce sync.Once
}

func newTxCore(
	key TransactionKey,
	reliable bool,
	transport TransportSink,
	tu TUSink,
	timers *TimerService,
	cfg Config,
	log *slog.Logger,
) txCore {
	return txCore{
		key:          key,
		reliable:     reliable,
		transport:    transport,
		tu:           tu,
		timers:       timers,
		cfg:          cfg,
		log:          log,
		timerHandles: make(map[TimerKind]*TimerHandle),
		doneCh:       make(chan struct{}),
	}
}

func (c *txCore) Key() TransactionKey    { return c.key }
func (c *txCore) Reliable() bool         { return c.reliable }
func (c *txCore) Done() <-chan struct{}  { return c.doneCh }
func (c *txCore) State() State           { return c.curState }
func (c *txCore) setState(s State)       { c.curState = s }

// Logger satisfies the interface{ Logger() *slog.Logger } case
// log.LoggerFromValues checks, so logger(ctx) below picks up a caller's
// context-scoped logger in preference to this transaction's own.
func (c *txCore) Logger() *slog.Logger { return c.log }

// logger resolves the logger to use for one call: the context's, if the
// caller attached one with log.ContextWithLogger, else this transaction's own.
func (c *txCore) logger(ctx context.Context) *slog.Logger {
	return txlog.LoggerFromValues(ctx, c)
}

func (c *txCore) markDone() {
	c.doneOnce.Do(func() { close(c.doneCh) })
}

func (c *txCore) isDone() bool {
	select {
	case <-c.doneCh:
		return true
	default:
		return false
	}
}

// schedule (re)starts a timer, cancelling any previous timer of the same
// kind. A non-positive duration means the timer is suppressed for this
// transport (invariant 4, reliable transports) and is simply not started.
// kind is always one of this package's own TimerKind constants, so a
// rejection here means a programming error in this module, not caller
// input; it is logged rather than propagated, since schedule is called from
// FSM actions that have no error return of their own to report through.
func (c *txCore) schedule(ctx context.Context, kind TimerKind, d time.Duration) {
	c.cancel(kind)
	h, err := c.timers.Schedule(c.key, kind, d)
	if err != nil {
		c.logger(ctx).ErrorContext(ctx, "failed to schedule timer", "transaction", c.key, "kind", kind, "error", err)
		return
	}
	if h != nil {
		c.timerHandles[kind] = h
	}
}

func (c *txCore) cancel(kind TimerKind) {
	if h, ok := c.timerHandles[kind]; ok {
		h.Cancel()
		delete(c.timerHandles, kind)
	}
}

func (c *txCore) cancelAll() {
	for kind, h := range c.timerHandles {
		h.Cancel()
		delete(c.timerHandles, kind)
	}
}

func (c *txCore) send(ctx context.Context, msg any) error {
	return c.transport.Send(ctx, c.key, msg)
}

// logTransportError records a send failure at a level matching its
// classification: a timeout or other temporary network condition is routine
// noise on an unreliable transport, worth a Warn; anything else is an Error.
func (c *txCore) logTransportError(ctx context.Context, err error) {
	level := slog.LevelError
	if errorutil.IsTemporaryErr(err) || errorutil.IsTimeoutErr(err) {
		level = slog.LevelWarn
	}
	c.logger(ctx).Log(ctx, level, "transport send failed",
		"transaction", c.key,
		"network", errorutil.IsNetError(err),
		"error", err,
	)
}
