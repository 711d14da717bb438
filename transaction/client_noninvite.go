package transaction

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"
)

const (
	evTimerE          = "timer_e"
	evTimerF          = "timer_f"
	evTimerK          = "timer_k"
	evRecvProvisional = "recv_provisional"
	evRecvFinal       = "recv_final"
	evTransportError  = "transport_error"
)

// ClientNonInviteTransaction implements the client non-INVITE FSM (§4.5.1,
// RFC 3261 §17.1.2.2): Trying -> Proceeding -> Completed -> Terminated.
type ClientNonInviteTransaction struct {
	txCore
	fsm *stateless.StateMachine
}

func newClientNonInviteTransaction(
	key TransactionKey,
	reliable bool,
	transport TransportSink,
	tu TUSink,
	timers *TimerService,
	cfg Config,
	log *slog.Logger,
) *ClientNonInviteTransaction {
	tx := &ClientNonInviteTransaction{txCore: newTxCore(key, reliable, transport, tu, timers, cfg, log)}
	tx.setState(StateTrying)

	finalDest := StateCompleted
	if reliable {
		finalDest = StateTerminated
	}

	tx.fsm = stateless.NewStateMachine(StateTrying)

	tx.fsm.Configure(StateTrying).
		InternalTransition(evTimerE, tx.actRetransmitE).
		Permit(evTimerF, StateTerminated).
		Permit(evRecvProvisional, StateProceeding).
		Permit(evRecvFinal, finalDest).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntryFrom(evRecvProvisional, tx.actForwardProvisional).
		InternalTransition(evTimerE, tx.actRetransmitE).
		Permit(evTimerF, StateTerminated).
		InternalTransition(evRecvProvisional, tx.actForwardProvisional).
		Permit(evRecvFinal, finalDest).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntryFrom(evRecvFinal, tx.actCompleted).
		InternalTransition(evRecvFinal, tx.actAbsorbFinal).
		Permit(evTimerK, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(evRecvFinal, tx.actRecvFinalReliable).
		OnEntryFrom(evTimerF, tx.actTimeout).
		OnEntryFrom(evTransportError, tx.actTransportError)

	return tx
}

func (tx *ClientNonInviteTransaction) Machine() Machine { return MachineClientNonInvite }

// start sends the initial request and arms timers E (unreliable only) and
// F, entering Trying.
// This mirrors the dispatcher's creation step (§4.4.3): it runs once, at
// construction, rather than through a fired trigger.
func (tx *ClientNonInviteTransaction) start(ctx context.Context, req Request) error {
	tx.lastSent = req

	if err := tx.send(ctx, req); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}

	if !tx.reliable {
		tx.schedule(ctx, TimerE, tx.cfg.Timings.TimeE())
	}
	tx.schedule(ctx, TimerF, tx.cfg.Timings.TimeF())
	return nil
}

func (tx *ClientNonInviteTransaction) handle(ctx context.Context, ev inboundEvent) error {
	if tx.isDone() {
		tx.logger(ctx).DebugContext(ctx, "dropping event for terminated transaction", "transaction", tx.key)
		return nil
	}

	switch e := ev.(type) {
	case *responseEvent:
		if IsProvisional(e.res.StatusCode()) {
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvProvisional, e.res))
		}
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvFinal, e.res))
	case *timerExpiryEvent:
		switch e.Kind {
		case TimerE:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerE))
		case TimerF:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerF))
		case TimerK:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerK))
		}
		return nil
	case *transportErrorEvent:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, e.Err))
	default:
		return nil
	}
}

func (tx *ClientNonInviteTransaction) actRetransmitE(ctx context.Context, _ ...any) error {
	if err := tx.send(ctx, tx.lastSent); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}

	h := tx.timerHandles[TimerE]
	prev := tx.cfg.Timings.TimeE()
	if h != nil {
		prev = h.timer.Duration()
	}
	tx.schedule(ctx, TimerE, tx.cfg.Timings.NextE(prev))
	return nil
}

func (tx *ClientNonInviteTransaction) actForwardProvisional(ctx context.Context, args ...any) error {
	tx.setState(StateProceeding)
	res, _ := args[0].(Response)
	tx.tu.DeliverResponse(ctx, tx.key, res)
	return nil
}

// actCompleted runs once, on entry into Completed from a final response:
// cancel E and F, deliver the response, and arm timer K.
func (tx *ClientNonInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.cancel(TimerE)
	tx.cancel(TimerF)
	res, _ := args[0].(Response)
	tx.tu.DeliverResponse(ctx, tx.key, res)
	tx.setState(StateCompleted)
	tx.schedule(ctx, TimerK, tx.cfg.Timings.TimeK(tx.reliable))
	return nil
}

// actAbsorbFinal runs for every subsequent final response retransmit while
// already in Completed: silently absorbed, never re-delivered (invariant 3).
func (tx *ClientNonInviteTransaction) actAbsorbFinal(_ context.Context, _ ...any) error {
	return nil
}

// actRecvFinalReliable runs when a final response on a reliable transport
// drives Trying/Proceeding straight to Terminated, skipping Completed.
func (tx *ClientNonInviteTransaction) actRecvFinalReliable(ctx context.Context, args ...any) error {
	tx.cancel(TimerE)
	tx.cancel(TimerF)
	res, _ := args[0].(Response)
	tx.tu.DeliverResponse(ctx, tx.key, res)
	return nil
}

func (tx *ClientNonInviteTransaction) actTimeout(ctx context.Context, _ ...any) error {
	tx.tu.TransactionTimeout(ctx, tx.key)
	return nil
}

func (tx *ClientNonInviteTransaction) actTransportError(ctx context.Context, args ...any) error {
	err, _ := args[0].(error)
	tx.logTransportError(ctx, err)
	tx.tu.TransportFailed(ctx, tx.key, err)
	return nil
}

func (tx *ClientNonInviteTransaction) actTerminated(_ context.Context, _ ...any) error {
	tx.cancelAll()
	tx.setState(StateTerminated)
	tx.markDone()
	return nil
}

// onTransportError fires the FSM's transport-error trigger from outside a
// trigger callback (e.g. from start, or from a retransmit action's own send
// failure).
func (tx *ClientNonInviteTransaction) onTransportError(ctx context.Context, err error) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, err))
}
