package transaction

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"
)

const (
	evTimerA     = "timer_a"
	evTimerB     = "timer_b"
	evTimerD     = "timer_d"
	evRecvSuccess = "recv_success"
	evRecvFailure = "recv_failure"
)

// ClientInviteTransaction implements the client INVITE FSM (§4.5.2, RFC
// 3261 §17.1.1.2): Calling -> Proceeding -> Completed -> Terminated. A
// success final response terminates the transaction immediately; the
// Accepted state RFC 6026 adds on top of this is deliberately not built
// here (see the grounding ledger).
type ClientInviteTransaction struct {
	txCore
	fsm *stateless.StateMachine
	ack AckBuilder

	invite Request
}

func newClientInviteTransaction(
	key TransactionKey,
	reliable bool,
	transport TransportSink,
	tu TUSink,
	timers *TimerService,
	ack AckBuilder,
	cfg Config,
	log *slog.Logger,
) *ClientInviteTransaction {
	tx := &ClientInviteTransaction{txCore: newTxCore(key, reliable, transport, tu, timers, cfg, log), ack: ack}
	tx.setState(StateCalling)

	failureDest := StateCompleted
	if reliable {
		failureDest = StateTerminated
	}

	tx.fsm = stateless.NewStateMachine(StateCalling)

	tx.fsm.Configure(StateCalling).
		InternalTransition(evTimerA, tx.actRetransmitA).
		Permit(evTimerB, StateTerminated).
		Permit(evRecvProvisional, StateProceeding).
		Permit(evRecvFailure, failureDest).
		Permit(evRecvSuccess, StateTerminated).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntryFrom(evRecvProvisional, tx.actForwardProvisional).
		InternalTransition(evRecvProvisional, tx.actForwardProvisional).
		Permit(evRecvFailure, failureDest).
		Permit(evRecvSuccess, StateTerminated).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntryFrom(evRecvFailure, tx.actCompleted).
		InternalTransition(evRecvFailure, tx.actResendAck).
		Permit(evTimerD, StateTerminated).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(evTimerB, tx.actTimeout).
		OnEntryFrom(evRecvSuccess, tx.actRecvSuccess).
		OnEntryFrom(evRecvFailure, tx.actRecvFailureReliable).
		OnEntryFrom(evTransportError, tx.actTransportError)

	return tx
}

func (tx *ClientInviteTransaction) Machine() Machine { return MachineClientInvite }

// start sends the INVITE and arms timers A (unreliable only) and B,
// entering Calling, per §4.4.3.
func (tx *ClientInviteTransaction) start(ctx context.Context, invite Request) error {
	tx.invite = invite
	tx.lastSent = invite

	if err := tx.send(ctx, invite); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}

	if !tx.reliable {
		tx.schedule(ctx, TimerA, tx.cfg.Timings.TimeA())
	}
	tx.schedule(ctx, TimerB, tx.cfg.Timings.TimeB())
	return nil
}

func (tx *ClientInviteTransaction) handle(ctx context.Context, ev inboundEvent) error {
	if tx.isDone() {
		tx.logger(ctx).DebugContext(ctx, "dropping event for terminated transaction", "transaction", tx.key)
		return nil
	}

	switch e := ev.(type) {
	case *responseEvent:
		code := e.res.StatusCode()
		switch {
		case IsProvisional(code):
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvProvisional, e.res))
		case IsSuccess(code):
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvSuccess, e.res))
		default:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvFailure, e.res))
		}
	case *timerExpiryEvent:
		switch e.Kind {
		case TimerA:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerA))
		case TimerB:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerB))
		case TimerD:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerD))
		}
		return nil
	case *transportErrorEvent:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, e.Err))
	default:
		return nil
	}
}

func (tx *ClientInviteTransaction) actRetransmitA(ctx context.Context, _ ...any) error {
	if err := tx.send(ctx, tx.lastSent); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}

	h := tx.timerHandles[TimerA]
	prev := tx.cfg.Timings.TimeA()
	if h != nil {
		prev = h.timer.Duration()
	}
	tx.schedule(ctx, TimerA, tx.cfg.Timings.NextA(prev))
	return nil
}

func (tx *ClientInviteTransaction) actForwardProvisional(ctx context.Context, args ...any) error {
	if tx.State() == StateCalling {
		tx.cancel(TimerA)
		tx.cancel(TimerB)
	}
	tx.setState(StateProceeding)
	res, _ := args[0].(Response)
	tx.tu.DeliverResponse(ctx, tx.key, res)
	return nil
}

func (tx *ClientInviteTransaction) sendAck(ctx context.Context, final Response) (Request, error) {
	ack, err := tx.ack.BuildAck(tx.invite, final)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.lastSent = ack
	if err := tx.send(ctx, ack); err != nil {
		return ack, errtrace.Wrap(err)
	}
	return ack, nil
}

// actCompleted runs once, entering Completed from a failure final response
// on unreliable transport: cancel A/B, send ACK, forward the response, arm
// timer D.
func (tx *ClientInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.cancel(TimerA)
	tx.cancel(TimerB)

	res, _ := args[0].(Response)
	if _, err := tx.sendAck(ctx, res); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}
	tx.tu.DeliverResponse(ctx, tx.key, res)

	tx.setState(StateCompleted)
	tx.schedule(ctx, TimerD, tx.cfg.Timings.TimeD(tx.reliable))
	return nil
}

// actResendAck runs for every subsequent failure-response retransmit while
// already in Completed: the TU is never re-notified (invariant 3 analog),
// only the ACK is re-sent.
func (tx *ClientInviteTransaction) actResendAck(ctx context.Context, args ...any) error {
	res, _ := args[0].(Response)
	if _, err := tx.sendAck(ctx, res); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}
	return nil
}

// actRecvFailureReliable runs when a failure final on a reliable transport
// drives Calling/Proceeding straight to Terminated: send ACK, forward,
// terminate (RFC permits immediate destruction on reliable transport, §3).
func (tx *ClientInviteTransaction) actRecvFailureReliable(ctx context.Context, args ...any) error {
	res, _ := args[0].(Response)
	if _, err := tx.sendAck(ctx, res); err != nil {
		tx.tu.TransportFailed(ctx, tx.key, err)
		return nil
	}
	tx.tu.DeliverResponse(ctx, tx.key, res)
	return nil
}

func (tx *ClientInviteTransaction) actRecvSuccess(ctx context.Context, args ...any) error {
	res, _ := args[0].(Response)
	tx.tu.DeliverResponse(ctx, tx.key, res)
	return nil
}

func (tx *ClientInviteTransaction) actTimeout(ctx context.Context, _ ...any) error {
	tx.tu.TransactionTimeout(ctx, tx.key)
	return nil
}

func (tx *ClientInviteTransaction) actTransportError(ctx context.Context, args ...any) error {
	err, _ := args[0].(error)
	tx.logTransportError(ctx, err)
	tx.tu.TransportFailed(ctx, tx.key, err)
	return nil
}

func (tx *ClientInviteTransaction) actTerminated(_ context.Context, _ ...any) error {
	tx.cancelAll()
	tx.setState(StateTerminated)
	tx.markDone()
	return nil
}

func (tx *ClientInviteTransaction) onTransportError(ctx context.Context, err error) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, err))
}
