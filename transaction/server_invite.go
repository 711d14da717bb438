package transaction

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"
)

const (
	evTimerTrying  = "timer_trying"
	evTimerG       = "timer_g"
	evTimerH       = "timer_h"
	evTimerI       = "timer_i"
	evSendProvisional = "send_provisional"
	evSendSuccess  = "send_success"
	evSendFailure  = "send_failure"
	evRecvRequest  = "recv_request"
	evRecvAck      = "recv_ack"
)

// ServerInviteTransaction implements the server INVITE FSM (§4.5.4, RFC
// 3261 §17.2.1): Proceeding -> Completed -> Confirmed -> Terminated. A 2xx
// sent by the TU terminates the transaction immediately; retransmitting 2xx
// responses is the TU's job (RFC 3261 §13.3.1.4), not this layer's (see the
// grounding ledger).
type ServerInviteTransaction struct {
	txCore
	fsm *stateless.StateMachine
	trying TryingBuilder

	invite       Request
	lastResponse Response
}

func newServerInviteTransaction(
	key TransactionKey,
	reliable bool,
	transport TransportSink,
	tu TUSink,
	timers *TimerService,
	trying TryingBuilder,
	cfg Config,
	log *slog.Logger,
) *ServerInviteTransaction {
	tx := &ServerInviteTransaction{txCore: newTxCore(key, reliable, transport, tu, timers, cfg, log), trying: trying}
	tx.setState(StateProceeding)

	failureDest := StateCompleted
	if reliable {
		failureDest = StateTerminated
	}

	tx.fsm = stateless.NewStateMachine(StateProceeding)

	tx.fsm.Configure(StateProceeding).
		InternalTransition(evTimerTrying, tx.actAutoTrying).
		InternalTransition(evSendProvisional, tx.actSendProvisional).
		InternalTransition(evRecvRequest, tx.actResendProvisional).
		Permit(evSendSuccess, StateTerminated).
		Permit(evSendFailure, failureDest).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntryFrom(evSendFailure, tx.actCompleted).
		InternalTransition(evTimerG, tx.actRetransmitG).
		InternalTransition(evRecvRequest, tx.actResendFinal).
		Permit(evRecvAck, StateConfirmed).
		Permit(evTimerH, StateTerminated).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateConfirmed).
		OnEntryFrom(evRecvAck, tx.actConfirmed).
		InternalTransition(evRecvAck, tx.actAbsorb).
		InternalTransition(evRecvRequest, tx.actAbsorb).
		Permit(evTimerI, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(evTimerH, tx.actTimeout).
		OnEntryFrom(evSendSuccess, tx.actSentSuccess).
		OnEntryFrom(evSendFailure, tx.actSentFailureReliable).
		OnEntryFrom(evTransportError, tx.actTransportError)

	return tx
}

func (tx *ServerInviteTransaction) Machine() Machine { return MachineServerInvite }

// start records the triggering INVITE and arms the local send-100 delay;
// it sends nothing itself, leaving the first response to the TU.
func (tx *ServerInviteTransaction) start(ctx context.Context, invite Request) error {
	tx.invite = invite
	tx.schedule(ctx, TimerTrying, tx.cfg.tryingDelay())
	return nil
}

func (tx *ServerInviteTransaction) handle(ctx context.Context, ev inboundEvent) error {
	if tx.isDone() {
		tx.logger(ctx).DebugContext(ctx, "dropping event for terminated transaction", "transaction", tx.key)
		return nil
	}

	switch e := ev.(type) {
	case *requestEvent:
		if e.req.Method() == "ACK" {
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvAck, e.req))
		}
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvRequest, e.req))
	case *responseEvent:
		if IsProvisional(e.res.StatusCode()) {
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evSendProvisional, e.res))
		}
		if IsSuccess(e.res.StatusCode()) {
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evSendSuccess, e.res))
		}
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evSendFailure, e.res))
	case *timerExpiryEvent:
		switch e.Kind {
		case TimerTrying:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerTrying))
		case TimerG:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerG))
		case TimerH:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerH))
		case TimerI:
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerI))
		}
		return nil
	case *transportErrorEvent:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, e.Err))
	default:
		return nil
	}
}

func (tx *ServerInviteTransaction) actAutoTrying(ctx context.Context, _ ...any) error {
	if tx.lastResponse != nil {
		return nil
	}
	res, err := tx.trying.BuildTrying(tx.invite)
	if err != nil {
		return errtrace.Wrap(err)
	}
	tx.lastResponse = res
	return errtrace.Wrap(tx.send(ctx, res))
}

func (tx *ServerInviteTransaction) actSendProvisional(ctx context.Context, args ...any) error {
	tx.cancel(TimerTrying)
	res, _ := args[0].(Response)
	tx.lastResponse = res
	return errtrace.Wrap(tx.send(ctx, res))
}

func (tx *ServerInviteTransaction) actResendProvisional(ctx context.Context, _ ...any) error {
	if tx.lastResponse == nil {
		return nil
	}
	return errtrace.Wrap(tx.send(ctx, tx.lastResponse))
}

// actCompleted runs once entering Completed from a failure final on
// unreliable transport: cancel Trying, send, arm G and H.
func (tx *ServerInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.cancel(TimerTrying)
	res, _ := args[0].(Response)
	tx.lastResponse = res
	if err := tx.send(ctx, res); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}
	tx.setState(StateCompleted)
	tx.schedule(ctx, TimerG, tx.cfg.Timings.TimeG())
	tx.schedule(ctx, TimerH, tx.cfg.Timings.TimeH())
	return nil
}

func (tx *ServerInviteTransaction) actRetransmitG(ctx context.Context, _ ...any) error {
	if err := tx.send(ctx, tx.lastResponse); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}
	h := tx.timerHandles[TimerG]
	prev := tx.cfg.Timings.TimeG()
	if h != nil {
		prev = h.timer.Duration()
	}
	tx.schedule(ctx, TimerG, tx.cfg.Timings.NextG(prev))
	return nil
}

// actResendFinal runs when the original INVITE is retransmitted while in
// Completed: resend the last final response, per RFC 3261 §17.2.1.
func (tx *ServerInviteTransaction) actResendFinal(ctx context.Context, _ ...any) error {
	return errtrace.Wrap(tx.send(ctx, tx.lastResponse))
}

// actConfirmed runs once entering Confirmed from ACK: cancel G and H,
// arm timer I.
func (tx *ServerInviteTransaction) actConfirmed(ctx context.Context, _ ...any) error {
	tx.cancel(TimerG)
	tx.cancel(TimerH)
	tx.setState(StateConfirmed)
	tx.schedule(ctx, TimerI, tx.cfg.Timings.TimeI(tx.reliable))
	return nil
}

func (tx *ServerInviteTransaction) actAbsorb(_ context.Context, _ ...any) error { return nil }

// actSentSuccess sends the TU's 2xx once; the transaction then terminates
// and leaves any retransmission of it to the TU.
func (tx *ServerInviteTransaction) actSentSuccess(ctx context.Context, args ...any) error {
	res, _ := args[0].(Response)
	return errtrace.Wrap(tx.send(ctx, res))
}

// actSentFailureReliable runs when a failure final is sent on a reliable
// transport, driving Proceeding straight to Terminated.
func (tx *ServerInviteTransaction) actSentFailureReliable(ctx context.Context, args ...any) error {
	res, _ := args[0].(Response)
	tx.lastResponse = res
	return errtrace.Wrap(tx.send(ctx, res))
}

func (tx *ServerInviteTransaction) actTimeout(ctx context.Context, _ ...any) error {
	tx.tu.TransactionTimeout(ctx, tx.key)
	return nil
}

func (tx *ServerInviteTransaction) actTransportError(ctx context.Context, args ...any) error {
	err, _ := args[0].(error)
	tx.logTransportError(ctx, err)
	tx.tu.TransportFailed(ctx, tx.key, err)
	return nil
}

func (tx *ServerInviteTransaction) actTerminated(_ context.Context, _ ...any) error {
	tx.cancelAll()
	tx.setState(StateTerminated)
	tx.markDone()
	return nil
}

func (tx *ServerInviteTransaction) onTransportError(ctx context.Context, err error) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, err))
}
