package transaction

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"
)

const (
	evTimerJ     = "timer_j"
	evSendFinal  = "send_final"
)

// ServerNonInviteTransaction implements the server non-INVITE FSM (§4.5.3,
// RFC 3261 §17.2.2): Trying -> Proceeding -> Completed -> Terminated.
type ServerNonInviteTransaction struct {
	txCore
	fsm *stateless.StateMachine

	lastResponse Response
}

func newServerNonInviteTransaction(
	key TransactionKey,
	reliable bool,
	transport TransportSink,
	tu TUSink,
	timers *TimerService,
	cfg Config,
	log *slog.Logger,
) *ServerNonInviteTransaction {
	tx := &ServerNonInviteTransaction{txCore: newTxCore(key, reliable, transport, tu, timers, cfg, log)}
	tx.setState(StateTrying)

	finalDest := StateCompleted
	if reliable {
		finalDest = StateTerminated
	}

	tx.fsm = stateless.NewStateMachine(StateTrying)

	tx.fsm.Configure(StateTrying).
		InternalTransition(evRecvRequest, tx.actAbsorbRequest).
		Permit(evSendProvisional, StateProceeding).
		Permit(evSendFinal, finalDest).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntryFrom(evSendProvisional, tx.actSendProvisional).
		InternalTransition(evSendProvisional, tx.actSendProvisional).
		InternalTransition(evRecvRequest, tx.actResendLast).
		Permit(evSendFinal, finalDest).
		Permit(evTransportError, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntryFrom(evSendFinal, tx.actCompleted).
		InternalTransition(evRecvRequest, tx.actResendLast).
		Permit(evTimerJ, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(evSendFinal, tx.actSentFinalReliable).
		OnEntryFrom(evTransportError, tx.actTransportError)

	return tx
}

func (tx *ServerNonInviteTransaction) Machine() Machine { return MachineServerNonInvite }

// start records nothing and sends nothing; the triggering request has
// already been matched to this id and is delivered to the TU by the
// dispatcher that created this transaction.
func (tx *ServerNonInviteTransaction) start(_ context.Context, _ Request) error { return nil }

func (tx *ServerNonInviteTransaction) handle(ctx context.Context, ev inboundEvent) error {
	if tx.isDone() {
		tx.logger(ctx).DebugContext(ctx, "dropping event for terminated transaction", "transaction", tx.key)
		return nil
	}

	switch e := ev.(type) {
	case *requestEvent:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evRecvRequest, e.req))
	case *responseEvent:
		if IsProvisional(e.res.StatusCode()) {
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evSendProvisional, e.res))
		}
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evSendFinal, e.res))
	case *timerExpiryEvent:
		if e.Kind == TimerJ {
			return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTimerJ))
		}
		return nil
	case *transportErrorEvent:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, e.Err))
	default:
		return nil
	}
}

func (tx *ServerNonInviteTransaction) actAbsorbRequest(_ context.Context, _ ...any) error {
	return nil
}

func (tx *ServerNonInviteTransaction) actSendProvisional(ctx context.Context, args ...any) error {
	tx.setState(StateProceeding)
	res, _ := args[0].(Response)
	tx.lastResponse = res
	return errtrace.Wrap(tx.send(ctx, res))
}

func (tx *ServerNonInviteTransaction) actResendLast(ctx context.Context, _ ...any) error {
	if tx.lastResponse == nil {
		return nil
	}
	return errtrace.Wrap(tx.send(ctx, tx.lastResponse))
}

// actCompleted runs once entering Completed from a final response on
// unreliable transport: send, arm timer J.
func (tx *ServerNonInviteTransaction) actCompleted(ctx context.Context, args ...any) error {
	res, _ := args[0].(Response)
	tx.lastResponse = res
	if err := tx.send(ctx, res); err != nil {
		return errtrace.Wrap(tx.onTransportError(ctx, err))
	}
	tx.setState(StateCompleted)
	tx.schedule(ctx, TimerJ, tx.cfg.Timings.TimeJ(tx.reliable))
	return nil
}

// actSentFinalReliable runs when a final response is sent on a reliable
// transport, driving Trying/Proceeding straight to Terminated.
func (tx *ServerNonInviteTransaction) actSentFinalReliable(ctx context.Context, args ...any) error {
	res, _ := args[0].(Response)
	tx.lastResponse = res
	return errtrace.Wrap(tx.send(ctx, res))
}

func (tx *ServerNonInviteTransaction) actTransportError(ctx context.Context, args ...any) error {
	err, _ := args[0].(error)
	tx.logTransportError(ctx, err)
	tx.tu.TransportFailed(ctx, tx.key, err)
	return nil
}

func (tx *ServerNonInviteTransaction) actTerminated(_ context.Context, _ ...any) error {
	tx.cancelAll()
	tx.setState(StateTerminated)
	tx.markDone()
	return nil
}

func (tx *ServerNonInviteTransaction) onTransportError(ctx context.Context, err error) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, evTransportError, err))
}
