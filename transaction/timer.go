package transaction

import (
	"time"

	"braces.dev/errtrace"

	"github.com/gosiptx/txlayer/internal/errorutil"
	"github.com/gosiptx/txlayer/internal/timeutil"
)

// TimerKind names one of the RFC 3261 §17 timers, or the local Trying
// extension (§4.1).
type TimerKind string

const (
	TimerA      TimerKind = "A"
	TimerB      TimerKind = "B"
	TimerD      TimerKind = "D"
	TimerE      TimerKind = "E"
	TimerF      TimerKind = "F"
	TimerG      TimerKind = "G"
	TimerH      TimerKind = "H"
	TimerI      TimerKind = "I"
	TimerJ      TimerKind = "J"
	TimerK      TimerKind = "K"
	TimerTrying TimerKind = "Trying"
	// TimerStale drives the Stale absorbing state (§4.6): one T4 interval
	// after a transaction terminates on an unreliable transport.
	TimerStale TimerKind = "Stale"
)

func (k TimerKind) valid() bool {
	switch k {
	case TimerA, TimerB, TimerD, TimerE, TimerF, TimerG, TimerH, TimerI, TimerJ, TimerK, TimerTrying, TimerStale:
		return true
	default:
		return false
	}
}

// TimerHandle references a single scheduled timer. Cancel is best-effort:
// per §4.1, a delivery already placed on the dispatcher's input queue may
// still arrive after Cancel returns, and FSM handlers must tolerate it by
// validating the transaction's current state (§5, invariant 2).
type TimerHandle struct {
	timer *timeutil.SerializableTimer
}

// Cancel stops the timer if it has not already fired.
func (h *TimerHandle) Cancel() {
	if h == nil || h.timer == nil {
		return
	}
	h.timer.Stop()
}

// TimerService schedules the one-shot timers transactions need (§4.1). On
// fire it enqueues a timerExpiryEvent onto the dispatcher's input queue
// rather than mutating FSM state directly, so that a fired timer is
// serialized through the same FIFO queue as transport and TU messages
// (§4.4, §5 — the dispatcher, not the timer goroutine, owns the table).
type TimerService struct {
	enqueue func(inboundEvent)
}

// NewTimerService creates a TimerService that delivers expiries to enqueue.
func NewTimerService(enqueue func(inboundEvent)) *TimerService {
	return &TimerService{enqueue: enqueue}
}

// Schedule starts a one-shot timer for key/kind that fires after d. A
// non-positive d is a no-op returning a nil-safe handle (used by callers to
// represent a suppressed timer on reliable transport, per invariant 4,
// without branching at every call site). kind must be one of the constants
// declared above; anything else is ErrUnknownTimerKind (§4.1).
func (s *TimerService) Schedule(key TransactionKey, kind TimerKind, d time.Duration) (*TimerHandle, error) {
	if !kind.valid() {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrUnknownTimerKind, string(kind)))
	}
	if d <= 0 {
		return nil, nil
	}

	h := &TimerHandle{}
	h.timer = timeutil.AfterFunc(d, func() {
		s.enqueue(&timerExpiryEvent{Key: key, Kind: kind})
	})
	return h, nil
}
