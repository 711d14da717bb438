package transaction

import (
	"context"

	txlog "github.com/gosiptx/txlayer/log"
)

// staleTransaction implements the Stale absorbing state (§4.6). When a real
// transaction reaches Terminated on an unreliable transport, the dispatcher
// replaces its table entry with one of these for one T4 interval, so a late
// ACK or retransmit bearing the same id is silently discarded instead of
// resurrecting a fresh transaction under a key the table still remembers
// (invariant 2: no transitions after destruction).
type staleTransaction struct {
	key   TransactionKey
	state State
	done  chan struct{}
}

func newStaleTransaction(ctx context.Context, key TransactionKey, timers *TimerService, cfg Config) *staleTransaction {
	tx := &staleTransaction{key: key, state: StateStale, done: make(chan struct{})}
	if _, err := timers.Schedule(key, TimerStale, cfg.Timings.StaleDuration()); err != nil {
		txlog.LoggerFromValues(ctx).ErrorContext(ctx, "failed to schedule stale timer", "transaction", key, "error", err)
	}
	return tx
}

func (tx *staleTransaction) Key() TransactionKey    { return tx.key }
func (tx *staleTransaction) Machine() Machine       { return MachineStale }
func (tx *staleTransaction) State() State           { return tx.state }
func (tx *staleTransaction) Reliable() bool         { return true }
func (tx *staleTransaction) Done() <-chan struct{}  { return tx.done }

// handle absorbs every event it is given. Only its own Stale timer produces
// a visible transition, into Terminated, so the dispatcher can finally
// drop it from the table.
func (tx *staleTransaction) handle(_ context.Context, ev inboundEvent) error {
	te, ok := ev.(*timerExpiryEvent)
	if ok && te.Key == tx.key && te.Kind == TimerStale {
		tx.state = StateTerminated
		select {
		case <-tx.done:
		default:
			close(tx.done)
		}
	}
	return nil
}
