package transaction

import "github.com/gosiptx/txlayer/internal/errorutil"

// Sentinel errors surfaced by this module. Compare with errors.Is.
const (
	// ErrTransactionNotFound is returned when an operation names a
	// transaction key absent from the table.
	ErrTransactionNotFound errorutil.Error = "transaction: not found"
	// ErrMessageNotMatched is returned when a message cannot be assigned a
	// transaction id (§4.2); the dispatcher drops such messages silently
	// after logging, per §7.
	ErrMessageNotMatched errorutil.Error = "transaction: message could not be matched to a transaction id"
	// ErrDispatcherClosed is returned by Dispatcher methods once Close has
	// been called.
	ErrDispatcherClosed errorutil.Error = "transaction: dispatcher closed"
	// ErrUnknownTimerKind is returned when a TimerKind outside the set
	// defined by §4.1 is scheduled.
	ErrUnknownTimerKind errorutil.Error = "transaction: unknown timer kind"
	// ErrInvalidArgument is returned when a constructor or sink call
	// receives an argument that violates this module's preconditions, such
	// as a nil AckBuilder/TryingBuilder used to build an INVITE transaction.
	ErrInvalidArgument errorutil.Error = "transaction: invalid argument"
)
