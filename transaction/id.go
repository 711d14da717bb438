package transaction

import (
	"log/slog"
	"strings"

	"braces.dev/errtrace"

	"github.com/gosiptx/txlayer/internal/errorutil"
	txlog "github.com/gosiptx/txlayer/log"
)

// MagicCookie is the RFC 3261 branch prefix that marks a branch parameter as
// globally unique across the whole SIP network. A branch without this
// prefix is a legacy (RFC 2543) branch; §4.6 of the design notes the
// implications for ACK matching, which this module does not special-case
// beyond exposing IsRFC3261Branch for callers that need it.
const MagicCookie = "z9hG4bK"

// IsRFC3261Branch reports whether branch carries the RFC 3261 magic cookie.
func IsRFC3261Branch(branch string) bool {
	return strings.HasPrefix(branch, MagicCookie)
}

// TransactionKey is the transaction identity derived from a SIP message per
// §4.2: branch plus the method that owns the transaction (the INVITE's
// method for both the INVITE itself and its non-2xx ACK).
type TransactionKey struct {
	Branch string
	Method string
}

// IsValid reports whether both fields are populated.
func (k TransactionKey) IsValid() bool {
	return k.Branch != "" && k.Method != ""
}

func (k TransactionKey) String() string {
	return k.Branch + ":" + k.Method
}

// LogValue renders the key as a structured slog value.
func (k TransactionKey) LogValue() slog.Value {
	return txlog.StringValue(k.String()).LogValue()
}

// RequestKey derives the transaction key for an inbound or outbound request.
// An ACK is folded onto its INVITE's key, per §3/§4.2.
func RequestKey(req Request) (TransactionKey, error) {
	branch := req.Branch()
	if branch == "" {
		return TransactionKey{}, errtrace.Wrap(errorutil.NewWrapperError(ErrMessageNotMatched, "request has no branch"))
	}

	method := req.Method()
	if method == "" {
		return TransactionKey{}, errtrace.Wrap(errorutil.NewWrapperError(ErrMessageNotMatched, "request has no method"))
	}
	if method == "ACK" {
		method = "INVITE"
	}

	return TransactionKey{Branch: branch, Method: method}, nil
}

// ResponseKey derives the transaction key for a response, per §4.2: branch
// plus the CSeq method (not the response's own method, which it has none of).
func ResponseKey(res Response) (TransactionKey, error) {
	branch := res.Branch()
	if branch == "" {
		return TransactionKey{}, errtrace.Wrap(errorutil.NewWrapperError(ErrMessageNotMatched, "response has no branch"))
	}

	method := res.CSeqMethod()
	if method == "" {
		return TransactionKey{}, errtrace.Wrap(errorutil.NewWrapperError(ErrMessageNotMatched, "response has no CSeq method"))
	}

	return TransactionKey{Branch: branch, Method: method}, nil
}
