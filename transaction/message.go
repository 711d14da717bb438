package transaction

// Request is the minimal view of a SIP request the transaction layer needs.
// The full message model — parsing, headers, URIs — lives outside this
// module's scope (§1); a host's message type only needs to satisfy this and
// [Response] to be driven through a transaction.
type Request interface {
	// Method returns the request method, e.g. "INVITE", "ACK", "BYE".
	Method() string
	// Branch returns the topmost Via header's branch parameter.
	Branch() string
}

// Response is the minimal view of a SIP response the transaction layer needs.
type Response interface {
	// StatusCode returns the numeric status code, e.g. 180, 200, 486.
	StatusCode() int
	// CSeqMethod returns the method named in the CSeq header.
	CSeqMethod() string
	// Branch returns the topmost Via header's branch parameter.
	Branch() string
}

// IsProvisional reports whether code is a 1xx provisional response.
func IsProvisional(code int) bool { return code >= 100 && code < 200 }

// IsSuccess reports whether code is a 2xx success response.
//
// The source this module is grounded on computed this by comparing the code
// to 200 and then testing the boolean result against >= 200, which is
// never true for any response (a boolean is 0 or 1) and therefore classified
// no response as success. The correct predicate, used here, is
// 200 <= code < 300.
func IsSuccess(code int) bool { return code >= 200 && code < 300 }

// IsFailure reports whether code is a 3xx-6xx failure response.
func IsFailure(code int) bool { return code >= 300 }

// IsFinal reports whether code is a final (non-provisional) response.
func IsFinal(code int) bool { return code >= 200 }
