package transaction

// StrayPolicy decides what happens to a response whose transaction id
// matches no entry in the table (§4.6). It is a small value type rather
// than a hardcoded branch in the dispatcher so tests (and hosts) can swap
// behavior without reaching into dispatcher internals.
type StrayPolicy struct {
	discard bool
}

// NewStrayPolicy builds a policy that discards stray responses when
// discard is true, or forwards them to the TU unmodified when false.
func NewStrayPolicy(discard bool) StrayPolicy {
	return StrayPolicy{discard: discard}
}

// Admit reports whether a stray response should be forwarded to the TU.
func (p StrayPolicy) Admit() bool {
	return !p.discard
}
