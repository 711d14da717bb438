// Package transaction implements the SIP transaction layer as defined in
// RFC 3261 §17: the client INVITE, client non-INVITE, server INVITE, and
// server non-INVITE state machines, retransmission under the §17 timers,
// transaction identity and matching, and a single dispatcher that owns the
// transaction table and drains request, response, timer, and transport
// events through one input queue.
//
// The package depends on nothing but the minimal [Request]/[Response]
// views of a SIP message and the [TransportSink]/[TUSink] seams to the
// layers above and below it; message parsing, transport selection, and
// dialog handling all live outside its scope.
package transaction
