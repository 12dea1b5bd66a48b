// Package transfer holds the per-attempt state of a single load: the header
// block being parsed, the response built from it, where body bytes go and
// the request body source still being sent.
//
// [State] is a value type. Every Append method returns a new State and the
// previous value stays valid, so a protocol can keep the last good state
// when a line fails to parse.
package transfer
