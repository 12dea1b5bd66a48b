// Package xfer exposes the session builder and blocking helpers for
// running single transfers against a remote server.
package xfer

import (
	"github.com/adamwoolhether/xfer/session"
)

// NewSession instantiates a new *Session with the provided options.
// If not specified, http.DefaultTransport and DefaultConfiguration are used.
func NewSession(opts ...session.Option) (*session.Session, error) {
	return session.New(opts...)
}
