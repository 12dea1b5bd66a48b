// Package throttle rate-limits outbound transfers using a token-bucket
// algorithm from [golang.org/x/time/rate].
//
// # Usage
//
// A [Limiter] is shared by every protocol a session runs. HTTP loads go
// through [Limiter.RoundTripper]:
//
//	l, err := throttle.New(
//		10, // transfers per second
//		5,  // burst capacity
//		func() *slog.Logger { return slog.Default() },
//	)
//	httpClient := &http.Client{Transport: l.RoundTripper(http.DefaultTransport)}
//
// Protocols without a RoundTripper, such as FTP, call [Limiter.Wait] before
// dialing.
//
// When the rate limit is exceeded, transfers block until a token becomes
// available or the context is cancelled. A nil *Limiter never blocks.
package throttle
