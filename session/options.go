package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/credential"
	"github.com/adamwoolhether/xfer/session/protocol"
	"github.com/adamwoolhether/xfer/session/throttle"
	"github.com/adamwoolhether/xfer/session/workqueue"
)

// Option is a functional option for configuring a [Session] via [New].
type Option func(*options) error
type options struct {
	cfg            *Configuration
	logger         *slog.Logger
	delegate       any
	delegateQueue  workqueue.Executor
	cache          cache.Storage
	credentials    credential.Storage
	transport      http.RoundTripper
	cookies        http.CookieJar
	timeout        *time.Duration
	userAgent      string
	throttle       *throttle.Config
	maxConcurrent  *int
	factories      []protocol.Factory
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
}

// WithConfiguration replaces DefaultConfiguration. Options applied after
// it override its fields.
func WithConfiguration(cfg Configuration) Option {
	return func(o *options) error {
		o.cfg = &cfg
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for session logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithDelegate sets the value notified of task events. It may implement
// any of the delegate interfaces in this package.
func WithDelegate(d any) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("delegate must not be nil")
		}
		o.delegate = d
		return nil
	}
}

// WithDelegateQueue sets where delegate methods and completion funcs run.
// The default runs them one at a time in order.
func WithDelegateQueue(e workqueue.Executor) Option {
	return func(o *options) error {
		if e == nil {
			return errors.New("delegate queue must not be nil")
		}
		o.delegateQueue = e
		return nil
	}
}

// WithCache sets the response cache, overriding the cache configuration.
func WithCache(c cache.Storage) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("cache must not be nil")
		}
		o.cache = c
		return nil
	}
}

// WithCredentialStorage sets where credentials for 401 challenges are
// looked up and stored.
func WithCredentialStorage(c credential.Storage) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("credential storage must not be nil")
		}
		o.credentials = c
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.transport = rt
		return nil
	}
}

// WithTimeout bounds the wait for response headers.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		o.timeout = &d
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting of transfer starts with
// the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithCookieJar replaces the session's in-memory cookie jar. Reset empties
// jars that have a RemoveAll method.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o *options) error {
		if jar == nil {
			return errors.New("cookie jar must not be nil")
		}
		o.cookies = jar
		return nil
	}
}

// WithMaxConcurrentTransfers caps the transfers loading at once. A transfer
// paused by Suspend frees its slot until it is resumed. 0 means no limit.
func WithMaxConcurrentTransfers(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("max concurrent transfers must not be negative")
		}
		o.maxConcurrent = &n
		return nil
	}
}

// WithProtocols registers additional protocol factories. They are asked
// before the built-in HTTP and FTP ones.
func WithProtocols(f ...protocol.Factory) Option {
	return func(o *options) error {
		for _, fac := range f {
			if fac == nil {
				return errors.New("protocol factory must not be nil")
			}
		}
		o.factories = append(o.factories, f...)
		return nil
	}
}

// WithMetrics registers the session's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		if reg == nil {
			return errors.New("registerer must not be nil")
		}
		o.registerer = reg
		return nil
	}
}

// WithTracerProvider sets the provider of task spans. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) error {
		if tp == nil {
			return errors.New("tracer provider must not be nil")
		}
		o.tracerProvider = tp
		return nil
	}
}
