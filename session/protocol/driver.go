package protocol

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adamwoolhether/xfer/session/metrics"
	"github.com/adamwoolhether/xfer/session/throttle"
	"github.com/adamwoolhether/xfer/session/workqueue"
)

const (
	defaultMaxWriteSize = 16 << 10 // 16KB
	defaultMaxRedirects = 16
)

// WorkFunc is the signature for a transfer run on the Driver.
type WorkFunc func(ctx context.Context) error

// DriverConfig configures a Driver.
type DriverConfig struct {
	// MaxConcurrent caps running transfers. A paused transfer gives its
	// slot back until it resumes. <= 0 is unlimited.
	MaxConcurrent int
	// Transport is the base HTTP transport. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Jar stores cookies across requests and redirect hops. nil disables
	// cookie handling.
	Jar       http.CookieJar
	Limiter   *throttle.Limiter
	UserAgent string
	// Timeout bounds the wait for response headers. 0 disables it.
	Timeout      time.Duration
	MaxRedirects int
	MaxWriteSize int
	// Exec receives request body readiness callbacks.
	Exec    workqueue.Executor
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Driver owns the goroutines, concurrency slots and HTTP client shared by
// every protocol of a session.
type Driver struct {
	wg       sync.WaitGroup
	sem      *semaphore.Weighted
	shutdown atomic.Bool

	client       *http.Client
	limiter      *throttle.Limiter
	timeout      time.Duration
	maxRedirects int
	maxWriteSize int
	exec         workqueue.Executor
	metrics      *metrics.Collector
	logger       *slog.Logger
}

func NewDriver(cfg DriverConfig) *Driver {
	d := &Driver{
		limiter:      cfg.Limiter,
		timeout:      cfg.Timeout,
		maxRedirects: cfg.MaxRedirects,
		maxWriteSize: cfg.MaxWriteSize,
		exec:         cfg.Exec,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
	if cfg.MaxConcurrent > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if d.maxWriteSize <= 0 {
		d.maxWriteSize = defaultMaxWriteSize
	}
	if d.maxRedirects <= 0 {
		d.maxRedirects = defaultMaxRedirects
	}
	if d.exec == nil {
		d.exec = workqueue.Concurrent{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.UserAgent != "" {
		transport = userAgent{value: cfg.UserAgent, base: transport}
	}
	if cfg.Limiter != nil {
		transport = cfg.Limiter.RoundTripper(transport)
	}

	d.client = &http.Client{
		Transport: transport,
		Jar:       cfg.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return d
}

// Wait blocks until every started transfer has returned.
func (d *Driver) Wait() {
	d.wg.Wait()
}

// Shutdown prevents new transfers from starting.
func (d *Driver) Shutdown() {
	d.shutdown.Store(true)
}

// Start runs fn on a new goroutine once a concurrency slot is free. If the
// driver is shut down, or ctx ends while waiting for a slot, fn never runs
// and refused receives the reason instead.
func (d *Driver) Start(ctx context.Context, fn WorkFunc, refused func(error)) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	d.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			close(r.done)
			d.wg.Done()
		}()

		if d.sem != nil {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				r.err = err
				refused(r.err)
				return
			}
			r.held = true
			defer func() {
				if r.held {
					d.sem.Release(1)
				}
			}()
		}

		if d.shutdown.Load() {
			r.err = ErrDriverShutdown
			refused(r.err)
			return
		}

		d.metrics.TransferStarted()
		defer d.metrics.TransferDone()

		r.err = fn(ctx)
	}()

	return r
}

// park hands r's concurrency slot back while wait blocks and takes it
// again before returning. It must be called from r's own goroutine.
func (d *Driver) park(ctx context.Context, r *Run, wait func() error) error {
	if d.sem == nil || r == nil || !r.held {
		return wait()
	}

	d.sem.Release(1)
	r.held = false

	if err := wait(); err != nil {
		return err
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	r.held = true

	return nil
}

// Run represents an in-flight or completed transfer.
type Run struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	// held is only touched by the transfer's goroutine.
	held bool
}

// Done returns a channel that is closed when the transfer returns.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err blocks until the transfer returns and reports its error.
func (r *Run) Err() error {
	<-r.done
	return r.err
}

// Cancel cancels the transfer's context.
func (r *Run) Cancel() {
	r.cancel()
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
