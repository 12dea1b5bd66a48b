package session

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/xfer/session/body"
	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/cookie"
	"github.com/adamwoolhether/xfer/session/credential"
	"github.com/adamwoolhether/xfer/session/download"
	"github.com/adamwoolhether/xfer/session/metrics"
	"github.com/adamwoolhether/xfer/session/protocol"
	"github.com/adamwoolhether/xfer/session/throttle"
	"github.com/adamwoolhether/xfer/session/workqueue"
)

var sessionCounter atomic.Int32

// Session creates and runs transfer tasks that share configuration,
// connections and delegate.
type Session struct {
	id       int32
	instance uuid.UUID
	cfg      Configuration
	logger   *slog.Logger

	// work serializes task state changes and owns the registry.
	work          *workqueue.Serial
	delegateQueue workqueue.Executor
	delegate      any
	registry      *taskRegistry

	driver      *protocol.Driver
	factories   []protocol.Factory
	cache       cache.Storage
	credentials credential.Storage
	cookies     http.CookieJar
	metrics     *metrics.Collector
	tracer      trace.Tracer

	nextTaskID  atomic.Int64
	invalidated atomic.Bool
}

// New returns a Session configured by optFns.
func New(optFns ...Option) (*Session, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	cfg := DefaultConfiguration()
	if opts.cfg != nil {
		cfg = *opts.cfg
	}
	if opts.timeout != nil {
		cfg.Timeout = Duration{*opts.timeout}
	}
	if opts.userAgent != "" {
		cfg.UserAgent = opts.userAgent
	}
	if opts.throttle != nil {
		cfg.Throttle = opts.throttle
	}
	if opts.maxConcurrent != nil {
		cfg.MaxConcurrentTransfers = *opts.maxConcurrent
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:            sessionCounter.Add(1),
		instance:      uuid.New(),
		cfg:           cfg,
		logger:        slog.Default(),
		work:          workqueue.NewSerial(),
		delegateQueue: workqueue.NewSerial(),
		delegate:      opts.delegate,
		registry:      newTaskRegistry(),
		cache:         opts.cache,
		credentials:   opts.credentials,
		metrics:       metrics.New(),
	}
	if opts.logger != nil {
		s.logger = opts.logger
	}
	s.logger = s.logger.With("session", s.instance.String())
	if opts.delegateQueue != nil {
		s.delegateQueue = opts.delegateQueue
	}
	if cfg.ShouldSetCookies {
		s.cookies = opts.cookies
		if s.cookies == nil {
			s.cookies = cookie.NewJar()
		}
	}
	if s.cache == nil && cfg.Cache != nil {
		s.cache = cache.NewMemory(cfg.Cache.Capacity)
	}

	if opts.registerer != nil {
		if err := s.metrics.Register(opts.registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	tp := opts.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer("github.com/adamwoolhether/xfer/session")

	var limiter *throttle.Limiter
	if cfg.Throttle != nil {
		l, err := throttle.New(cfg.Throttle.RPS, cfg.Throttle.Burst, func() *slog.Logger { return s.logger })
		if err != nil {
			return nil, fmt.Errorf("creating throttle: %w", err)
		}
		limiter = l
	}

	s.driver = protocol.NewDriver(protocol.DriverConfig{
		MaxConcurrent: cfg.MaxConcurrentTransfers,
		Transport:     opts.transport,
		Jar:           s.cookies,
		Limiter:       limiter,
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.Timeout.Duration,
		MaxRedirects:  cfg.MaxRedirects,
		MaxWriteSize:  cfg.MaxWriteSize,
		Exec:          s.work,
		Metrics:       s.metrics,
		Logger:        s.logger,
	})

	s.factories = append(slices.Clone(opts.factories),
		protocol.HTTPFactory{Driver: s.driver},
		protocol.FTPFactory{Driver: s.driver},
	)

	s.logger.Debug("session created", "id", s.id)

	return s, nil
}

// ID is the process-wide sequence number of the session.
func (s *Session) ID() int32 { return s.id }

func (s *Session) Configuration() Configuration { return s.cfg }

func (s *Session) Delegate() any { return s.delegate }

// -------------------------------------------------------------------------
// Task factories

// DataTask returns a task loading req into memory and reporting to the
// session delegate.
func (s *Session) DataTask(req *http.Request) *Task {
	r, b := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindData, req: r, body: b, behavior: behavior{kind: callDelegate}})
}

// DataTaskURL is DataTask for a GET of u.
func (s *Session) DataTaskURL(u *url.URL) *Task {
	return s.DataTask(getRequest(u))
}

// DataTaskWithCompletion returns a task that passes the response body to fn.
func (s *Session) DataTaskWithCompletion(req *http.Request, fn DataCompletion) *Task {
	r, b := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindData, req: r, body: b, behavior: behavior{kind: dataCompletion, data: fn}})
}

// UploadTaskData returns a task sending data as the body of req.
func (s *Session) UploadTaskData(req *http.Request, data []byte) *Task {
	r, _ := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindUpload, req: r, body: body.Data(data), behavior: behavior{kind: callDelegate}})
}

func (s *Session) UploadTaskDataWithCompletion(req *http.Request, data []byte, fn DataCompletion) *Task {
	r, _ := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindUpload, req: r, body: body.Data(data), behavior: behavior{kind: dataCompletion, data: fn}})
}

// UploadTaskFile returns a task sending the file at path as the body of req.
func (s *Session) UploadTaskFile(req *http.Request, path string) *Task {
	r, _ := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindUpload, req: r, body: body.File(path), behavior: behavior{kind: callDelegate}})
}

func (s *Session) UploadTaskFileWithCompletion(req *http.Request, path string, fn DataCompletion) *Task {
	r, _ := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindUpload, req: r, body: body.File(path), behavior: behavior{kind: dataCompletion, data: fn}})
}

// UploadTaskStream returns a task sending r as the body of req. rewind, if
// not nil, reopens the stream when a redirect or retry must send it again.
func (s *Session) UploadTaskStream(req *http.Request, r io.Reader, rewind func() (io.ReadCloser, error)) *Task {
	cr, _ := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindUpload, req: cr, body: body.Stream(r, rewind), behavior: behavior{kind: callDelegate}})
}

func (s *Session) UploadTaskStreamWithCompletion(req *http.Request, r io.Reader, rewind func() (io.ReadCloser, error), fn DataCompletion) *Task {
	cr, _ := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindUpload, req: cr, body: body.Stream(r, rewind), behavior: behavior{kind: dataCompletion, data: fn}})
}

// DownloadTask returns a task writing the response body to a file and
// reporting to the session delegate.
func (s *Session) DownloadTask(req *http.Request, optFns ...download.Option) (*Task, error) {
	plan, err := download.NewPlan(s.logger, optFns...)
	if err != nil {
		return nil, err
	}
	r, b := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindDownload, req: r, body: b, behavior: behavior{kind: callDelegate}, plan: plan}), nil
}

// DownloadTaskURL is DownloadTask for a GET of u.
func (s *Session) DownloadTaskURL(u *url.URL, optFns ...download.Option) (*Task, error) {
	return s.DownloadTask(getRequest(u), optFns...)
}

// DownloadTaskWithCompletion returns a task that passes the downloaded
// file to fn.
func (s *Session) DownloadTaskWithCompletion(req *http.Request, fn DownloadCompletion, optFns ...download.Option) (*Task, error) {
	plan, err := download.NewPlan(s.logger, optFns...)
	if err != nil {
		return nil, err
	}
	r, b := s.configuredRequest(req)
	return s.newTask(taskParams{kind: KindDownload, req: r, body: b, behavior: behavior{kind: downloadCompletion, download: fn}, plan: plan}), nil
}

// DownloadTaskWithResumeData returns a task that fails with
// CodeUnsupportedURL when resumed. Continuing downloads is not supported.
func (s *Session) DownloadTaskWithResumeData(resumeData []byte, fn DownloadCompletion) *Task {
	plan, _ := download.NewPlan(s.logger)

	bh := behavior{kind: callDelegate}
	if fn != nil {
		bh = behavior{kind: downloadCompletion, download: fn}
	}

	t := s.newTask(taskParams{
		kind:     KindDownload,
		req:      &http.Request{Method: http.MethodGet, URL: &url.URL{}, Header: make(http.Header)},
		body:     body.None(),
		behavior: bh,
		plan:     plan,
		invalid:  true,
	})
	t.logger.Debug("resume data ignored", "size", len(resumeData))

	return t
}

// taskParams is everything a task factory decides about a new task.
type taskParams struct {
	kind     Kind
	req      *http.Request
	body     body.Body
	behavior behavior
	plan     *download.Plan
	// invalid tasks have no loadable URL and fail when resumed.
	invalid bool
}

// newTask is the single path through which tasks are created and
// registered.
func (s *Session) newTask(params taskParams) *Task {
	if s.invalidated.Load() {
		panic("session: task created on an invalidated session")
	}
	if !params.invalid && !s.canInit(params.req) {
		panic(fmt.Sprintf("session: no protocol can load %s", params.req.URL.Redacted()))
	}

	t := newTask(s, params.kind, int(s.nextTaskID.Add(1)), params.req, params.body)
	t.plan = params.plan
	t.invalid = params.invalid
	t.collect = params.behavior.kind == dataCompletion || (s.cache != nil && params.kind == KindData)
	s.register(t, params.behavior)

	return t
}

func (s *Session) register(t *Task, b behavior) {
	s.metrics.TaskCreated(t.kind.String())
	s.work.Async(func() {
		s.registry.add(t, b)
	})
}

func (s *Session) canInit(req *http.Request) bool {
	for _, f := range s.factories {
		if f.CanInit(req) {
			return true
		}
	}
	return false
}

// configuredRequest copies req with the configured headers added and
// its body moved into a descriptor.
func (s *Session) configuredRequest(req *http.Request) (*http.Request, body.Body) {
	if req == nil || req.URL == nil {
		panic("session: task created without a request URL")
	}

	r := req.Clone(req.Context())
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	for k, v := range s.cfg.AdditionalHeaders {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}

	b := body.None()
	if req.Body != nil && req.Body != http.NoBody {
		b = body.Stream(req.Body, req.GetBody)
	}
	r.Body, r.GetBody = nil, nil

	return r, b
}

func getRequest(u *url.URL) *http.Request {
	return &http.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: make(http.Header),
		Host:   u.Host,
	}
}

// -------------------------------------------------------------------------
// Task enumeration

// AllTasks passes fn every task that is running or was resumed and is
// now suspended. fn runs on the delegate queue.
func (s *Session) AllTasks(fn func([]*Task)) {
	s.work.Async(func() {
		tasks := s.liveTasks()
		s.delegateQueue.Async(func() {
			fn(tasks)
		})
	})
}

// Tasks is AllTasks split by kind.
func (s *Session) Tasks(fn func(data, upload, download []*Task)) {
	s.work.Async(func() {
		var data, upload, dl []*Task
		for _, t := range s.liveTasks() {
			switch t.kind {
			case KindData:
				data = append(data, t)
			case KindUpload:
				upload = append(upload, t)
			case KindDownload:
				dl = append(dl, t)
			}
		}
		s.delegateQueue.Async(func() {
			fn(data, upload, dl)
		})
	})
}

// liveTasks must run on the work queue.
func (s *Session) liveTasks() []*Task {
	var out []*Task
	for _, t := range s.registry.allTasks() {
		t.mu.Lock()
		live := t.state == StateRunning || (t.state == StateSuspended && t.resumed)
		t.mu.Unlock()
		if live {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *Task) int { return a.id - b.id })
	return out
}

// -------------------------------------------------------------------------
// Invalidation

// FinishTasksAndInvalidate lets existing tasks run to completion, then
// tells the SessionDelegate the session is invalid. No tasks may be
// created afterwards.
func (s *Session) FinishTasksAndInvalidate() {
	s.work.Async(func() {
		if !s.invalidated.CompareAndSwap(false, true) {
			return
		}
		s.driverShutdownWhenIdle()
	})
}

// InvalidateAndCancel cancels every task and invalidates the session.
func (s *Session) InvalidateAndCancel() {
	var tasks []*Task
	s.work.Sync(func() {
		if !s.invalidated.CompareAndSwap(false, true) {
			return
		}
		tasks = s.registry.allTasks()
		s.driverShutdownWhenIdle()
	})

	for _, t := range tasks {
		t.Cancel()
	}
}

// driverShutdownWhenIdle must run on the work queue.
func (s *Session) driverShutdownWhenIdle() {
	done := func() {
		s.driver.Shutdown()
		s.logger.Info("session invalidated")
		if sd, ok := s.delegate.(SessionDelegate); ok {
			s.delegateQueue.Async(func() {
				sd.DidBecomeInvalid(s, nil)
			})
		}
	}

	if s.registry.isEmpty() {
		done()
		return
	}
	s.registry.notify(done)
}

// Reset empties the cache, the credential storage and the cookie jar, then
// calls fn on the delegate queue.
func (s *Session) Reset(fn func()) {
	s.work.Async(func() {
		if s.cache != nil {
			s.cache.RemoveAll()
		}
		if s.credentials != nil {
			s.credentials.RemoveAll()
		}
		if j, ok := s.cookies.(interface{ RemoveAll() }); ok {
			j.RemoveAll()
		}
		s.delegateQueue.Async(fn)
	})
}

// Flush calls fn on the delegate queue once pending session work is done.
// Nothing is persisted, so there is nothing else to write out.
func (s *Session) Flush(fn func()) {
	s.work.Async(func() {
		s.delegateQueue.Async(fn)
	})
}
