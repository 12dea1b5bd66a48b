// Command xfer downloads a URL over HTTP, HTTPS or FTP to a local file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/adamwoolhether/xfer"
	"github.com/adamwoolhether/xfer/session"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "xfer:", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("xfer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath = fs.String("config", "", "Path to a TOML configuration file")
		output     = fs.String("o", "", "Destination file (defaults to the URL's file name)")
		logFile    = fs.String("log-file", "", "Write logs to this file, rotated by size")
		timeout    = fs.Duration("timeout", 0, "Override the response header timeout")
		userAgent  = fs.String("user-agent", "", "Override the User-Agent header")
		progress   = fs.Bool("progress", false, "Log download progress")
		metrics    = fs.String("metrics-addr", "", "Serve Prometheus metrics on this address while downloading")
		verbose    = fs.Bool("v", false, "Log at debug level")
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: xfer [flags] URL")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one URL is required")
	}

	logger, closeLog := newLogger(*logFile, *verbose, stderr)
	defer closeLog()

	cfg := session.DefaultConfiguration()
	if *configPath != "" {
		c, err := session.LoadConfiguration(*configPath)
		if err != nil {
			return err
		}
		cfg = c
	}

	opts := []session.Option{
		session.WithConfiguration(cfg),
		session.WithLogger(logger),
	}
	if *metrics != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, session.WithMetrics(reg))

		ln, err := net.Listen("tcp", *metrics)
		if err != nil {
			return fmt.Errorf("listening for metrics: %w", err)
		}
		defer serveMetrics(ln, reg, logger)()
	}
	if *timeout > 0 {
		opts = append(opts, session.WithTimeout(*timeout))
	}
	if *userAgent != "" {
		opts = append(opts, session.WithUserAgent(*userAgent))
	}

	s, err := xfer.NewSession(opts...)
	if err != nil {
		return err
	}
	defer s.FinishTasksAndInvalidate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fs.Arg(0), nil)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}

	dest := *output
	if dest == "" {
		dest = filepath.Base(req.URL.Path)
		if dest == "." || dest == "/" {
			dest = "index.html"
		}
	}

	var dlOpts []session.DownloadOption
	if *progress {
		dlOpts = append(dlOpts, session.WithProgress())
	}

	start := time.Now()
	resp, err := xfer.Download(ctx, s, req, dest, dlOpts...)
	if err != nil {
		return err
	}

	logger.Info("saved", "path", dest, "status", resp.StatusCode, "type", resp.MIMEType, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// serveMetrics exposes reg on ln until the returned func is called.
func serveMetrics(ln net.Listener, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// newLogger writes text logs to stderr, or to a rotated file when path is set.
func newLogger(path string, verbose bool, stderr io.Writer) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if path == "" {
		return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})), func() {}
	}

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), func() { _ = w.Close() }
}
