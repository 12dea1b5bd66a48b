package download

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const tempPattern = ".xfer-dl-*"

// Plan carries the resolved options of one download task.
type Plan struct {
	opts     options
	logger   *slog.Logger
	progress *progress
}

// NewPlan applies optFns. A nil logger falls back to slog.Default.
func NewPlan(logger *slog.Logger, optFns ...Option) (*Plan, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	p := &Plan{opts: opts, logger: logger}
	if opts.progress {
		p.progress = &progress{logger: logger, total: -1}
	}

	return p, nil
}

// Destination returns the path the finished file is moved to, if any.
func (p *Plan) Destination() string { return p.opts.destination }

// CreateTemp creates the file an attempt writes into. It is placed next to
// the destination when one is set, so the final rename stays on one
// filesystem, and in dir otherwise.
func (p *Plan) CreateTemp(dir string) (*os.File, error) {
	if p.opts.destination != "" {
		dir = filepath.Dir(p.opts.destination)
	}

	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	return f, nil
}

// Progress records that written bytes out of total have arrived. total is
// -1 when unknown.
func (p *Plan) Progress(written, total int64) {
	if p.progress == nil {
		return
	}
	p.progress.update(written, total)
}

// Finalize validates the completed file at tmpPath against the expected
// length and checksum, then moves it to the destination. It returns the
// file's final location. On error the file is left in place for the
// caller to Discard.
func (p *Plan) Finalize(tmpPath string, expectedLength int64) (string, error) {
	fi, err := os.Stat(tmpPath)
	if err != nil {
		return "", fmt.Errorf("inspecting temp file: %w", err)
	}

	if expectedLength >= 0 && fi.Size() != expectedLength {
		return "", &Error{
			Err:    ErrContentLengthMismatch,
			Detail: fmt.Sprintf("expected %d bytes, got %d", expectedLength, fi.Size()),
		}
	}

	if err := p.opts.checksum.VerifyFile(tmpPath); err != nil {
		return "", err
	}

	if p.opts.destination == "" {
		return tmpPath, nil
	}

	if err := os.Rename(tmpPath, p.opts.destination); err != nil {
		return "", fmt.Errorf("renaming temp file: %w", err)
	}

	return p.opts.destination, nil
}

// Discard removes a temp file left by a failed or abandoned attempt.
func Discard(path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("failed to remove temp file", "path", path, "error", err)
	}
}
