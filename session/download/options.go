package download

import (
	"errors"
	"hash"
)

// Option defines optional settings for download tasks.
// WithChecksum enables checksum validation of the downloaded file.
// h is a hash.Hash instance (e.g. sha256.New()), and expected is the
// hex-encoded expected checksum string.
//
// WithProgress enables periodic download progress logging via the
// logger supplied to NewPlan.
//
// WithDestination moves the finished file to path instead of leaving it
// in the session's temporary directory.
type Option func(*options) error

type options struct {
	checksum    *checksumVerifier
	progress    bool
	destination string
}

func WithChecksum(h hash.Hash, expected string) Option {
	return func(opts *options) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}

		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		opts.checksum = &checksumVerifier{hash: h, expected: expected}
		return nil
	}
}

func WithProgress() Option {
	return func(opts *options) error {
		opts.progress = true
		return nil
	}
}

func WithDestination(path string) Option {
	return func(opts *options) error {
		if path == "" {
			return errors.New("destination must not be empty")
		}

		opts.destination = path
		return nil
	}
}
