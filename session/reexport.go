package session

import (
	"hash"

	"github.com/adamwoolhether/xfer/session/download"
	"github.com/adamwoolhether/xfer/session/protocol"
)

// ---------------------------------------------------------------------
// Type aliases: re-export user-facing types from [protocol] and [download].
// ---------------------------------------------------------------------

type (
	// Error is the terminal error of a failed task.
	Error = protocol.Error

	// Code classifies an Error.
	Code = protocol.Code

	// DownloadOption configures a download task.
	DownloadOption = download.Option

	// DownloadError wraps a sentinel error with additional detail.
	DownloadError = download.Error
)

// ---------------------------------------------------------------------
// Error codes
// ---------------------------------------------------------------------

const (
	CodeUnknown                     = protocol.CodeUnknown
	CodeCancelled                   = protocol.CodeCancelled
	CodeBadURL                      = protocol.CodeBadURL
	CodeTimedOut                    = protocol.CodeTimedOut
	CodeUnsupportedURL              = protocol.CodeUnsupportedURL
	CodeCannotFindHost              = protocol.CodeCannotFindHost
	CodeCannotConnectToHost         = protocol.CodeCannotConnectToHost
	CodeNetworkConnectionLost       = protocol.CodeNetworkConnectionLost
	CodeHTTPTooManyRedirects        = protocol.CodeHTTPTooManyRedirects
	CodeResourceUnavailable         = protocol.CodeResourceUnavailable
	CodeBadServerResponse           = protocol.CodeBadServerResponse
	CodeUserCancelledAuthentication = protocol.CodeUserCancelledAuthentication
	CodeUserAuthenticationRequired  = protocol.CodeUserAuthenticationRequired
	CodeRequestBodyStreamExhausted  = protocol.CodeRequestBodyStreamExhausted
	CodeFileDoesNotExist            = protocol.CodeFileDoesNotExist
	CodeNoPermissionsToReadFile     = protocol.CodeNoPermissionsToReadFile
	CodeCannotCreateFile            = protocol.CodeCannotCreateFile
	CodeCannotWriteToFile           = protocol.CodeCannotWriteToFile
	CodeDownloadDecodingFailed      = protocol.CodeDownloadDecodingFailed
)

// ---------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------

var (
	// ErrCancelled is wrapped by the error of a cancelled task.
	ErrCancelled = protocol.ErrCancelled

	// ErrTimedOut indicates no response headers arrived within the timeout.
	ErrTimedOut = protocol.ErrTimedOut

	// ErrTooManyRedirects indicates the redirect limit was reached.
	ErrTooManyRedirects = protocol.ErrTooManyRedirects

	// ErrUnsupportedURL indicates no protocol could load the task.
	ErrUnsupportedURL = protocol.ErrUnsupportedURL

	// ErrContentLengthMismatch indicates the byte count did not match Content-Length.
	ErrContentLengthMismatch = download.ErrContentLengthMismatch

	// ErrChecksumMismatch indicates the file checksum did not match the expected value.
	ErrChecksumMismatch = download.ErrChecksumMismatch
)

// ErrorCode reports the Code that best describes err.
func ErrorCode(err error) Code { return protocol.Classify(err) }

// ---------------------------------------------------------------------
// Download option forwarding functions
// ---------------------------------------------------------------------

// WithChecksum enables checksum validation of the downloaded file.
// h is a [hash.Hash] instance (e.g. sha256.New()), and expected is the
// hex-encoded expected checksum string.
func WithChecksum(h hash.Hash, expected string) DownloadOption {
	return download.WithChecksum(h, expected)
}

// WithProgress enables periodic download progress logging.
func WithProgress() DownloadOption { return download.WithProgress() }

// WithDestination moves the finished file to path.
func WithDestination(path string) DownloadOption { return download.WithDestination(path) }
