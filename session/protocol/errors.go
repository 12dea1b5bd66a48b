package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"os"

	"github.com/adamwoolhether/xfer/session/body"
	"github.com/adamwoolhether/xfer/session/header"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// Code classifies why a task failed.
type Code int

const (
	CodeUnknown                     Code = -1
	CodeCancelled                   Code = -999
	CodeBadURL                      Code = -1000
	CodeTimedOut                    Code = -1001
	CodeUnsupportedURL              Code = -1002
	CodeCannotFindHost              Code = -1003
	CodeCannotConnectToHost         Code = -1004
	CodeNetworkConnectionLost       Code = -1005
	CodeHTTPTooManyRedirects        Code = -1007
	CodeResourceUnavailable         Code = -1008
	CodeBadServerResponse           Code = -1011
	CodeUserCancelledAuthentication Code = -1012
	CodeUserAuthenticationRequired  Code = -1013
	CodeRequestBodyStreamExhausted  Code = -1021
	CodeFileDoesNotExist            Code = -1100
	CodeNoPermissionsToReadFile     Code = -1102
	CodeCannotCreateFile            Code = -3000
	CodeCannotWriteToFile           Code = -3003
	CodeDownloadDecodingFailed      Code = -3007
)

var codeNames = map[Code]string{
	CodeUnknown:                     "unknown",
	CodeCancelled:                   "cancelled",
	CodeBadURL:                      "bad URL",
	CodeTimedOut:                    "timed out",
	CodeUnsupportedURL:              "unsupported URL",
	CodeCannotFindHost:              "cannot find host",
	CodeCannotConnectToHost:         "cannot connect to host",
	CodeNetworkConnectionLost:       "network connection lost",
	CodeHTTPTooManyRedirects:        "too many redirects",
	CodeResourceUnavailable:         "resource unavailable",
	CodeBadServerResponse:           "bad server response",
	CodeUserCancelledAuthentication: "user cancelled authentication",
	CodeUserAuthenticationRequired:  "user authentication required",
	CodeRequestBodyStreamExhausted:  "request body stream exhausted",
	CodeFileDoesNotExist:            "file does not exist",
	CodeNoPermissionsToReadFile:     "no permission to read file",
	CodeCannotCreateFile:            "cannot create file",
	CodeCannotWriteToFile:           "cannot write to file",
	CodeDownloadDecodingFailed:      "download verification failed",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

var (
	ErrCancelled          = errors.New("cancelled")
	ErrTimedOut           = errors.New("request timed out")
	ErrTooManyRedirects   = errors.New("stopped after too many redirects")
	ErrUnsupportedURL     = errors.New("no protocol can load this URL")
	ErrDriverShutdown     = errors.New("transfer driver shut down")
	ErrUnsupportedAuth    = errors.New("authentication method not supported")
	ErrResumeDataNotValid = errors.New("resume data is not valid")
)

// Error is the failure reported for a task.
type Error struct {
	Code Code
	URL  *url.URL
	Err  error
}

// NewError wraps err with code. A nil err is replaced by the code name.
func NewError(code Code, u *url.URL, err error) *Error {
	if err == nil {
		err = errors.New(code.String())
	}
	return &Error{Code: code, URL: u, Err: err}
}

func (e *Error) Error() string {
	if e.URL == nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.URL.Redacted(), e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify picks the Code that best describes err.
func Classify(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
		netErr net.Error
		tpErr  *textproto.Error
	)
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return CodeTimedOut
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrTooManyRedirects):
		return CodeHTTPTooManyRedirects
	case errors.Is(err, ErrUnsupportedURL):
		return CodeUnsupportedURL
	case errors.Is(err, header.ErrMalformedLine),
		errors.Is(err, header.ErrInvalidEncoding),
		errors.Is(err, transfer.ErrHeaderCompletion):
		return CodeBadServerResponse
	case errors.Is(err, body.ErrNotRewindable):
		return CodeRequestBodyStreamExhausted
	case errors.Is(err, os.ErrNotExist):
		return CodeFileDoesNotExist
	case errors.Is(err, os.ErrPermission):
		return CodeNoPermissionsToReadFile
	case errors.As(err, &dnsErr):
		return CodeCannotFindHost
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return CodeCannotConnectToHost
	case errors.As(err, &netErr) && netErr.Timeout():
		return CodeTimedOut
	case errors.As(err, &tpErr) && tpErr.Code == 550:
		return CodeResourceUnavailable
	case errors.As(err, &tpErr):
		return CodeBadServerResponse
	case errors.As(err, &opErr), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeNetworkConnectionLost
	default:
		return CodeUnknown
	}
}

// wrap returns err as an *Error, classifying it when needed.
func wrap(u *url.URL, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(Classify(err), u, err)
}
