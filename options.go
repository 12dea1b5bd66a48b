package xfer

import (
	"errors"
	"net/http"
)

// FetchOption defines optional settings for Fetch.
//
// WithDecodeTo captures the response body into the given template, which
// MUST be a pointer.
// WithJSONNumber tells the decoder to use decoder.UseNumber().
type FetchOption func(options *fetchOpts) error

type fetchOpts struct {
	responseBody any
	useJSONNum   bool
}

func WithDecodeTo[T any](bodyTemplate *T) FetchOption {
	return func(opts *fetchOpts) error {
		if bodyTemplate == nil {
			return errors.New("decode target must not be nil")
		}
		opts.responseBody = bodyTemplate
		return nil
	}
}

func WithJSONNumber() FetchOption {
	return func(opts *fetchOpts) error {
		opts.useJSONNum = true
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// RequestOption defines optional settings for Request.
//
// WithPayload enables setting a body for the outgoing Request.
// WithContentType enables setting the Content-Type header.
// WithHeaders enables setting custom headers.
// WithCookies enables injecting cookie(s) into the request.
type RequestOption func(options *requestOpts) error

type requestOpts struct {
	body        any
	contentType *string
	cookies     []*http.Cookie
	headers     map[string][]string
}

func WithPayload(body any) RequestOption {
	return func(opts *requestOpts) error {
		opts.body = body
		return nil
	}
}

func WithContentType(contentType string) RequestOption {
	return func(opts *requestOpts) error {
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}
		opts.contentType = &contentType
		return nil
	}
}

func WithHeaders(headers map[string][]string) RequestOption {
	return func(opts *requestOpts) error {
		opts.headers = headers
		return nil
	}
}

func WithCookies(cookies ...*http.Cookie) RequestOption {
	return func(opts *requestOpts) error {
		opts.cookies = cookies
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// URLOption enables settings for constructing a url.URL.
// WithQueryStrings enables providing query strings to url.URL.
// WithPort enables adding a port number to the host field.
type URLOption func(options *urlOpts)

type urlOpts struct {
	queryStrings map[string]string
	port         *int
}

func WithQueryStrings(queryKV map[string]string) URLOption {
	return func(opts *urlOpts) {
		opts.queryStrings = queryKV
	}
}

func WithPort(port int) URLOption {
	return func(opts *urlOpts) {
		opts.port = &port
	}
}
