package xfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// Fetch runs req as a data task on s and waits for it. The response
// status must equal expCode. Cancelling ctx cancels the task.
func Fetch(ctx context.Context, s *session.Session, req *http.Request, expCode int, opts ...FetchOption) error {
	var settings fetchOpts
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return err
		}
	}

	type result struct {
		data []byte
		resp *transfer.Response
		err  error
	}
	done := make(chan result, 1)

	task := s.DataTaskWithCompletion(req, func(data []byte, resp *transfer.Response, err error) {
		done <- result{data: data, resp: resp, err: err}
	})
	task.Resume()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		task.Cancel()
		r = <-done
	}

	if r.err != nil {
		return fmt.Errorf("fetching %s: %w", req.URL.Redacted(), r.err)
	}

	if r.resp.StatusCode != expCode {
		body := r.data
		if len(body) > maxErrBodySize {
			body = body[:maxErrBodySize]
		}

		e := &UnexpectedStatusError{
			StatusCode: r.resp.StatusCode,
			Body:       string(body),
			Err:        ErrUnexpectedStatusCode,
		}
		if r.resp.StatusCode == http.StatusUnauthorized || r.resp.StatusCode == http.StatusForbidden {
			e.Err = fmt.Errorf("%w: %w", ErrAuthFailure, ErrUnexpectedStatusCode)
		}
		return e
	}

	if settings.responseBody != nil {
		d := json.NewDecoder(bytes.NewReader(r.data))
		if settings.useJSONNum {
			d.UseNumber()
		}
		if err := d.Decode(settings.responseBody); err != nil {
			return fmt.Errorf("failed to decode body: %w", err)
		}
	}

	return nil
}

// Download runs req as a download task on s, moves the file to dest and
// waits for it. Cancelling ctx cancels the task.
func Download(ctx context.Context, s *session.Session, req *http.Request, dest string, opts ...session.DownloadOption) (*transfer.Response, error) {
	type result struct {
		resp *transfer.Response
		err  error
	}
	done := make(chan result, 1)

	opts = append(opts, session.WithDestination(dest))
	task, err := s.DownloadTaskWithCompletion(req, func(_ string, resp *transfer.Response, err error) {
		done <- result{resp: resp, err: err}
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating download: %w", err)
	}
	task.Resume()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		task.Cancel()
		r = <-done
	}

	if r.err != nil {
		return r.resp, fmt.Errorf("downloading %s: %w", req.URL.Redacted(), r.err)
	}

	return r.resp, nil
}

// Request instantiates an *http.Request with the provided information.
// A payload is JSON encoded and Content-Type defaults to `application/json`
// if unspecified via WithContentType.
func Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	var settings requestOpts
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	var payload bytes.Buffer
	if settings.body != nil {
		if err := json.NewEncoder(&payload).Encode(settings.body); err != nil {
			return nil, fmt.Errorf("encoding request payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), &payload)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	if settings.body == nil {
		req.Body, req.GetBody, req.ContentLength = http.NoBody, nil, 0
	}

	for _, cookie := range settings.cookies {
		req.AddCookie(cookie)
	}

	contentType := "application/json"
	if settings.contentType != nil {
		contentType = *settings.contentType
	}
	req.Header.Set("Content-Type", contentType)

	for k, v := range settings.headers {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}

	return req, nil
}

// URL creates a url.URL for use in Request.
func URL(scheme, host, path string, opts ...URLOption) *url.URL {
	var settings urlOpts
	for _, opt := range opts {
		opt(&settings)
	}

	if settings.port != nil {
		host = fmt.Sprintf("%s:%d", host, *settings.port)
	}

	endpoint := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path,
	}

	if settings.queryStrings != nil {
		queryParams := url.Values{}
		for k, v := range settings.queryStrings {
			queryParams.Add(k, v)
		}
		endpoint.RawQuery = queryParams.Encode()
	}

	return &endpoint
}
