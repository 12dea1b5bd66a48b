package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"

	"github.com/adamwoolhether/xfer/session/body"
	"github.com/adamwoolhether/xfer/session/header"
)

// FTP reply codes that steer header parsing.
const (
	FTPOpenDataConnection = 150
	FTPFileStatus         = 213
	FTPTransferCompleted  = 226
)

// ErrHeaderCompletion is returned when a complete header block cannot be
// turned into a Response.
var ErrHeaderCompletion = errors.New("header block does not form a valid response")

// State is the progress of one load attempt.
type State struct {
	url      *url.URL
	header   header.Parsed
	response *Response
	source   body.Source
	drain    Drain
}

// New returns the state of an attempt that sends no request body.
func New(u *url.URL, drain Drain) State {
	return State{url: u, drain: drain}
}

// NewWithSource returns the state of an attempt that sends src.
func NewWithSource(u *url.URL, drain Drain, src body.Source) State {
	return State{url: u, drain: drain, source: src}
}

func (s State) URL() *url.URL         { return s.url }
func (s State) Response() *Response   { return s.response }
func (s State) Source() body.Source   { return s.source }
func (s State) Drain() Drain          { return s.drain }
func (s State) Header() header.Parsed { return s.header }

// IsHeaderComplete reports whether a response has been built and no newer
// header block has started.
func (s State) IsHeaderComplete() bool { return s.response != nil }

// AppendHTTPHeaderLine appends one CRLF terminated HTTP header line. When
// the line completes the block the response is built and the parser is
// reset for any block that follows.
func (s State) AppendHTTPHeaderLine(raw []byte) (State, error) {
	h, err := s.header.AppendLine(raw, header.HTTPTerminator)
	if err != nil {
		return s, err
	}

	if !h.IsComplete() {
		s.header = h
		s.response = nil
		return s, nil
	}

	resp, err := newHTTPResponse(s.url, h.Lines())
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrHeaderCompletion, err)
	}

	s.header = header.Parsed{}
	s.response = resp

	return s, nil
}

// AppendFTPHeaderLine appends one CRLF terminated FTP reply line. A 226
// reply is ignored; a 150 reply completes the block with expectedLength as
// the content length.
func (s State) AppendFTPHeaderLine(raw []byte, expectedLength int64) (State, error) {
	if bytes.HasPrefix(raw, fmt.Appendf(nil, "%d", FTPTransferCompleted)) {
		return s, nil
	}

	h, err := s.header.AppendLine(raw, header.FTPTerminator)
	if err != nil {
		return s, err
	}

	if !h.IsComplete() {
		s.header = h
		s.response = nil
		return s, nil
	}

	if s.url == nil {
		return s, fmt.Errorf("%w: missing URL", ErrHeaderCompletion)
	}

	s.header = header.Parsed{}
	s.response = newFTPResponse(s.url, expectedLength)

	return s, nil
}

// AppendBodyData hands p to the drain.
func (s State) AppendBodyData(p []byte) (State, error) {
	d, err := s.drain.write(p)
	if err != nil {
		return s, err
	}
	s.drain = d
	return s, nil
}

// WithBodySource replaces the request body source. A previous, different
// source is closed.
func (s State) WithBodySource(src body.Source) State {
	if s.source != nil && s.source != src {
		s.source.Close()
	}
	s.source = src
	return s
}
