// Package header accumulates the raw header lines a transport delivers
// until a protocol specific terminator marks the block complete.
package header

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformedLine   = errors.New("header line does not end with CRLF")
	ErrInvalidEncoding = errors.New("header line is not valid UTF-8")
)

// ParseError records the line that could not be appended.
type ParseError struct {
	Line []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing header line %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Terminator reports whether a line, stripped of its CRLF, ends a header
// block.
type Terminator func(line string) bool

// HTTPTerminator ends a block on the empty line.
func HTTPTerminator(line string) bool { return line == "" }

// FTPTerminator ends a block on a 150 (opening data connection) reply.
func FTPTerminator(line string) bool { return strings.HasPrefix(line, "150") }

// Parsed is either a partial block still collecting lines or a complete
// one. The zero value is an empty partial block. Parsed values are
// immutable; AppendLine returns a new one.
type Parsed struct {
	lines    []string
	complete bool
}

func (p Parsed) IsComplete() bool { return p.complete }

// Lines returns the collected lines without their CRLF.
func (p Parsed) Lines() []string { return slices.Clone(p.lines) }

// AppendLine adds raw, which must end in CRLF. A terminator moves a partial
// block to complete with the same lines; a terminator after a complete
// block starts a new, empty partial block. Any other line after a complete
// block starts a new partial block containing only that line.
func (p Parsed) AppendLine(raw []byte, isTerminator Terminator) (Parsed, error) {
	if !hasCRLF(raw) {
		return p, &ParseError{Line: raw, Err: ErrMalformedLine}
	}

	trimmed := raw[:len(raw)-2]
	if !utf8.Valid(trimmed) {
		return p, &ParseError{Line: raw, Err: ErrInvalidEncoding}
	}
	line := string(trimmed)

	if isTerminator(line) {
		if p.complete {
			return Parsed{}, nil
		}
		return Parsed{lines: p.lines, complete: true}, nil
	}

	var prev []string
	if !p.complete {
		prev = p.lines
	}

	lines := make([]string, len(prev), len(prev)+1)
	copy(lines, prev)

	return Parsed{lines: append(lines, line)}, nil
}

func hasCRLF(b []byte) bool {
	n := len(b)
	return n >= 2 && b[n-2] == '\r' && b[n-1] == '\n'
}
