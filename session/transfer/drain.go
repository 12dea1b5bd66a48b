package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// DrainKind selects where received body bytes go.
type DrainKind int

const (
	DrainIgnore DrainKind = iota
	DrainInMemory
	DrainToFile
)

func (k DrainKind) String() string {
	switch k {
	case DrainInMemory:
		return "in-memory"
	case DrainToFile:
		return "to-file"
	default:
		return "ignore"
	}
}

// Drain is the destination for response body bytes.
type Drain struct {
	kind DrainKind
	buf  *bytes.Buffer
	path string
	file *os.File
}

// Ignore discards body bytes.
func Ignore() Drain { return Drain{kind: DrainIgnore} }

// InMemory accumulates body bytes. The buffer is allocated on first write.
func InMemory() Drain { return Drain{kind: DrainInMemory} }

// ToFile appends body bytes to f, which lives at path.
func ToFile(path string, f *os.File) Drain {
	return Drain{kind: DrainToFile, path: path, file: f}
}

func (d Drain) Kind() DrainKind { return d.kind }

// Bytes returns the accumulated body of an in-memory drain.
func (d Drain) Bytes() []byte {
	if d.buf == nil {
		return nil
	}
	return d.buf.Bytes()
}

// Path returns the destination file of a to-file drain.
func (d Drain) Path() string { return d.path }

// Close closes the file behind a to-file drain. It is safe to call more
// than once.
func (d Drain) Close() error {
	if d.file == nil {
		return nil
	}
	if err := d.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("closing drain file: %w", err)
	}
	return nil
}

func (d Drain) write(p []byte) (Drain, error) {
	switch d.kind {
	case DrainInMemory:
		if d.buf == nil {
			d.buf = new(bytes.Buffer)
		}
		d.buf.Write(p)
	case DrainToFile:
		if _, err := d.file.Seek(0, io.SeekEnd); err != nil {
			return d, fmt.Errorf("seeking drain file: %w", err)
		}
		if _, err := d.file.Write(p); err != nil {
			return d, fmt.Errorf("writing drain file: %w", err)
		}
	}
	return d, nil
}
