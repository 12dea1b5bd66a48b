package body

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// pullAll drains src, waiting on ready whenever it reports ChunkRetryLater.
func pullAll(t *testing.T, src Source, maxLength int, ready <-chan struct{}) ([]int, []byte) {
	t.Helper()

	var (
		sizes []int
		all   []byte
	)
	for range 10_000 {
		c := src.Pull(maxLength)
		switch c.Kind {
		case ChunkData:
			if len(c.Data) == 0 || len(c.Data) > maxLength {
				t.Fatalf("chunk length %d out of range (1..%d)", len(c.Data), maxLength)
			}
			sizes = append(sizes, len(c.Data))
			all = append(all, c.Data...)
		case ChunkDone:
			return sizes, all
		case ChunkRetryLater:
			select {
			case <-ready:
			case <-time.After(time.Second):
				t.Fatal("source never became readable")
			}
		case ChunkError:
			t.Fatalf("unexpected error chunk: %v", c.Err)
		}
	}
	t.Fatal("source never finished")
	return nil, nil
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMemorySource_Pull(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwxyz")

	testCases := []struct {
		name      string
		maxLength int
		expSizes  []int
	}{
		{name: "single byte", maxLength: 1, expSizes: repeat(1, 26)},
		{name: "uneven", maxLength: 10, expSizes: []int{10, 10, 6}},
		{name: "exact", maxLength: 26, expSizes: []int{26}},
		{name: "oversized", maxLength: 100, expSizes: []int{26}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sizes, got := pullAll(t, NewMemorySource(data), tc.maxLength, nil)

			if diff := cmp.Diff(tc.expSizes, sizes); diff != "" {
				t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("expected %q, got %q", data, got)
			}
		})
	}
}

func TestMemorySource_Empty(t *testing.T) {
	src := NewMemorySource(nil)
	if c := src.Pull(8); c.Kind != ChunkDone {
		t.Errorf("expected done, got %v", c.Kind)
	}
	if c := src.Pull(8); c.Kind != ChunkDone {
		t.Errorf("expected done to repeat, got %v", c.Kind)
	}
}

func TestMemorySource_PanicsOnZeroLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero pull length")
		}
	}()
	NewMemorySource([]byte("x")).Pull(0)
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "body.bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing body file: %v", err)
	}
	return path
}

func TestFileSource_BufferedAhead(t *testing.T) {
	path := writeFile(t, []byte("0123456789"))

	ready := make(chan struct{}, 1)
	src, err := NewFileSource(path, 4, nil, func() { ready <- struct{}{} })
	if err != nil {
		t.Fatalf("opening file source: %v", err)
	}
	defer src.Close()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("file source never became readable")
	}

	var got []ChunkKind
	var sizes []int
	for {
		c := src.Pull(4)
		got = append(got, c.Kind)
		if c.Kind != ChunkData {
			break
		}
		sizes = append(sizes, len(c.Data))
	}

	if diff := cmp.Diff([]ChunkKind{ChunkData, ChunkData, ChunkData, ChunkDone}, got); diff != "" {
		t.Errorf("chunk kinds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4, 4, 2}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestFileSource_LargerThanReadAhead(t *testing.T) {
	data := bytes.Repeat([]byte("xfer"), 1000)
	path := writeFile(t, data)

	ready := make(chan struct{}, 1)
	src, err := NewFileSource(path, 16, nil, func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("opening file source: %v", err)
	}
	defer src.Close()

	_, got := pullAll(t, src, 7, ready)
	if !bytes.Equal(got, data) {
		t.Errorf("expected %d bytes back, got %d", len(data), len(got))
	}
}

func TestFileSource_Missing(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope"), 4, nil, nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected %v, got %v", os.ErrNotExist, err)
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestStreamSource_Pull(t *testing.T) {
	src := NewStreamSource(strings.NewReader("hello world"))

	_, got := pullAll(t, src, 4, nil)
	if string(got) != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
}

func TestStreamSource_Error(t *testing.T) {
	wantErr := errors.New("boom")
	src := NewStreamSource(errReader{err: wantErr})

	c := src.Pull(4)
	if c.Kind != ChunkError {
		t.Fatalf("expected error chunk, got %v", c.Kind)
	}
	if !errors.Is(c.Err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, c.Err)
	}
}

func TestStreamSource_ErrorIsTerminal(t *testing.T) {
	wantErr := errors.New("boom")
	r := &countingReader{err: wantErr}
	src := NewStreamSource(r)

	for i := range 3 {
		c := src.Pull(4)
		if c.Kind != ChunkError || !errors.Is(c.Err, wantErr) {
			t.Fatalf("pull %d: expected error chunk wrapping %v, got %v (%v)", i, wantErr, c.Kind, c.Err)
		}
	}
	if r.reads != 1 {
		t.Errorf("expected the stream to be read once, got %d reads", r.reads)
	}
}

func TestStreamSource_ErrorAfterData(t *testing.T) {
	wantErr := errors.New("boom")
	src := NewStreamSource(&countingReader{data: []byte("ab"), err: wantErr})

	if c := src.Pull(4); c.Kind != ChunkData || string(c.Data) != "ab" {
		t.Fatalf("expected data chunk %q, got %v %q", "ab", c.Kind, c.Data)
	}
	if c := src.Pull(4); c.Kind != ChunkError || !errors.Is(c.Err, wantErr) {
		t.Errorf("expected error chunk wrapping %v, got %v (%v)", wantErr, c.Kind, c.Err)
	}
}

// countingReader returns data together with err on its first read, and
// err alone afterwards.
type countingReader struct {
	data  []byte
	err   error
	reads int
}

func (r *countingReader) Read(p []byte) (int, error) {
	r.reads++
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, r.err
}

func TestBody_Length(t *testing.T) {
	path := writeFile(t, []byte("12345"))

	testCases := []struct {
		name     string
		body     Body
		expN     int64
		expKnown bool
	}{
		{name: "none", body: None(), expN: 0, expKnown: true},
		{name: "data", body: Data([]byte("abc")), expN: 3, expKnown: true},
		{name: "file", body: File(path), expN: 5, expKnown: true},
		{name: "missing file", body: File(path + ".missing"), expN: 0, expKnown: false},
		{name: "stream", body: Stream(strings.NewReader("abc"), nil), expN: -1, expKnown: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, known := tc.body.Length()
			if n != tc.expN || known != tc.expKnown {
				t.Errorf("expected (%d, %t), got (%d, %t)", tc.expN, tc.expKnown, n, known)
			}
		})
	}
}

func TestBody_NewSource_None(t *testing.T) {
	src, err := None().NewSource(SourceOptions{})
	if err != nil || src != nil {
		t.Errorf("expected nil source and error, got %v, %v", src, err)
	}
}

func TestBody_StreamRewind(t *testing.T) {
	t.Run("unconsumed stream is reused", func(t *testing.T) {
		b := Stream(strings.NewReader("abc"), nil)
		if _, err := b.NewSource(SourceOptions{}); err != nil {
			t.Fatalf("first source: %v", err)
		}
		if _, err := b.NewSource(SourceOptions{}); err != nil {
			t.Errorf("expected second source over untouched stream, got %v", err)
		}
	})

	t.Run("consumed stream without rewind", func(t *testing.T) {
		b := Stream(strings.NewReader("abc"), nil)
		src, _ := b.NewSource(SourceOptions{})
		src.Pull(1)

		if _, err := b.NewSource(SourceOptions{}); !errors.Is(err, ErrNotRewindable) {
			t.Errorf("expected %v, got %v", ErrNotRewindable, err)
		}
	})

	t.Run("consumed stream with rewind", func(t *testing.T) {
		rewind := func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("abc")), nil
		}
		b := Stream(strings.NewReader("abc"), rewind)
		src, _ := b.NewSource(SourceOptions{})
		src.Pull(2)

		src, err := b.NewSource(SourceOptions{})
		if err != nil {
			t.Fatalf("rewinding: %v", err)
		}
		_, got := pullAll(t, src, 8, nil)
		if string(got) != "abc" {
			t.Errorf("expected full body after rewind, got %q", got)
		}
	})
}
