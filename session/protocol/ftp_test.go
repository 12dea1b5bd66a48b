package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// ftpServer is a minimal passive-mode FTP server serving files from memory.
type ftpServer struct {
	ln    net.Listener
	files map[string]string
	// stall makes RETR send only the first few bytes and then hang until
	// the test ends.
	stall bool
	done  chan struct{}

	mu     sync.Mutex
	data   net.Listener
	closed bool
}

func newFTPServer(t *testing.T, files map[string]string, stall bool) *ftpServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}

	s := &ftpServer{ln: ln, files: files, stall: stall, done: make(chan struct{})}
	t.Cleanup(s.close)

	go s.serve()
	return s
}

func (s *ftpServer) URL(path string) string {
	return "ftp://" + s.ln.Addr().String() + path
}

func (s *ftpServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.ln.Close()
	if s.data != nil {
		s.data.Close()
	}
}

func (s *ftpServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *ftpServer) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(conn, format+"\r\n", args...)
	}

	reply("220 ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch strings.ToUpper(cmd) {
		case "USER":
			if arg == "denied" {
				reply("530 not logged in")
				continue
			}
			reply("331 password please")
		case "PASS":
			reply("230 logged in")
		case "TYPE":
			reply("200 type set")
		case "SIZE":
			content, ok := s.files[arg]
			if !ok {
				reply("550 no such file")
				continue
			}
			reply("213 %d", len(content))
		case "EPSV":
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			s.mu.Lock()
			s.data = ln
			s.mu.Unlock()
			reply("229 Entering Extended Passive Mode (|||%d|)", ln.Addr().(*net.TCPAddr).Port)
		case "RETR":
			s.retr(arg, reply)
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func (s *ftpServer) retr(path string, reply func(string, ...any)) {
	s.mu.Lock()
	ln := s.data
	s.data = nil
	s.mu.Unlock()
	if ln == nil {
		reply("425 use EPSV first")
		return
	}
	defer ln.Close()

	dc, err := ln.Accept()
	if err != nil {
		return
	}
	defer dc.Close()

	content, ok := s.files[path]
	if !ok {
		reply("550 no such file")
		return
	}

	reply("150 Opening BINARY mode data connection")
	if s.stall {
		io.WriteString(dc, content[:4])
		<-s.done
		return
	}

	io.WriteString(dc, content)
	dc.Close()
	reply("226 Transfer complete")
}

func TestFTPProtocol_Retrieve(t *testing.T) {
	srv := newFTPServer(t, map[string]string{"/pub/greeting.txt": "hello world"}, false)

	c := newRecordingClient()
	d := NewDriver(DriverConfig{MaxWriteSize: 4})
	p := FTPFactory{Driver: d}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, srv.URL("/pub/greeting.txt"))}, nil, c)

	p.StartLoading()
	drain, err := c.wait(t)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if got := string(drain.Bytes()); got != "hello world" {
		t.Errorf("expected drained body %q, got %q", "hello world", got)
	}
	if got := string(c.data); got != "hello world" {
		t.Errorf("expected loaded data %q, got %q", "hello world", got)
	}
	if len(c.responses) != 1 {
		t.Fatalf("expected one response, got %d", len(c.responses))
	}
	if got := c.responses[0].ExpectedContentLength; got != 11 {
		t.Errorf("expected content length 11, got %d", got)
	}
}

func TestFTPProtocol_Errors(t *testing.T) {
	srv := newFTPServer(t, map[string]string{"/pub/greeting.txt": "hello world"}, false)

	testCases := map[string]struct {
		url  string
		code Code
	}{
		"missing file": {
			url:  srv.URL("/pub/missing.txt"),
			code: CodeResourceUnavailable,
		},
		"login refused": {
			url:  strings.Replace(srv.URL("/pub/greeting.txt"), "ftp://", "ftp://denied:secret@", 1),
			code: CodeUserAuthenticationRequired,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			c := newRecordingClient()
			p := FTPFactory{Driver: NewDriver(DriverConfig{})}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, tc.url)}, nil, c)

			p.StartLoading()
			_, err := c.wait(t)
			if got := Classify(err); got != tc.code {
				t.Errorf("expected %v, got %v (%v)", tc.code, got, err)
			}
		})
	}
}

func TestFTPProtocol_StopDuringRetrieve(t *testing.T) {
	srv := newFTPServer(t, map[string]string{"/big.bin": "0123456789"}, true)

	d := NewDriver(DriverConfig{MaxConcurrent: 1})
	c := newRecordingClient()
	p := FTPFactory{Driver: d}.New(&fakeTransfer{req: newRequest(t, http.MethodGet, srv.URL("/big.bin"))}, nil, c)

	p.StartLoading()

	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		n := len(c.data)
		c.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no data arrived before the stall")
		}
		time.Sleep(10 * time.Millisecond)
	}

	p.StopLoading()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stopped ftp transfer kept running")
	}

	select {
	case <-c.finished:
		t.Error("stopped transfer should not finish")
	case err := <-c.failed:
		t.Errorf("stopped transfer should not report failure, got %v", err)
	default:
	}

	next := d.Start(t.Context(), func(ctx context.Context) error { return nil }, noRefusal(t))
	select {
	case <-next.Done():
	case <-time.After(time.Second):
		t.Fatal("concurrency slot still held after stop")
	}
}
