package protocol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/transfer"
)

const (
	defaultFTPPort   = "21"
	anonymousUser    = "anonymous"
	anonymousPass    = "anonymous"
	ftpOpenDataReply = "Opening BINARY mode data connection"
)

// FTPFactory serves ftp URLs. Only retrieval is supported.
type FTPFactory struct {
	Driver *Driver
}

func (f FTPFactory) CanInit(req *http.Request) bool {
	return req != nil && req.URL != nil && strings.EqualFold(req.URL.Scheme, "ftp")
}

func (f FTPFactory) New(t Transfer, _ *cache.CachedResponse, c Client) Protocol {
	p := &ftpProtocol{}
	p.loader = loader{d: f.Driver, t: t, c: c, self: p, work: p.load}
	return p
}

type ftpProtocol struct {
	loader
}

func (p *ftpProtocol) load(ctx context.Context) error {
	u := p.t.CurrentRequest().URL

	drain, err := p.t.NewDrain()
	if err != nil {
		return p.fail(ctx, transfer.New(u, transfer.Ignore()), u, err)
	}
	state := transfer.New(u, drain)

	if err := p.d.limiter.Wait(ctx, u.Host); err != nil {
		return p.fail(ctx, state, u, err)
	}

	conn, err := p.dial(ctx, u)
	if err != nil {
		return p.fail(ctx, state, u, err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			p.d.logger.Debug("ftp quit", "task", p.t.ID(), "error", err)
		}
	}()

	stop := context.AfterFunc(ctx, func() { conn.Quit() })
	defer stop()

	size, err := conn.FileSize(u.Path)
	if err != nil {
		size = -1
	} else {
		state, err = state.AppendFTPHeaderLine(fmt.Appendf(nil, "%d %d\r\n", transfer.FTPFileStatus, size), size)
		if err != nil {
			return p.fail(ctx, state, u, err)
		}
	}

	r, err := conn.Retr(u.Path)
	if err != nil {
		return p.fail(ctx, state, u, err)
	}

	// Quit only closes the control connection; a stalled read on the data
	// connection needs its own deadline.
	stopData := context.AfterFunc(ctx, func() { r.SetDeadline(time.Now()) })
	defer stopData()

	state, err = state.AppendFTPHeaderLine(fmt.Appendf(nil, "%d %s\r\n", transfer.FTPOpenDataConnection, ftpOpenDataReply), size)
	if err != nil {
		r.Close()
		return p.fail(ctx, state, u, err)
	}
	p.c.DidReceiveResponse(p, state.Response())

	err = p.readBody(ctx, r, &state)
	if cerr := r.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return p.fail(ctx, state, u, err)
	}

	state, _ = state.AppendFTPHeaderLine(fmt.Appendf(nil, "%d Transfer complete\r\n", transfer.FTPTransferCompleted), size)

	p.finish(state)
	return nil
}

func (p *ftpProtocol) dial(ctx context.Context, u *url.URL) (*ftp.ServerConn, error) {
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), defaultFTPPort)
	}

	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if p.d.timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(p.d.timeout))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing ftp server: %w", err)
	}

	user, pass := anonymousUser, anonymousPass
	if u.User != nil {
		user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			pass = pw
		}
	}

	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, NewError(CodeUserAuthenticationRequired, u, fmt.Errorf("ftp login: %w", err))
	}

	return conn, nil
}
