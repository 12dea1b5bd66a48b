package protocol

import (
	"net/http"

	"github.com/adamwoolhether/xfer/session/body"
	"github.com/adamwoolhether/xfer/session/cache"
	"github.com/adamwoolhether/xfer/session/transfer"
)

// Protocol is the transport side of one task.
type Protocol interface {
	StartLoading()
	StopLoading()
}

// Transfer is what a protocol needs from the task it serves.
type Transfer interface {
	ID() int
	CurrentRequest() *http.Request
	Body() body.Body
	IsSuspended() bool
	// NewDrain returns the destination for one attempt's body bytes.
	NewDrain() (transfer.Drain, error)
}

// Client receives protocol events. Calls arrive on the protocol's own
// goroutine and must not block for long.
type Client interface {
	DidReceiveResponse(p Protocol, resp *transfer.Response)
	DidLoad(p Protocol, data []byte)
	DidSendBodyData(p Protocol, n int64)
	// WillPerformRedirection asks whether to follow req. decide must be
	// called once, with req, a replacement, or nil to stop at resp.
	WillPerformRedirection(p Protocol, resp *transfer.Response, req *http.Request, decide func(*http.Request))
	DidFinishLoading(p Protocol, drain transfer.Drain)
	DidFail(p Protocol, err error)
}

// Factory creates protocols for the requests it can serve.
type Factory interface {
	CanInit(req *http.Request) bool
	// New binds a protocol to t. cached, when non-nil, is a stored
	// response the protocol may serve or revalidate.
	New(t Transfer, cached *cache.CachedResponse, c Client) Protocol
}
