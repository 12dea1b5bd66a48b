// Package body turns a request body description into a pull-based source of
// chunks for the transport.
//
// A [Body] describes where upload bytes come from: nothing, an in-memory
// buffer, a file on disk or a caller supplied stream. [Body.NewSource] opens a
// [Source] over it for one transfer attempt. The transport then repeatedly
// calls [Source.Pull] with the largest chunk it can accept:
//
//	src, err := b.NewSource(body.SourceOptions{MaxWriteSize: 16 << 10})
//	for {
//		c := src.Pull(4096)
//		switch c.Kind {
//		case body.ChunkData:
//			// send c.Data
//		case body.ChunkRetryLater:
//			// wait for the readiness callback
//		case body.ChunkDone:
//			return nil
//		case body.ChunkError:
//			return c.Err
//		}
//	}
//
// File sources read ahead on a background goroutine and report
// [ChunkRetryLater] until bytes are buffered.
package body
