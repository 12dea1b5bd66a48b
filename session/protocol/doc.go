// Package protocol runs the transfers behind session tasks.
//
// A [Factory] decides from a request's URL whether it can serve it and
// creates a [Protocol] bound to one task. The protocol drives the transfer
// on a [Driver] goroutine and reports progress through the [Client] it was
// created with:
//
//	DidReceiveResponse -> DidLoad* -> DidFinishLoading
//	                               \-> DidFail
//
// [HTTPFactory] serves http and https URLs over [net/http];
// [FTPFactory] serves ftp URLs.
//
// StopLoading pauses a transfer whose task is suspended and cancels it
// otherwise. StartLoading resumes a paused transfer.
package protocol
