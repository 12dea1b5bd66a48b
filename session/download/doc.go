// Package download manages the on-disk side of download tasks: the
// temporary file a transfer writes into, checksum validation, progress
// reporting and the final rename.
//
// # Lifecycle
//
// A [Plan] is resolved from options when a download task is created:
//
//	p, err := download.NewPlan(logger,
//		download.WithDestination("/tmp/file.bin"),
//		download.WithChecksum(sha256.New(), expectedHex),
//		download.WithProgress(),
//	)
//
// Each transfer attempt writes into a file from [Plan.CreateTemp]. Once the
// body is complete [Plan.Finalize] verifies the file and, when a
// destination was given, atomically renames it there. Failed attempts are
// cleared with [Discard].
//
// Most callers should use the higher-level
// [github.com/adamwoolhether/xfer/session] package, which re-exports these
// options for its download tasks.
package download
