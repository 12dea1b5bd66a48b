// Package session runs HTTP, HTTPS and FTP transfers as tasks.
//
// A [Session] creates data, upload and download tasks. Each task is born
// suspended and starts loading on [Task.Resume]. Outcomes are reported
// either to a completion func given at creation or to the session
// delegate, a value implementing any of [TaskDelegate], [DataDelegate],
// [DownloadDelegate], [SendDelegate], [RedirectDelegate],
// [ChallengeDelegate], [CacheDelegate] and [SessionDelegate].
//
// Task state changes run on a single serial work queue. Delegate methods
// and completion funcs run on the delegate queue, serial unless replaced
// with [WithDelegateQueue]. Every task completes exactly once.
//
//	s, err := session.New(session.WithTimeout(30 * time.Second))
//	if err != nil {
//		return err
//	}
//	t := s.DataTaskWithCompletion(req, func(data []byte, resp *transfer.Response, err error) {
//		// ...
//	})
//	t.Resume()
package session
