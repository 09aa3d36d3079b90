package crawler

import "errors"

// ErrDuplicateItem reports that the catalog already holds a row for the
// item's URL. Callers log it and count the job as done; the item is not
// retried within the run.
var ErrDuplicateItem = errors.New("item already cataloged")

// ErrNotAttempted wraps fetch failures that happened before any network
// request was made, so handlers can skip the post-job rate-limit delay.
var ErrNotAttempted = errors.New("no request attempted")
