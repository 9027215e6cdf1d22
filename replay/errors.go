package replay

import "errors"

// errMaxSkip is returned by Scheduler.Start when more than Config.MaxSkip
// consecutive entries were skipped (read failures or ordering violations)
// without a successful publish. When the limit is reached from a timer
// callback or a deferred continuation, the error reaches no caller and no
// further entry is scheduled.
var errMaxSkip = errors.New("replay: max-skip exceeded")

// ErrMaxSkipExceeded is the exported form for callers using errors.Is.
var ErrMaxSkipExceeded = errMaxSkip
