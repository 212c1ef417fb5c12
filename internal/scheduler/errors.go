package scheduler

import "errors"

// ErrStopped is reported by Health once Run has returned.
var ErrStopped = errors.New("scheduler stopped")
