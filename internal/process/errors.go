package process

import "errors"

var (
	// ErrExited is returned when a child exits before printing its readiness marker.
	ErrExited = errors.New("process exited before becoming ready")

	// ErrReadyTimeout is returned when the readiness marker does not appear in time.
	ErrReadyTimeout = errors.New("process readiness timeout")
)
