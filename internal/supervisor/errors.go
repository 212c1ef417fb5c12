package supervisor

import "errors"

var (
	// ErrStartFailed is returned when a process fails to start twice in a row.
	// It is fatal to the scheduler.
	ErrStartFailed = errors.New("process start failed")

	// ErrNoDevice is returned when device_id is "0" and no dongle is attached.
	ErrNoDevice = errors.New("no RTL-SDR device found")

	// ErrProcessDead is reported by Health while a process is down.
	ErrProcessDead = errors.New("process is not running")
)
