package watcher

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SystemError wraps an operating system failure with the operation that
// raised it. Handlers convert these into a disabled watcher instead of
// propagating them into the loop.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

// Code returns the numeric OS error code, or zero when the wrapped
// error is not an errno.
func (e *SystemError) Code() int {
	if errno, ok := e.Err.(unix.Errno); ok {
		return int(errno)
	}
	return 0
}

func sysErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SystemError{Op: op, Err: err}
}

func closeDescriptor(fd int) error {
	return sysErr("close", unix.Close(fd))
}
