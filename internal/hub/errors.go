package hub

import "errors"

// Error kinds surfaced by the hub core. OS-level failures are wrapped
// as watcher.SystemError at the point they occur.
var (
	// ErrInvalidParam marks a nil handle or a double start.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrInvalidOperation marks an attach of a UID already present.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrResource marks a missing notifier singleton.
	ErrResource = errors.New("resource unavailable")
	// ErrOverflow marks a full temporary-connection window.
	ErrOverflow = errors.New("overflow")
	// ErrAllocFailed marks an unrecoverable allocation failure.
	ErrAllocFailed = errors.New("allocation failed")
)
