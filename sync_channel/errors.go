package sync_channel

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("channel closed")
	ErrMarkerUnknown = errors.New("sync marker not set")
)

// IOError is a failure of the underlying byte source. Retrying the whole range may succeed.
type IOError struct {
	Op     string
	Offset int64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error in %s at offset %d: %s", e.Op, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CorruptContainerError means the block/marker structure is invalid. Re-reading will not fix it.
type CorruptContainerError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *CorruptContainerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt container at offset %d: %s: %s", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt container at offset %d: %s", e.Offset, e.Reason)
}

func (e *CorruptContainerError) Unwrap() error {
	return e.Err
}

func (e *CorruptContainerError) IsPermanent() bool {
	return true
}
