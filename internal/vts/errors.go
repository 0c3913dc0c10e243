package vts

import (
	"errors"
	"fmt"
)

// ErrConnectionLost resolves every in-flight request when the transport
// fails underneath the client. The client never reconnects on its own;
// retry policy belongs to the caller.
var ErrConnectionLost = errors.New("vts: connection lost")

// InvalidStateError reports an operation attempted from a state that
// forbids it. The client surfaces it immediately and never retries.
type InvalidStateError struct {
	Op    string
	State ConnectionState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("vts: %s: invalid state %s", e.Op, e.State)
}

// IsInvalidState returns true when err is (or wraps) an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}
