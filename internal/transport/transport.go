// Package transport provides the duplex message connection the protocol
// client runs on. A transport instance belongs to exactly one client and
// is never shared.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when Send/Receive/Close are used before
// Connect succeeded or after the connection went away.
var ErrNotConnected = errors.New("transport: not connected")

// Transport is a message-oriented duplex connection to the host.
type Transport interface {
	// Connect establishes the connection. Calling Connect on an already
	// connected transport is an error.
	Connect(ctx context.Context) error

	// Send writes one complete message frame. Concurrent callers are
	// serialised internally so frames never interleave.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks until the next inbound frame arrives or the
	// connection fails. It is intended to be driven by a single reader.
	Receive() ([]byte, error)

	// Close sends a close frame with the given reason and releases the
	// connection. Safe to call more than once.
	Close(ctx context.Context, reason string) error
}
