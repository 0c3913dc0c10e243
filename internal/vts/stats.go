package vts

import "github.com/facebridge-ai/facebridge/internal/tracking"

// ServiceName identifies the remote service in stats output.
const ServiceName = "VTube Studio"

// ConnectionState is the client lifecycle state. Transitions are
// Unconnected -> Open (Connect) -> Closed (Close); Close before any
// Connect is a no-op that stays Unconnected.
type ConnectionState string

const (
	StateUnconnected ConnectionState = "Unconnected"
	StateOpen        ConnectionState = "Open"
	StateClosed      ConnectionState = "Closed"
)

// ServiceStats is an immutable point-in-time snapshot of the client.
// CurrentEntity is the last frame the client attempted to transmit, not
// the last one the host acknowledged.
type ServiceStats struct {
	ServiceName        string
	Status             ConnectionState
	MessagesSent       uint64
	ConnectionAttempts uint64
	FailedConnections  uint64
	UptimeSeconds      float64
	CurrentEntity      *tracking.Frame
}
