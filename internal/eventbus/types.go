package eventbus

import (
	"time"

	"github.com/facebridge-ai/facebridge/internal/tracking"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicBridgeConnection Topic = "bridge.connection"
	TopicBridgeStats      Topic = "bridge.stats"
	TopicTrackingFrame    Topic = "tracking.frame"
)

// Source describes which component produced an event.
type Source string

const (
	SourceClient   Source = "client"
	SourcePoller   Source = "poller"
	SourceTracking Source = "tracking"
	SourceUnknown  Source = "unknown"
)

// Envelope wraps a payload with routing metadata.
type Envelope struct {
	Topic     Topic
	Source    Source
	Timestamp time.Time
	Payload   any
}

// ConnectionEvent reports a client lifecycle transition or a remote
// availability probe result.
type ConnectionEvent struct {
	State  vts.ConnectionState
	Active bool
	Reason string
}

// StatsEvent carries a fresh client stats snapshot.
type StatsEvent struct {
	Stats vts.ServiceStats
}

// FrameEvent carries a tracking frame as transmitted.
type FrameEvent struct {
	Frame tracking.Frame
}
