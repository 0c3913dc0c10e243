// Package tracking holds the data model for inbound face-tracking frames
// and the sources that produce them.
package tracking

import "sync"

// Param is a single tracked parameter with the range metadata the host
// needs when registering custom parameters.
type Param struct {
	ID           string  `json:"id"`
	Value        float64 `json:"value"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	DefaultValue float64 `json:"defaultValue"`
}

// Frame is one complete tracking sample. Frames are transmitted whole;
// the client never merges consecutive frames.
type Frame struct {
	FaceFound bool    `json:"faceFound"`
	Params    []Param `json:"params"`
}

// Clone returns a deep copy so snapshots never alias caller slices.
func (f Frame) Clone() Frame {
	out := Frame{FaceFound: f.FaceFound}
	if len(f.Params) > 0 {
		out.Params = make([]Param, len(f.Params))
		copy(out.Params, f.Params)
	}
	return out
}

// Holder retains the most recent frame for consumers that sample on their
// own schedule (the background poller reads it on every tick).
type Holder struct {
	mu    sync.RWMutex
	frame Frame
	set   bool
}

// Store replaces the retained frame.
func (h *Holder) Store(frame Frame) {
	h.mu.Lock()
	h.frame = frame.Clone()
	h.set = true
	h.mu.Unlock()
}

// Latest returns a copy of the retained frame, if any has arrived yet.
func (h *Holder) Latest() (Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.set {
		return Frame{}, false
	}
	return h.frame.Clone(), true
}
