// Package poller drives the protocol client in the background: it
// transmits the latest tracking frame on a fast tick and refreshes remote
// availability on a much slower one.
package poller

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/facebridge-ai/facebridge/internal/eventbus"
	"github.com/facebridge-ai/facebridge/internal/mapper"
	"github.com/facebridge-ai/facebridge/internal/tracking"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

const (
	// DefaultInterval is the transmission cadence.
	DefaultInterval = 100 * time.Millisecond
	// StatusFloor is the minimum spacing between availability probes so
	// the host is not hammered.
	StatusFloor = 10 * time.Second

	requestTimeout = 2 * time.Second
	maxBackoff     = 2 * time.Second
)

// Options configures a Poller. Client and Frames are required.
type Options struct {
	Client         *vts.Client
	Frames         *tracking.Holder
	Mapper         *mapper.Mapper
	Bus            *eventbus.Bus
	Logger         *log.Logger
	Interval       time.Duration
	StatusInterval time.Duration
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) completed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Poller owns the background transmission task. Start is idempotent while
// a task is running; the handle swap is a single compare-and-swap.
type Poller struct {
	opts   Options
	handle atomic.Pointer[task]
}

// New validates options and applies defaults.
func New(opts Options) *Poller {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StatusInterval < StatusFloor {
		opts.StatusInterval = StatusFloor
	}
	return &Poller{opts: opts}
}

// Start launches the background task unless one is already running.
// Returns false when a live task made the call a no-op.
func (p *Poller) Start(ctx context.Context) bool {
	old := p.handle.Load()
	if old != nil && !old.completed() {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	if !p.handle.CompareAndSwap(old, t) {
		cancel()
		return false
	}

	go func() {
		defer close(t.done)
		p.run(runCtx)
	}()
	return true
}

// Stop cancels the running task and waits for it to drain. Stopping an
// idle poller is a no-op.
func (p *Poller) Stop() {
	t := p.handle.Load()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// Running reports whether a background task is live.
func (p *Poller) Running() bool {
	t := p.handle.Load()
	return t != nil && !t.completed()
}

func (p *Poller) run(ctx context.Context) {
	opts := p.opts
	opts.Logger.Printf("[poller] started (interval %s, status every %s)", opts.Interval, opts.StatusInterval)
	defer opts.Logger.Printf("[poller] stopped")

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	statusTicker := time.NewTicker(opts.StatusInterval)
	defer statusTicker.Stop()

	var failureStreak int
	var pauseUntil time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			p.probeStatus(ctx)
		case now := <-ticker.C:
			if now.Before(pauseUntil) {
				continue
			}
			if err := p.transmit(ctx); err != nil {
				failureStreak++
				backoff := maxBackoff
				if failureStreak < 5 {
					backoff = opts.Interval << failureStreak
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				pauseUntil = time.Now().Add(backoff)
				opts.Logger.Printf("[poller] transmit failed (streak %d, backing off %s): %v", failureStreak, backoff, err)
				continue
			}
			failureStreak = 0
			pauseUntil = time.Time{}
		}
	}
}

func (p *Poller) transmit(ctx context.Context) error {
	frame, ok := p.opts.Frames.Latest()
	if !ok {
		return nil
	}

	if p.opts.Mapper != nil {
		mapped, err := p.opts.Mapper.Apply(frame)
		if err != nil {
			return err
		}
		frame = mapped
	}

	sendCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := p.opts.Client.SendTracking(sendCtx, frame); err != nil {
		return err
	}

	if p.opts.Bus != nil {
		p.opts.Bus.Publish(ctx, eventbus.Envelope{
			Topic:   eventbus.TopicTrackingFrame,
			Source:  eventbus.SourcePoller,
			Payload: eventbus.FrameEvent{Frame: frame},
		})
		p.opts.Bus.Publish(ctx, eventbus.Envelope{
			Topic:   eventbus.TopicBridgeStats,
			Source:  eventbus.SourcePoller,
			Payload: eventbus.StatsEvent{Stats: p.opts.Client.GetStats()},
		})
	}
	return nil
}

func (p *Poller) probeStatus(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	state, err := p.opts.Client.CheckState(probeCtx)
	event := eventbus.ConnectionEvent{State: p.opts.Client.State()}
	if err != nil {
		p.opts.Logger.Printf("[poller] status probe failed: %v", err)
		event.Reason = err.Error()
	} else {
		event.Active = state.Active
	}

	if p.opts.Bus != nil {
		p.opts.Bus.Publish(ctx, eventbus.Envelope{
			Topic:   eventbus.TopicBridgeConnection,
			Source:  eventbus.SourcePoller,
			Payload: event,
		})
	}
}
