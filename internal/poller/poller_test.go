package poller_test

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/facebridge-ai/facebridge/internal/eventbus"
	"github.com/facebridge-ai/facebridge/internal/poller"
	"github.com/facebridge-ai/facebridge/internal/protocol"
	"github.com/facebridge-ai/facebridge/internal/tracking"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

// echoTransport answers every request with a success response of the
// matching type.
type echoTransport struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
}

func newEchoTransport() *echoTransport {
	return &echoTransport{frames: make(chan []byte, 64)}
}

func (t *echoTransport) Connect(ctx context.Context) error { return nil }

func (t *echoTransport) Send(ctx context.Context, payload []byte) error {
	var req protocol.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}

	var resp protocol.Response
	resp.APIName = protocol.APIName
	resp.APIVersion = protocol.APIVersion
	resp.RequestID = req.RequestID
	switch req.MessageType {
	case protocol.MessageInjectParameterData:
		resp.MessageType = protocol.MessageInjectParameterDataResponse
		resp.Data = json.RawMessage(`{}`)
	case protocol.MessageAPIState:
		resp.MessageType = protocol.MessageAPIStateResponse
		resp.Data = json.RawMessage(`{"active":true,"vTubeStudioVersion":"1.28.0","currentSessionAuthenticated":true}`)
	default:
		resp.MessageType = protocol.MessageAPIError
		resp.Data = json.RawMessage(`{"errorID":1,"message":"unexpected request"}`)
	}

	frame, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.frames <- frame
	}
	return nil
}

func (t *echoTransport) Receive() ([]byte, error) {
	frame, ok := <-t.frames
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (t *echoTransport) Close(ctx context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.frames)
	}
	return nil
}

func newConnectedClient(t *testing.T) *vts.Client {
	t.Helper()
	client := vts.New(vts.Config{
		Host:      "127.0.0.1",
		Port:      8001,
		TokenPath: filepath.Join(t.TempDir(), "token"),
		Transport: newEchoTransport(),
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close(context.Background(), "test done") })
	return client
}

func TestPollerTransmitsLatestFrame(t *testing.T) {
	client := newConnectedClient(t)
	holder := &tracking.Holder{}
	holder.Store(tracking.Frame{
		FaceFound: true,
		Params:    []tracking.Param{{ID: "MouthOpen", Value: 0.5}},
	})

	bus := eventbus.New()
	statsSub := bus.Subscribe(eventbus.TopicBridgeStats)
	defer statsSub.Close()

	p := poller.New(poller.Options{
		Client:   client,
		Frames:   holder,
		Bus:      bus,
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !p.Start(ctx) {
		t.Fatal("start returned false on an idle poller")
	}
	defer p.Stop()

	select {
	case env := <-statsSub.C():
		event, ok := env.Payload.(eventbus.StatsEvent)
		if !ok {
			t.Fatalf("expected StatsEvent, got %T", env.Payload)
		}
		if event.Stats.MessagesSent == 0 {
			t.Fatal("expected at least one transmitted message")
		}
		if event.Stats.CurrentEntity == nil || event.Stats.CurrentEntity.Params[0].ID != "MouthOpen" {
			t.Fatalf("unexpected current entity %+v", event.Stats.CurrentEntity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller never transmitted")
	}
}

func TestPollerSkipsWithoutFrames(t *testing.T) {
	client := newConnectedClient(t)

	p := poller.New(poller.Options{
		Client:   client,
		Frames:   &tracking.Holder{},
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	if got := client.GetStats().MessagesSent; got != 0 {
		t.Fatalf("expected no transmissions without frames, got %d", got)
	}
}

func TestPollerStartIsIdempotentWhileRunning(t *testing.T) {
	client := newConnectedClient(t)
	p := poller.New(poller.Options{
		Client:   client,
		Frames:   &tracking.Holder{},
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !p.Start(ctx) {
		t.Fatal("first start failed")
	}
	if p.Start(ctx) {
		t.Fatal("second start must be a no-op while running")
	}
	if !p.Running() {
		t.Fatal("expected poller to report running")
	}

	p.Stop()
	if p.Running() {
		t.Fatal("expected poller to be stopped")
	}

	// A completed task may be replaced.
	if !p.Start(ctx) {
		t.Fatal("restart after stop failed")
	}
	p.Stop()
}

func TestPollerStopIdle(t *testing.T) {
	p := poller.New(poller.Options{Client: nil, Frames: &tracking.Holder{}})
	p.Stop() // must not panic or block
	if p.Running() {
		t.Fatal("idle poller reports running")
	}
}
