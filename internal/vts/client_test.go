package vts_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebridge-ai/facebridge/internal/protocol"
	"github.com/facebridge-ai/facebridge/internal/tracking"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

// fakeTransport scripts the host side of the protocol. Each queued
// responder answers one outbound request; requests without a responder
// get no reply.
type fakeTransport struct {
	connectErr error

	mu         sync.Mutex
	requests   []protocol.Request
	responders []func(req protocol.Request) []byte
	frames     chan []byte
	closed     bool
	closeReas  string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 16)}
}

func (t *fakeTransport) respond(fn func(req protocol.Request) []byte) {
	t.mu.Lock()
	t.responders = append(t.responders, fn)
	t.mu.Unlock()
}

func (t *fakeTransport) sentTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := make([]string, 0, len(t.requests))
	for _, req := range t.requests {
		types = append(types, req.MessageType)
	}
	return types
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	return t.connectErr
}

func (t *fakeTransport) Send(ctx context.Context, payload []byte) error {
	var req protocol.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("fake transport closed")
	}
	t.requests = append(t.requests, req)
	var fn func(req protocol.Request) []byte
	if len(t.responders) > 0 {
		fn = t.responders[0]
		t.responders = t.responders[1:]
	}
	t.mu.Unlock()

	if fn != nil {
		if frame := fn(req); frame != nil {
			t.frames <- frame
		}
	}
	return nil
}

func (t *fakeTransport) Receive() ([]byte, error) {
	frame, ok := <-t.frames
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (t *fakeTransport) Close(ctx context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.closeReas = reason
	close(t.frames)
	return nil
}

func makeResponse(t *testing.T, requestID, messageType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal response data: %v", err)
	}
	frame, err := json.Marshal(protocol.Response{
		APIName:     protocol.APIName,
		APIVersion:  protocol.APIVersion,
		RequestID:   requestID,
		MessageType: messageType,
		Timestamp:   time.Now().UnixMilli(),
		Data:        raw,
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return frame
}

func newTestClient(t *testing.T, tr *fakeTransport) *vts.Client {
	t.Helper()
	return vts.New(vts.Config{
		Host:            "127.0.0.1",
		Port:            8001,
		PluginName:      "facebridge",
		PluginDeveloper: "facebridge-ai",
		TokenPath:       filepath.Join(t.TempDir(), "token"),
		Transport:       tr,
	})
}

func testFrame() tracking.Frame {
	return tracking.Frame{
		FaceFound: true,
		Params: []tracking.Param{
			{ID: "MouthOpen", Value: 0.4, Min: 0, Max: 1, DefaultValue: 0},
			{ID: "EyeLeftX", Value: -0.2, Min: -1, Max: 1, DefaultValue: 0},
		},
	}
}

func TestConnectCloseTransitions(t *testing.T) {
	client := newTestClient(t, newFakeTransport())
	ctx := context.Background()

	if got := client.State(); got != vts.StateUnconnected {
		t.Fatalf("expected Unconnected, got %s", got)
	}

	// Close before any Connect is a no-op that stays Unconnected.
	if err := client.Close(ctx, "defensive"); err != nil {
		t.Fatalf("close before connect: %v", err)
	}
	if got := client.State(); got != vts.StateUnconnected {
		t.Fatalf("expected Unconnected after no-op close, got %s", got)
	}

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := client.State(); got != vts.StateOpen {
		t.Fatalf("expected Open, got %s", got)
	}

	// Connect from Open always fails with invalid-state.
	err := client.Connect(ctx)
	if !vts.IsInvalidState(err) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}

	if err := client.Close(ctx, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := client.State(); got != vts.StateClosed {
		t.Fatalf("expected Closed, got %s", got)
	}

	// Close is idempotent.
	if err := client.Close(ctx, "again"); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Connect from Closed fails too; there is no implicit reconnect.
	if err := client.Connect(ctx); !vts.IsInvalidState(err) {
		t.Fatalf("expected invalid-state error from Closed, got %v", err)
	}
}

func TestConnectFailureCountsAndStaysUnconnected(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("connection refused")
	client := newTestClient(t, tr)

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if got := client.State(); got != vts.StateUnconnected {
		t.Fatalf("expected Unconnected after failure, got %s", got)
	}

	stats := client.GetStats()
	if stats.FailedConnections != 1 || stats.ConnectionAttempts != 0 {
		t.Fatalf("unexpected counters: failed=%d attempts=%d", stats.FailedConnections, stats.ConnectionAttempts)
	}
}

func TestAuthenticateBeforeConnect(t *testing.T) {
	client := newTestClient(t, newFakeTransport())

	if _, err := client.Authenticate(context.Background(), "some-token"); !vts.IsInvalidState(err) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestSendTrackingBeforeConnect(t *testing.T) {
	client := newTestClient(t, newFakeTransport())

	if err := client.SendTracking(context.Background(), testFrame()); !vts.IsInvalidState(err) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestAuthenticateMintsAndPersistsToken(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageTokenResponse,
			protocol.TokenResponseData{AuthenticationToken: "minted-token-123"})
	})
	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageAuthenticationResponse,
			protocol.AuthenticationResponseData{Authenticated: true, Reason: "Token valid"})
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ok, err := client.Authenticate(ctx, "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !ok {
		t.Fatal("expected authentication to succeed")
	}

	data, err := os.ReadFile(client.Config().TokenPath)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	if string(data) != "minted-token-123" {
		t.Fatalf("expected persisted token verbatim, got %q", string(data))
	}

	types := tr.sentTypes()
	want := []string{protocol.MessageTokenRequest, protocol.MessageAuthentication}
	if len(types) != len(want) || types[0] != want[0] || types[1] != want[1] {
		t.Fatalf("unexpected request sequence: %v", types)
	}
}

func TestAuthenticateUsesStoredToken(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	if err := client.SaveToken("stored-token"); err != nil {
		t.Fatalf("save token: %v", err)
	}

	tr.respond(func(req protocol.Request) []byte {
		var data protocol.AuthenticationRequestData
		if err := json.Unmarshal(mustMarshal(t, req.Data), &data); err != nil {
			t.Errorf("decode auth request data: %v", err)
		}
		if data.AuthenticationToken != "stored-token" {
			t.Errorf("expected stored token on the wire, got %q", data.AuthenticationToken)
		}
		return makeResponse(t, req.RequestID, protocol.MessageAuthenticationResponse,
			protocol.AuthenticationResponseData{Authenticated: true, Reason: "Token valid"})
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ok, err := client.Authenticate(ctx, "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !ok {
		t.Fatal("expected authentication to succeed")
	}

	for _, mt := range tr.sentTypes() {
		if mt == protocol.MessageTokenRequest {
			t.Fatal("token request issued despite a persisted token")
		}
	}
}

func TestAuthenticateRejectionLeavesTokenFile(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	if err := client.SaveToken("still-here"); err != nil {
		t.Fatalf("save token: %v", err)
	}

	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageAuthenticationResponse,
			protocol.AuthenticationResponseData{Authenticated: false, Reason: "Token expired"})
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ok, err := client.Authenticate(ctx, "explicit-token")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ok {
		t.Fatal("expected authentication rejection")
	}

	data, err := os.ReadFile(client.Config().TokenPath)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	if string(data) != "still-here" {
		t.Fatalf("rejection must not alter the persisted token, got %q", string(data))
	}
}

func TestAuthenticateLogsResultOnce(t *testing.T) {
	var logs bytes.Buffer
	tr := newFakeTransport()
	client := vts.New(vts.Config{
		Host:            "127.0.0.1",
		Port:            8001,
		PluginName:      "facebridge",
		PluginDeveloper: "facebridge-ai",
		TokenPath:       filepath.Join(t.TempDir(), "token"),
		Transport:       tr,
		Logger:          log.New(&logs, "", 0),
	})
	ctx := context.Background()

	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageAuthenticationResponse,
			protocol.AuthenticationResponseData{Authenticated: true, Reason: "Token valid"})
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ok, err := client.Authenticate(ctx, "explicit-token")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !ok {
		t.Fatal("expected authentication to succeed")
	}

	if got := strings.Count(logs.String(), "authentication result: true"); got != 1 {
		t.Fatalf("expected exactly one successful result line, got %d:\n%s", got, logs.String())
	}
}

func TestSendTrackingUpdatesStats(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageInjectParameterDataResponse,
			protocol.InjectParameterDataResponseData{})
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	frame := testFrame()
	if err := client.SendTracking(ctx, frame); err != nil {
		t.Fatalf("send tracking: %v", err)
	}

	stats := client.GetStats()
	if stats.ServiceName != vts.ServiceName {
		t.Fatalf("unexpected service name %q", stats.ServiceName)
	}
	if stats.MessagesSent != 1 || stats.ConnectionAttempts != 1 || stats.FailedConnections != 0 {
		t.Fatalf("unexpected counters: sent=%d attempts=%d failed=%d",
			stats.MessagesSent, stats.ConnectionAttempts, stats.FailedConnections)
	}
	if stats.CurrentEntity == nil {
		t.Fatal("expected current entity after send")
	}
	if stats.CurrentEntity.FaceFound != frame.FaceFound {
		t.Fatal("current entity faceFound mismatch")
	}
	if len(stats.CurrentEntity.Params) != len(frame.Params) {
		t.Fatalf("current entity has %d params, want %d", len(stats.CurrentEntity.Params), len(frame.Params))
	}
	for i, p := range frame.Params {
		got := stats.CurrentEntity.Params[i]
		if got != p {
			t.Fatalf("param %d mismatch: got %+v want %+v", i, got, p)
		}
	}
}

func TestSendTrackingAPIError(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageAPIError,
			protocol.APIErrorData{ErrorID: 50, Message: "session not authenticated"})
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err := client.SendTracking(ctx, testFrame())
	var apiErr *protocol.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.ErrorID != 50 {
		t.Fatalf("unexpected error id %d", apiErr.ErrorID)
	}

	stats := client.GetStats()
	if stats.MessagesSent != 0 {
		t.Fatalf("rejected send must not count, got %d", stats.MessagesSent)
	}
	if stats.CurrentEntity == nil {
		t.Fatal("current entity records the attempt even when the host rejects it")
	}
}

func TestRequestCancellation(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// No responder queued: the request would wait forever.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.SendTracking(ctx, testFrame())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The pending slot was reclaimed; a scripted request still works.
	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageInjectParameterDataResponse,
			protocol.InjectParameterDataResponseData{})
	})
	if err := client.SendTracking(context.Background(), testFrame()); err != nil {
		t.Fatalf("send after cancellation: %v", err)
	}
}

func TestConnectionLostFailsPending(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- client.SendTracking(ctx, testFrame())
	}()

	// Let the request register, then kill the transport.
	time.Sleep(20 * time.Millisecond)
	tr.Close(ctx, "host went away")

	select {
	case err := <-done:
		if !errors.Is(err, vts.ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request was not resolved on transport loss")
	}
}

func TestConcurrentConnectSingleWinner(t *testing.T) {
	client := newTestClient(t, newFakeTransport())

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, invalid int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case vts.IsInvalidState(err):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful connect, got %d", succeeded)
	}
	if invalid != callers-1 {
		t.Fatalf("expected %d invalid-state errors, got %d", callers-1, invalid)
	}
}

func TestStatsSnapshotNotTorn(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	const sends = 50
	for i := 0; i < sends; i++ {
		tr.respond(func(req protocol.Request) []byte {
			return makeResponse(t, req.RequestID, protocol.MessageInjectParameterDataResponse,
				protocol.InjectParameterDataResponseData{})
		})
	}

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				stats := client.GetStats()
				if stats.MessagesSent > 0 && stats.CurrentEntity == nil {
					t.Error("observed counter increment without current entity")
					return
				}
			}
		}()
	}

	for i := 0; i < sends; i++ {
		if err := client.SendTracking(ctx, testFrame()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	close(stop)
	readers.Wait()

	if got := client.GetStats().MessagesSent; got != sends {
		t.Fatalf("expected %d messages sent, got %d", sends, got)
	}
}

func TestUnmatchedFrameIsDropped(t *testing.T) {
	tr := newFakeTransport()
	client := newTestClient(t, tr)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// A frame nobody asked for must not disturb the next request.
	tr.frames <- makeResponse(t, "no-such-request", protocol.MessageAuthenticationResponse,
		protocol.AuthenticationResponseData{Authenticated: true})

	tr.respond(func(req protocol.Request) []byte {
		return makeResponse(t, req.RequestID, protocol.MessageInjectParameterDataResponse,
			protocol.InjectParameterDataResponseData{})
	})
	if err := client.SendTracking(ctx, testFrame()); err != nil {
		t.Fatalf("send tracking: %v", err)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func ExampleClient_GetStats() {
	client := vts.New(vts.Config{Host: "127.0.0.1", Port: 8001})
	stats := client.GetStats()
	fmt.Println(stats.ServiceName, stats.Status)
	// Output: VTube Studio Unconnected
}
