package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout  = 10 * time.Second
	defaultSendWindow = 5 * time.Second
	closeGracePeriod  = 2 * time.Second
)

// Websocket is the gorilla/websocket implementation of Transport.
type Websocket struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	writeMu sync.Mutex // serialises frames on the wire
}

// NewWebsocket builds a transport that will dial ws://host:port.
func NewWebsocket(host string, port int) *Websocket {
	return &Websocket{
		url: fmt.Sprintf("ws://%s:%d", host, port),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// URL returns the endpoint the transport dials.
func (t *Websocket) URL() string {
	return t.url
}

// Connect dials the endpoint. The transport must not already be connected.
func (t *Websocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return errors.New("transport: already connected")
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.url, err)
	}
	t.conn = conn
	return nil
}

// Send writes one text frame, honouring the context deadline if one is set.
func (t *Websocket) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultSendWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive blocks for the next text frame. Binary frames are skipped; the
// protocol is JSON-only.
func (t *Websocket) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return payload, nil
		}
	}
}

// Close sends a close frame carrying reason, then tears the connection
// down. Closing an unconnected transport is a no-op.
func (t *Websocket) Close(ctx context.Context, reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(closeGracePeriod)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
	t.writeMu.Unlock()

	return conn.Close()
}

// IsNormalClose reports whether err is an orderly shutdown rather than a
// transport failure.
func IsNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF)
}
