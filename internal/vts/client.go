// Package vts implements the protocol client for the VTube Studio public
// API: connection lifecycle, token acquisition and persistence,
// request/response correlation and live service statistics.
package vts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/facebridge-ai/facebridge/internal/protocol"
	"github.com/facebridge-ai/facebridge/internal/tracking"
	"github.com/facebridge-ai/facebridge/internal/transport"
)

// DefaultPort is the port the host listens on unless discovery says
// otherwise.
const DefaultPort = 8001

// Config identifies this plugin to the host and locates the token file.
// Immutable for the lifetime of a client instance.
type Config struct {
	Host            string
	Port            int
	PluginName      string
	PluginDeveloper string
	TokenPath       string

	// DiscoveryAddr overrides the UDP address watched for the host's
	// state broadcast (defaults to the well-known broadcast port).
	DiscoveryAddr string
	// DiscoveryWait bounds how long DiscoverPort listens before falling
	// back to the configured port.
	DiscoveryWait time.Duration

	// Transport overrides the websocket transport (tests).
	Transport transport.Transport
	Logger    *log.Logger
}

type pendingResult struct {
	payload any
	err     error
}

// Client is the protocol client. One client owns one transport; a single
// receive loop resolves correlated responses and is the only writer of
// the transmission counters.
type Client struct {
	cfg    Config
	logger *log.Logger
	tokens *TokenStore

	mu            sync.Mutex // state machine, counters, currentEntity
	state         ConnectionState
	connecting    bool
	tr            transport.Transport
	connectedAt   time.Time
	messagesSent  uint64
	attempts      uint64
	failures      uint64
	currentEntity *tracking.Frame
	token         string

	reqMu sync.Mutex // one outstanding request at a time

	pendingMu sync.Mutex
	pending   map[string]chan pendingResult
}

// New constructs an unconnected client.
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		tokens:  NewTokenStore(cfg.TokenPath),
		state:   StateUnconnected,
		pending: make(map[string]chan pendingResult),
	}
}

// Config returns the identity the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// Connect establishes the transport connection. Only legal from
// Unconnected; there is no implicit reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnconnected || c.connecting {
		state := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "connect", State: state}
	}
	c.connecting = true
	tr := c.cfg.Transport
	if tr == nil {
		tr = transport.NewWebsocket(c.cfg.Host, c.cfg.Port)
	}
	c.mu.Unlock()

	err := tr.Connect(ctx)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.failures++
		c.mu.Unlock()
		c.logger.Printf("[vts] connect %s:%d failed: %v", c.cfg.Host, c.cfg.Port, err)
		return fmt.Errorf("vts: connect: %w", err)
	}
	c.state = StateOpen
	c.tr = tr
	c.attempts++
	c.connectedAt = time.Now()
	c.mu.Unlock()

	c.logger.Printf("[vts] connected to %s:%d", c.cfg.Host, c.cfg.Port)
	go c.readLoop(tr)
	return nil
}

// Close sends a close frame and releases the transport. Closing a client
// that is not Open is a no-op so callers may close defensively.
func (c *Client) Close(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	tr := c.tr
	c.tr = nil
	c.mu.Unlock()

	err := tr.Close(ctx, reason)
	// The read loop also fails pending when Receive returns after the
	// transport closes; failPending drains the map, so whichever runs
	// second finds it empty.
	c.failPending(ErrConnectionLost)
	c.logger.Printf("[vts] connection closed (%s)", reason)
	if err != nil {
		return fmt.Errorf("vts: close: %w", err)
	}
	return nil
}

// State reports the current lifecycle state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestToken asks the host to mint a new authentication token. The
// token is returned, not persisted; SaveToken is a separate step.
func (c *Client) RequestToken(ctx context.Context) (string, error) {
	payload, err := c.request(ctx, "request token", protocol.MessageTokenRequest, protocol.TokenRequestData{
		PluginName:      c.cfg.PluginName,
		PluginDeveloper: c.cfg.PluginDeveloper,
	})
	if err != nil {
		return "", err
	}
	data, ok := payload.(*protocol.TokenResponseData)
	if !ok {
		return "", &protocol.ProtocolError{Detail: fmt.Sprintf("unexpected token response payload %T", payload)}
	}
	c.logger.Printf("[vts] received new authentication token")
	return data.AuthenticationToken, nil
}

// SaveToken persists token for future runs. Overwrites any previous one.
func (c *Client) SaveToken(token string) error {
	if err := c.tokens.Save(token); err != nil {
		return err
	}
	c.logger.Printf("[vts] saved authentication token to %s", c.tokens.Path())
	return nil
}

// ClearToken removes the persisted token and the in-memory copy.
func (c *Client) ClearToken() error {
	if err := c.tokens.Clear(); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.logger.Printf("[vts] cleared authentication token")
	return nil
}

// Authenticate resolves a token (explicit argument, then the persisted
// one, then a fresh request that is saved) and authenticates the session.
// A rejection is returned as false, not an error; the client neither
// clears the token nor retries on its own.
func (c *Client) Authenticate(ctx context.Context, optionalToken string) (bool, error) {
	if err := c.requireOpen("authenticate"); err != nil {
		return false, err
	}

	token := optionalToken
	if token == "" {
		stored, ok, err := c.tokens.Load()
		if err != nil {
			return false, err
		}
		if ok {
			token = stored
		}
	}
	if token == "" {
		minted, err := c.RequestToken(ctx)
		if err != nil {
			return false, err
		}
		if err := c.SaveToken(minted); err != nil {
			return false, err
		}
		token = minted
	}

	payload, err := c.request(ctx, "authenticate", protocol.MessageAuthentication, protocol.AuthenticationRequestData{
		PluginName:          c.cfg.PluginName,
		PluginDeveloper:     c.cfg.PluginDeveloper,
		AuthenticationToken: token,
	})
	if err != nil {
		return false, err
	}
	data, ok := payload.(*protocol.AuthenticationResponseData)
	if !ok {
		return false, &protocol.ProtocolError{Detail: fmt.Sprintf("unexpected authentication response payload %T", payload)}
	}

	c.logger.Printf("[vts] authentication result: %t (%s)", data.Authenticated, data.Reason)
	if data.Authenticated {
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
	}
	return data.Authenticated, nil
}

// SendTracking transmits one frame. The frame is recorded as the current
// entity on every attempt; the sent counter only advances on a positive
// acknowledgement.
func (c *Client) SendTracking(ctx context.Context, frame tracking.Frame) error {
	if err := c.requireOpen("send tracking"); err != nil {
		return err
	}

	entity := frame.Clone()
	c.mu.Lock()
	c.currentEntity = &entity
	c.mu.Unlock()

	values := make([]protocol.ParameterValue, 0, len(frame.Params))
	for _, p := range frame.Params {
		values = append(values, protocol.ParameterValue{ID: p.ID, Value: p.Value})
	}

	_, err := c.request(ctx, "send tracking", protocol.MessageInjectParameterData, protocol.InjectParameterDataRequestData{
		FaceFound:       frame.FaceFound,
		Mode:            "set",
		ParameterValues: values,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.messagesSent++
	c.mu.Unlock()
	return nil
}

// CheckState queries host availability. Used by the slow network-status
// poller; it issues a real request, so callers own the refresh cadence.
func (c *Client) CheckState(ctx context.Context) (*protocol.APIStateResponseData, error) {
	payload, err := c.request(ctx, "check state", protocol.MessageAPIState, protocol.APIStateRequestData{})
	if err != nil {
		return nil, err
	}
	data, ok := payload.(*protocol.APIStateResponseData)
	if !ok {
		return nil, &protocol.ProtocolError{Detail: fmt.Sprintf("unexpected state response payload %T", payload)}
	}
	return data, nil
}

// GetStats returns a snapshot of the client counters. It never blocks on
// the network and never hands out live references.
func (c *Client) GetStats() ServiceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ServiceStats{
		ServiceName:        ServiceName,
		Status:             c.state,
		MessagesSent:       c.messagesSent,
		ConnectionAttempts: c.attempts,
		FailedConnections:  c.failures,
	}
	if c.state == StateOpen && !c.connectedAt.IsZero() {
		stats.UptimeSeconds = time.Since(c.connectedAt).Seconds()
	}
	if c.currentEntity != nil {
		entity := c.currentEntity.Clone()
		stats.CurrentEntity = &entity
	}
	return stats
}

func (c *Client) requireOpen(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return &InvalidStateError{Op: op, State: c.state}
	}
	return nil
}

// request issues one correlated request and waits for its response.
// Requests are serialised: the write path must not interleave frames and
// the host is treated as single-in-flight.
func (c *Client) request(ctx context.Context, op, messageType string, data any) (any, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	if c.state != StateOpen {
		state := c.state
		c.mu.Unlock()
		return nil, &InvalidStateError{Op: op, State: state}
	}
	tr := c.tr
	c.mu.Unlock()

	requestID := uuid.NewString()
	frame, err := protocol.EncodeRequest(requestID, messageType, data)
	if err != nil {
		return nil, err
	}

	ch := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = ch
	c.pendingMu.Unlock()

	if err := tr.Send(ctx, frame); err != nil {
		c.removePending(requestID)
		c.logger.Printf("[vts] %s: send failed: %v", op, err)
		return nil, fmt.Errorf("vts: %s: %w", op, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			c.logger.Printf("[vts] %s: %v", op, res.err)
			return nil, res.err
		}
		return res.payload, nil
	case <-ctx.Done():
		c.removePending(requestID)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(requestID string) {
	c.pendingMu.Lock()
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- pendingResult{err: err}
	}
	c.pendingMu.Unlock()
}

// readLoop is the single reader of the transport. It decodes inbound
// envelopes and resolves the matching pending request; frames with no
// match are logged and dropped. A transport failure fails every pending
// request with ErrConnectionLost.
func (c *Client) readLoop(tr transport.Transport) {
	for {
		frame, err := tr.Receive()
		if err != nil {
			if !transport.IsNormalClose(err) {
				c.logger.Printf("[vts] receive loop ended: %v", err)
			}
			c.failPending(ErrConnectionLost)
			return
		}

		resp, err := protocol.DecodeResponse(frame)
		if err != nil {
			c.logger.Printf("[vts] dropping malformed frame: %v", err)
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Printf("[vts] dropping unmatched %s frame (requestID %s)", resp.MessageType, resp.RequestID)
			continue
		}

		payload, err := protocol.DecodeData(resp)
		ch <- pendingResult{payload: payload, err: err}
	}
}
