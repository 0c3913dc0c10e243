package vts

import (
	"context"
	"net"
	"time"

	"github.com/facebridge-ai/facebridge/internal/protocol"
)

const (
	// DiscoveryAddr is the UDP address the host broadcasts its API state
	// on.
	DiscoveryAddr = ":47779"

	defaultDiscoveryWait = 3 * time.Second
)

// DiscoverPort listens for the host's UDP state broadcast and returns the
// announced API port. The wait is bounded independently of the caller's
// context; when no announcement arrives in time the configured port is
// returned so startup stays deterministic. DiscoverPort never fails on a
// quiet network, only on a socket that cannot be opened.
func (c *Client) DiscoverPort(ctx context.Context) (int, error) {
	addr := c.cfg.DiscoveryAddr
	if addr == "" {
		addr = DiscoveryAddr
	}
	wait := c.cfg.DiscoveryWait
	if wait <= 0 {
		wait = defaultDiscoveryWait
	}

	c.logger.Printf("[vts] discovering API port (listening on %s for %s)", addr, wait)

	fallback := c.cfg.Port
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		c.logger.Printf("[vts] discovery unavailable, using configured port %d: %v", fallback, err)
		return fallback, nil
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		c.logger.Printf("[vts] discovery unavailable, using configured port %d: %v", fallback, err)
		return fallback, nil
	}
	defer conn.Close()

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			c.logger.Printf("[vts] no API state broadcast observed, using configured port %d", fallback)
			return fallback, nil
		}

		resp, err := protocol.DecodeResponse(buf[:n])
		if err != nil || resp.MessageType != protocol.MessageStateBroadcast {
			continue
		}
		payload, err := protocol.DecodeData(resp)
		if err != nil {
			continue
		}
		broadcast, ok := payload.(*protocol.StateBroadcastData)
		if !ok || broadcast.Port <= 0 {
			continue
		}

		c.logger.Printf("[vts] discovered API port %d (instance %s)", broadcast.Port, broadcast.InstanceID)
		return broadcast.Port, nil
	}
}
