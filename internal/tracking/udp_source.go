package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"
)

const (
	readBufferSize  = 64 * 1024
	sourceQueueSize = 64
)

// UDPSource receives JSON-encoded tracking frames pushed by an external
// tracker (phone or webcam app) over UDP. Malformed datagrams are logged
// and skipped; a slow consumer drops the oldest queued frame first so the
// stream stays current.
type UDPSource struct {
	conn   *net.UDPConn
	logger *log.Logger
	frames chan Frame
}

// NewUDPSource binds addr (e.g. ":21412") and starts receiving once Run
// is called.
func NewUDPSource(addr string, logger *log.Logger) (*UDPSource, error) {
	if logger == nil {
		logger = log.Default()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("tracking: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("tracking: listen %s: %w", addr, err)
	}

	return &UDPSource{
		conn:   conn,
		logger: logger,
		frames: make(chan Frame, sourceQueueSize),
	}, nil
}

// Frames exposes the inbound frame stream. The channel closes when Run
// returns.
func (s *UDPSource) Frames() <-chan Frame {
	return s.frames
}

// LocalAddr reports the bound address (useful when addr used port 0).
func (s *UDPSource) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Run reads datagrams until ctx is cancelled or the socket fails.
func (s *UDPSource) Run(ctx context.Context) error {
	defer close(s.frames)

	go func() {
		<-ctx.Done()
		s.conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tracking: read: %w", err)
		}

		var frame Frame
		if err := json.Unmarshal(buf[:n], &frame); err != nil {
			s.logger.Printf("[tracking] dropping malformed datagram: %v", err)
			continue
		}

		select {
		case s.frames <- frame:
		default:
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

// Close releases the socket. Run unblocks with an error shortly after.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}
