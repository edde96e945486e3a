package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"quakenotify/pkg/bus"
	"quakenotify/pkg/envelope"
	"quakenotify/pkg/failure"
)

const maxDatagramBytes = 8192

// UDPSource treats every datagram as one queue payload.
type UDPSource struct {
	conn net.PacketConn
	log  *slog.Logger
}

// ListenUDP binds address right away so a port conflict is reported at
// startup.
func ListenUDP(address string, log *slog.Logger) (*UDPSource, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, failure.Configurationf("source.address is required")
	}

	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, failure.Configurationf("listen on %s: %v", address, err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &UDPSource{
		conn: conn,
		log:  log.With("component", "source.udp", "address", conn.LocalAddr().String()),
	}, nil
}

func (s *UDPSource) Name() string { return "udp" }

// LocalAddr returns the bound address.
func (s *UDPSource) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Run reads datagrams until ctx ends. The socket is closed on return.
func (s *UDPSource) Run(ctx context.Context, b *bus.Bus) error {
	if ctx == nil {
		ctx = context.Background()
	}

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	s.log.Info("UDP source started")

	buf := make([]byte, maxDatagramBytes)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("UDP source stopped")
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}

		env := envelope.Parse(buf[:n])
		s.log.Debug("Received payload", "from", from.String(), "kind", env.Kind.String(), "envelope_id", env.ID)
		if !b.Publish(ctx, env) {
			return nil
		}
	}
}

// Send writes one payload to a UDP address.
func Send(ctx context.Context, address string, payload []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write to %s: %w", address, err)
	}

	return nil
}
