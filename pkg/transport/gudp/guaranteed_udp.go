package gudp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"packet-racers/pkg/logger"
	"packet-racers/pkg/monitor"
	"packet-racers/pkg/protocol"
	"packet-racers/pkg/transport/udp"
)

// DefaultAckTimeout bounds each wait for an acknowledgment.
const DefaultAckTimeout = time.Second

// ErrAckTimeout is returned when a bounded send runs out of attempts.
var ErrAckTimeout = errors.New("no acknowledgment received")

// GuaranteedUDP is a stop-and-wait protocol over an unreliable datagram socket.
//
// Send retransmits the packet until the peer answers with protocol.AckToken;
// Receive acknowledges every datagram it reads. Delivery is at-least-once:
// a lost ack makes the sender retransmit and the receiver sees a duplicate.
// There are no sequence numbers and only one packet is ever in flight.
type GuaranteedUDP struct {
	conn        *net.UDPConn
	remote      *net.UDPAddr
	ackTimeout  time.Duration
	maxAttempts int
	metrics     *monitor.Metrics
}

type Option func(*GuaranteedUDP)

// WithAckTimeout sets how long each attempt waits for the ack.
func WithAckTimeout(d time.Duration) Option {
	return func(g *GuaranteedUDP) {
		if d > 0 {
			g.ackTimeout = d
		}
	}
}

// WithMaxAttempts bounds the number of transmissions per packet. Zero keeps
// retrying until the packet is acknowledged.
func WithMaxAttempts(n int) Option {
	return func(g *GuaranteedUDP) {
		if n >= 0 {
			g.maxAttempts = n
		}
	}
}

func WithMetrics(m *monitor.Metrics) Option {
	return func(g *GuaranteedUDP) {
		g.metrics = m
	}
}

// New binds local and fixes remote as the only peer.
func New(local, remote string, opts ...Option) (*GuaranteedUDP, error) {
	conn, remoteAddr, err := udp.Bind(local, remote)
	if err != nil {
		return nil, err
	}
	g := &GuaranteedUDP{
		conn:       conn,
		remote:     remoteAddr,
		ackTimeout: DefaultAckTimeout,
		metrics:    monitor.Global,
	}
	for _, opt := range opts {
		opt(g)
	}
	logger.Sugar.Debugf("[GUDP] bound: local=%s remote=%s ackTimeout=%s maxAttempts=%d",
		conn.LocalAddr(), remoteAddr, g.ackTimeout, g.maxAttempts)
	return g, nil
}

// Send blocks until the remote acknowledges the packet.
//
// A lost, late, truncated or foreign ack is transient and triggers a
// retransmission. A failed write, or a socket closed underneath the wait, is
// permanent and returned at once.
func (g *GuaranteedUDP) Send(packet []byte) (int, error) {
	// one spare byte so an oversized reply is not mistaken for the token
	ack := make([]byte, protocol.AckSize+1)

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			g.metrics.RecordRetransmission()
		}
		if _, err := g.conn.WriteToUDP(packet, g.remote); err != nil {
			return 0, fmt.Errorf("send to %s: %w", g.remote, err)
		}

		acked, err := g.awaitAck(ack)
		if err != nil {
			return 0, err
		}
		if acked {
			if attempt > 1 {
				logger.Sugar.Debugf("[GUDP] acked after %d attempts: remote=%s bytes=%d", attempt, g.remote, len(packet))
			}
			return len(packet), nil
		}

		if g.maxAttempts > 0 && attempt >= g.maxAttempts {
			return 0, fmt.Errorf("%w from %s after %d attempts", ErrAckTimeout, g.remote, attempt)
		}
		logger.Sugar.Debugf("[GUDP] no ack, retransmitting: remote=%s attempt=%d", g.remote, attempt+1)
	}
}

// awaitAck reports whether one well-formed ack arrived within the timeout.
func (g *GuaranteedUDP) awaitAck(buf []byte) (bool, error) {
	if err := g.conn.SetReadDeadline(time.Now().Add(g.ackTimeout)); err != nil {
		return false, fmt.Errorf("set ack deadline: %w", err)
	}
	defer g.conn.SetReadDeadline(time.Time{})

	n, _, err := g.conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return false, fmt.Errorf("await ack: %w", err)
		}
		return false, nil
	}
	return n == protocol.AckSize && bytes.Equal(buf[:n], protocol.AckToken), nil
}

// Receive reads one datagram and acknowledges it to the fixed remote,
// duplicates included.
func (g *GuaranteedUDP) Receive(buf []byte) (int, error) {
	n, _, err := g.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, err
	}
	if _, err := g.conn.WriteToUDP(protocol.AckToken, g.remote); err != nil {
		return n, fmt.Errorf("ack to %s: %w", g.remote, err)
	}
	return n, nil
}

func (g *GuaranteedUDP) Name() string {
	return "guaranteed_udp"
}

// Close releases the socket. A Send blocked waiting for an ack returns net.ErrClosed.
func (g *GuaranteedUDP) Close() error {
	return g.conn.Close()
}

func (g *GuaranteedUDP) LocalAddr() *net.UDPAddr {
	return g.conn.LocalAddr().(*net.UDPAddr)
}
