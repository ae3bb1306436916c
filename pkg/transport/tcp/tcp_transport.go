package tcp

import (
	"fmt"
	"net"

	"packet-racers/pkg/logger"
)

// TCPTransport implements transport.Transport over one connected stream.
// There is no framing: each Send is flushed immediately and Receive returns
// whatever the stream has ready.
type TCPTransport struct {
	conn net.Conn
}

// Dial connects to remote and disables Nagle so every Send goes out promptly.
func Dial(remote string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", remote)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	return NewTCPTransport(conn)
}

// NewTCPTransport wraps an already connected stream.
func NewTCPTransport(conn net.Conn) (*TCPTransport, error) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set nodelay: %w", err)
		}
	}
	logger.Sugar.Debugf("[TCPTransport] connected: local=%s remote=%s", conn.LocalAddr(), conn.RemoteAddr())
	return &TCPTransport{conn: conn}, nil
}

// Send writes the whole packet. net.Conn.Write only returns early on error.
func (t *TCPTransport) Send(packet []byte) (int, error) {
	if _, err := t.conn.Write(packet); err != nil {
		return 0, err
	}
	return len(packet), nil
}

func (t *TCPTransport) Receive(buf []byte) (int, error) {
	return t.conn.Read(buf)
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

func (t *TCPTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
