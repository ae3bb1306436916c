package udp

import (
	"fmt"
	"net"

	"packet-racers/pkg/logger"
)

// UDPTransport sends best-effort datagrams to one fixed remote peer.
type UDPTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

// New binds local (":0" or "" for an ephemeral port) and fixes remote as the peer.
func New(local, remote string) (*UDPTransport, error) {
	conn, remoteAddr, err := Bind(local, remote)
	if err != nil {
		return nil, err
	}
	logger.Sugar.Debugf("[UDPTransport] bound: local=%s remote=%s", conn.LocalAddr(), remoteAddr)
	return &UDPTransport{conn: conn, remote: remoteAddr}, nil
}

// Bind resolves both endpoints and opens an unconnected socket on local.
func Bind(local, remote string) (*net.UDPConn, *net.UDPAddr, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve remote %s: %w", remote, err)
	}
	if local == "" {
		local = ":0"
	}
	localAddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve local %s: %w", local, err)
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("bind %s: %w", local, err)
	}
	return conn, remoteAddr, nil
}

// Send is fire-and-forget.
func (t *UDPTransport) Send(packet []byte) (int, error) {
	return t.conn.WriteToUDP(packet, t.remote)
}

// Receive returns the first datagram from any sender; the source is assumed to be the peer.
func (t *UDPTransport) Receive(buf []byte) (int, error) {
	n, _, err := t.conn.ReadFromUDP(buf)
	return n, err
}

func (t *UDPTransport) Name() string {
	return "udp"
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}
