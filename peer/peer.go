package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"packet-racers/directory"
	"packet-racers/pkg/config"
	"packet-racers/pkg/discovery"
	"packet-racers/pkg/logger"
	"packet-racers/pkg/protocol"
	"packet-racers/pkg/transport"
	"packet-racers/pkg/transport/gudp"
	"packet-racers/pkg/transport/tcp"
	"packet-racers/pkg/transport/udp"
)

var (
	ErrAlreadyListening = errors.New("node is already listening")
	ErrNoDirectory      = errors.New("no directory service known")
)

// Node is one addressable participant: a random identifier plus the address
// its listeners bind. The identity is read-mostly and safe to share.
type Node struct {
	id uuid.UUID

	mu          sync.RWMutex
	addr        netip.AddrPort
	directories []string
	listener    net.Listener
	udpConn     *net.UDPConn
	conns       map[net.Conn]struct{}

	streamSink   *Sink
	datagramSink *Sink

	packetSize       int
	ackTimeout       time.Duration
	ackMaxAttempts   int
	streamSinkPath   string
	datagramSinkPath string

	wg sync.WaitGroup
}

type NodeOption func(*Node)

func WithPacketSize(size int) NodeOption {
	return func(n *Node) {
		if size > 0 {
			n.packetSize = size
		}
	}
}

func WithAckTimeout(d time.Duration) NodeOption {
	return func(n *Node) {
		if d > 0 {
			n.ackTimeout = d
		}
	}
}

// WithAckMaxAttempts bounds reliable datagram retransmissions; 0 is unbounded.
func WithAckMaxAttempts(attempts int) NodeOption {
	return func(n *Node) {
		if attempts >= 0 {
			n.ackMaxAttempts = attempts
		}
	}
}

// WithSinks sets the files that received stream and datagram data are appended to.
func WithSinks(streamPath, datagramPath string) NodeOption {
	return func(n *Node) {
		n.streamSinkPath = streamPath
		n.datagramSinkPath = datagramPath
	}
}

func WithDirectories(addrs ...string) NodeOption {
	return func(n *Node) {
		n.directories = append(n.directories, addrs...)
	}
}

// NewNode resolves addr ("ip:port") and assigns a fresh identifier.
func NewNode(addr string, opts ...NodeOption) (*Node, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve node address %s: %w", addr, err)
	}
	ap := tcpAddr.AddrPort()
	ip := ap.Addr().Unmap()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}

	n := &Node{
		id:               uuid.New(),
		addr:             netip.AddrPortFrom(ip, ap.Port()),
		packetSize:       config.DefaultPacketSize,
		ackTimeout:       gudp.DefaultAckTimeout,
		streamSinkPath:   config.DefaultStreamSink,
		datagramSinkPath: config.DefaultDatagramSink,
	}
	for _, opt := range opts {
		opt(n)
	}

	logger.Sugar.Infof("[Node] Initialized: id=%s addr=%s", n.id, n.addr)
	return n, nil
}

// NewNodeFromConfig builds a node from loaded configuration.
func NewNodeFromConfig(cfg *config.Config, opts ...NodeOption) (*Node, error) {
	base := []NodeOption{
		WithPacketSize(cfg.PacketSize()),
		WithAckTimeout(cfg.AckTimeout()),
		WithAckMaxAttempts(cfg.AckMaxAttempts()),
		WithSinks(cfg.StreamSinkPath(), cfg.DatagramSinkPath()),
		WithDirectories(cfg.DirectoryAddrs()...),
	}
	return NewNode(cfg.NodeAddr(), append(base, opts...)...)
}

func (n *Node) ID() uuid.UUID {
	return n.id
}

func (n *Node) Addr() netip.AddrPort {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.addr
}

// StartListening binds a stream listener and a datagram socket on the node
// address and serves both until Stop. With port 0 the stream listener picks
// the port and the datagram socket follows it.
func (n *Node) StartListening() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener != nil {
		return ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", n.addr.String())
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", n.addr, err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	bound := netip.AddrPortFrom(n.addr.Addr(), port)

	udpConn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(bound))
	if err != nil {
		ln.Close()
		return fmt.Errorf("listen udp %s: %w", bound, err)
	}

	streamSink, err := OpenSink(n.streamSinkPath)
	if err != nil {
		return multierr.Combine(err, ln.Close(), udpConn.Close())
	}
	datagramSink, err := OpenSink(n.datagramSinkPath)
	if err != nil {
		return multierr.Combine(err, streamSink.Close(), ln.Close(), udpConn.Close())
	}

	n.addr = bound
	n.listener = ln
	n.udpConn = udpConn
	n.conns = make(map[net.Conn]struct{})
	n.streamSink = streamSink
	n.datagramSink = datagramSink

	n.wg.Add(2)
	go n.acceptLoop(ln, streamSink)
	go n.datagramLoop(udpConn, datagramSink)

	logger.Sugar.Infof("[Node] Listening: id=%s addr=%s stream_sink=%s datagram_sink=%s",
		n.id, bound, streamSink.Path(), datagramSink.Path())
	return nil
}

func (n *Node) acceptLoop(ln net.Listener, sink *Sink) {
	defer n.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[Node] accept error: listen=%s err=%v", ln.Addr(), err)
			continue
		}
		if !n.track(conn) {
			conn.Close()
			return
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer n.untrack(conn)
			n.handleConn(conn, sink)
		}()
	}
}

// track registers an accepted connection so Stop can close it. It fails
// once Stop has begun.
func (n *Node) track(conn net.Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conns == nil {
		return false
	}
	n.conns[conn] = struct{}{}
	return true
}

func (n *Node) untrack(conn net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, conn)
}

// handleConn appends everything read from conn to sink, in order.
func (n *Node) handleConn(conn net.Conn, sink *Sink) {
	defer conn.Close()
	logger.Sugar.Debugf("[Node] [%s] Received connection from: %s", n.id, conn.RemoteAddr())

	buf := make([]byte, 1024)
	for {
		count, err := conn.Read(buf)
		if count > 0 {
			logger.Sugar.Debugf("[Node] [%s] Received %d bytes from: %s", n.id, count, conn.RemoteAddr())
			if _, werr := sink.Write(buf[:count]); werr != nil {
				logger.Sugar.Errorf("[Node] sink write failed: sink=%s err=%v", sink.Path(), werr)
				return
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logger.Sugar.Errorf("[Node] read error: remote=%s err=%v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// datagramLoop appends each datagram to sink and acknowledges it to its
// source, so reliable datagram senders can complete against a node.
func (n *Node) datagramLoop(conn *net.UDPConn, sink *Sink) {
	defer n.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		count, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[Node] datagram read error: addr=%s err=%v", conn.LocalAddr(), err)
			continue
		}
		logger.Sugar.Debugf("[Node] [%s] Received %d byte datagram from: %s", n.id, count, src)

		if _, err := sink.Write(buf[:count]); err != nil {
			logger.Sugar.Errorf("[Node] sink write failed: sink=%s err=%v", sink.Path(), err)
			continue
		}
		if _, err := conn.WriteToUDP(protocol.AckToken, src); err != nil {
			logger.Sugar.Warnf("[Node] ack failed: to=%s err=%v", src, err)
		}
	}
}

// Stop closes the listeners and every accepted connection, waits for the
// serve loops and connection handlers to exit, then closes the sinks.
func (n *Node) Stop() error {
	n.mu.Lock()
	ln, udpConn := n.listener, n.udpConn
	streamSink, datagramSink := n.streamSink, n.datagramSink
	conns := n.conns
	n.listener, n.udpConn = nil, nil
	n.streamSink, n.datagramSink = nil, nil
	n.conns = nil
	n.mu.Unlock()

	if ln == nil {
		return nil
	}

	err := multierr.Combine(ln.Close(), udpConn.Close())
	for conn := range conns {
		conn.Close()
	}
	n.wg.Wait()
	err = multierr.Append(err, multierr.Combine(streamSink.Close(), datagramSink.Close()))

	logger.Sugar.Infof("[Node] Stopped: id=%s", n.id)
	return err
}

// SendFile pushes one packet through t on behalf of this node.
func (n *Node) SendFile(t transport.Transport, packet []byte) (int, error) {
	return t.Send(packet)
}

// Dial builds a transport of the given kind towards remote. Datagram
// transports bind an ephemeral port on the node's host, since the node's own
// port belongs to its listener.
func (n *Node) Dial(remote string, kind transport.Kind) (transport.Transport, error) {
	local := n.datagramLocal(remote)

	switch kind {
	case transport.KindTCP:
		t, err := tcp.Dial(remote)
		if err != nil {
			return nil, err
		}
		return t, nil
	case transport.KindUDP:
		t, err := udp.New(local, remote)
		if err != nil {
			return nil, err
		}
		return t, nil
	case transport.KindGuaranteedUDP:
		t, err := gudp.New(local, remote,
			gudp.WithAckTimeout(n.ackTimeout),
			gudp.WithMaxAttempts(n.ackMaxAttempts),
		)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownProtocol, kind)
	}
}

// datagramLocal picks the ephemeral bind address for a datagram sender. A
// loopback node talking to a non-loopback remote binds the unspecified
// address, since a loopback socket cannot reach other hosts.
func (n *Node) datagramLocal(remote string) string {
	ip := n.Addr().Addr()
	if ip.IsLoopback() {
		if r, err := net.ResolveUDPAddr("udp", remote); err == nil {
			if rip, ok := netip.AddrFromSlice(r.IP); ok && !rip.Unmap().IsLoopback() {
				return ":0"
			}
		}
	}
	return net.JoinHostPort(ip.String(), "0")
}

// CreateFileTransfer prepares a transfer from this node to receiver.
func (n *Node) CreateFileTransfer(receiver *Node, kind transport.Kind) (*FileTransfer, error) {
	return n.CreateFileTransferToAddr(receiver.Addr().String(), kind)
}

func (n *Node) CreateFileTransferToAddr(remote string, kind transport.Kind) (*FileTransfer, error) {
	t, err := n.Dial(remote, kind)
	if err != nil {
		return nil, err
	}
	options, err := NewTransferOptions(n.packetSize, t)
	if err != nil {
		t.Close()
		return nil, err
	}
	logger.Sugar.Infof("[Node] [%s] New %s transfer to %s (packet=%d)", n.id, t.Name(), remote, n.packetSize)
	return NewFileTransfer(n, options), nil
}

// CreateFileTransferTo resolves receiver through the known directories first.
func (n *Node) CreateFileTransferTo(receiver uuid.UUID, kind transport.Kind) (*FileTransfer, error) {
	addr, err := n.Lookup(receiver)
	if err != nil {
		return nil, err
	}
	return n.CreateFileTransferToAddr(addr.String(), kind)
}

// AddDirectory remembers a directory service address. It reports false if the
// address was already known.
func (n *Node) AddDirectory(addr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, d := range n.directories {
		if d == addr {
			return false
		}
	}
	n.directories = append(n.directories, addr)
	return true
}

func (n *Node) Directories() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.directories))
	copy(out, n.directories)
	return out
}

// Announce registers this node with every known directory.
func (n *Node) Announce() error {
	dirs := n.Directories()
	if len(dirs) == 0 {
		return ErrNoDirectory
	}
	var err error
	for _, d := range dirs {
		if e := directory.NewClient(d).Enter(n.Addr(), n.id); e != nil {
			err = multierr.Append(err, fmt.Errorf("enter %s: %w", d, e))
			continue
		}
		logger.Sugar.Infof("[Node] [%s] Announced to directory %s", n.id, d)
	}
	return err
}

// Leave removes this node from every known directory.
func (n *Node) Leave() error {
	var err error
	for _, d := range n.Directories() {
		if e := directory.NewClient(d).Quit(n.id); e != nil {
			err = multierr.Append(err, fmt.Errorf("quit %s: %w", d, e))
		}
	}
	return err
}

// Lookup asks the known directories in order and returns the first match.
func (n *Node) Lookup(id uuid.UUID) (netip.AddrPort, error) {
	dirs := n.Directories()
	if len(dirs) == 0 {
		return netip.AddrPort{}, ErrNoDirectory
	}
	for _, d := range dirs {
		addr, err := directory.NewClient(d).Query(id)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, directory.ErrNotFound) {
			logger.Sugar.Warnf("[Node] directory query failed: directory=%s id=%s err=%v", d, id, err)
		}
	}
	return netip.AddrPort{}, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
}

// DiscoverDirectories browses mDNS until ctx is done and adds every directory
// it finds. It returns how many addresses were added.
func (n *Node) DiscoverDirectories(ctx context.Context) (int, error) {
	resolver, err := discovery.NewResolver()
	if err != nil {
		return 0, err
	}
	ch, err := resolver.Browse(ctx)
	if err != nil {
		return 0, err
	}

	added := 0
	for info := range ch {
		if role := info.Meta[discovery.RoleKey]; role != "" && role != "directory" {
			continue
		}
		for _, addr := range info.Addrs() {
			if n.AddDirectory(addr) {
				added++
				logger.Sugar.Infof("[Node] Discovered directory %s (%s)", addr, info.InstanceName)
			}
		}
	}
	return added, nil
}

func (n *Node) GetStatus() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Node ID: %s\n", n.id)
	fmt.Fprintf(&b, "Address: %s\n", n.addr)
	fmt.Fprintf(&b, "Listening: %t\n", n.listener != nil)
	fmt.Fprintf(&b, "Packet size: %d bytes\n", n.packetSize)
	if n.streamSink != nil {
		fmt.Fprintf(&b, "Stream sink: %s\n", n.streamSink.Path())
		fmt.Fprintf(&b, "Datagram sink: %s\n", n.datagramSink.Path())
	}
	fmt.Fprintf(&b, "Directories: %d\n", len(n.directories))
	for _, d := range n.directories {
		fmt.Fprintf(&b, " - %s\n", d)
	}
	return b.String()
}
