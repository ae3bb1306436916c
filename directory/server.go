package directory

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"packet-racers/pkg/discovery"
	"packet-racers/pkg/logger"
	"packet-racers/pkg/protocol"
)

// commandReadTimeout bounds how long a connection may stay silent before its command.
const commandReadTimeout = 30 * time.Second

// ErrInvalidInput marks a command the directory refuses: unknown verb or
// unparsable payload. It only ends the offending connection.
var ErrInvalidInput = errors.New("invalid input")

// Server accepts one command per stream connection and applies it to its Registry.
type Server struct {
	listenAddr string
	registry   *Registry
	advertise  bool
	advertiser *discovery.Advertiser

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	quitCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Server)

// WithAdvertise announces the server over mDNS once it is listening.
func WithAdvertise(enabled bool) Option {
	return func(s *Server) {
		s.advertise = enabled
	}
}

func WithRegistry(r *Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		listenAddr: addr,
		registry:   NewRegistry(),
		advertiser: discovery.NewAdvertiser(),
		conns:      make(map[net.Conn]struct{}),
		quitCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	if err := s.ListenAndAccept(); err != nil {
		return err
	}
	<-s.quitCh
	return nil
}

// ListenAndAccept binds the listener and serves in the background.
func (s *Server) ListenAndAccept() error {
	logger.Sugar.Infof("[Directory] [%s] starting directory service...", s.listenAddr)

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.advertise {
		s.startAdvertising(ln.Addr())
	}

	s.wg.Add(1)
	go s.acceptLoop(ln)
	logger.Sugar.Infof("[Directory] listening on %s", ln.Addr())
	return nil
}

func (s *Server) startAdvertising(addr net.Addr) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		logger.Sugar.Errorf("[Directory] Failed to parse address: %v", err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return
	}
	meta := map[string]string{
		"version": "1.0.0",
		discovery.RoleKey: "directory",
	}
	if err := s.advertiser.Start("packet-racers-directory", port, meta); err != nil {
		logger.Sugar.Errorf("[Directory] Failed to start mDNS advertisement: %v", err)
		return
	}
	logger.Sugar.Infof("[Directory] mDNS advertisement started on port %d", port)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[Directory] accept error: listen=%s err=%v", ln.Addr(), err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// track registers conn so Stop can close it; it fails once Stop has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConn treats a single read as one whole command.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(commandReadTimeout)); err != nil {
		return
	}
	buf := make([]byte, protocol.MaxCommandSize)
	n, err := conn.Read(buf)
	if err != nil && !(err == io.EOF && n > 0) {
		if err != io.EOF && !errors.Is(err, net.ErrClosed) {
			logger.Sugar.Errorf("[Directory] read failed: remote=%s err=%v", conn.RemoteAddr(), err)
		}
		return
	}

	if err := s.HandleCommand(string(buf[:n]), conn); err != nil {
		logger.Sugar.Errorf("[Directory] command failed: remote=%s err=%v", conn.RemoteAddr(), err)
	}
}

// HandleCommand applies one raw command; replies go to w.
func (s *Server) HandleCommand(raw string, w io.Writer) error {
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	switch cmd.Verb {
	case protocol.VerbEnter:
		return s.handleEnter(cmd.Payload)
	case protocol.VerbQuery:
		return s.handleQuery(cmd.Payload, w)
	case protocol.VerbQuit:
		return s.handleQuit(cmd.Payload)
	default:
		return fmt.Errorf("%w: unknown verb %q", ErrInvalidInput, cmd.Verb)
	}
}

func (s *Server) handleEnter(payload string) error {
	p, err := protocol.ParseEnterPayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	s.registry.Insert(p.ID, p.Addr)
	logger.Sugar.Infof("[Directory] %s entered the network at %s", p.ID, p.Addr)
	return nil
}

func (s *Server) handleQuery(payload string, w io.Writer) error {
	id, err := protocol.ParseID(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	addr, ok := s.registry.Lookup(id)
	logger.Sugar.Debugf("[Directory] query %s: found=%t addr=%s", id, ok, addr)

	reply := protocol.NotFound
	if ok {
		reply = addr.String()
	}
	if _, err := io.WriteString(w, reply); err != nil {
		return fmt.Errorf("write query reply: %w", err)
	}
	return nil
}

func (s *Server) handleQuit(payload string) error {
	id, err := protocol.ParseID(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if s.registry.Remove(id) {
		logger.Sugar.Infof("[Directory] %s left the network", id)
	}
	return nil
}

// Addr returns the bound address once listening, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listenAddr
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) GetStatus() string {
	status := fmt.Sprintf("Directory Service Running on: %s\n", s.Addr())
	status += fmt.Sprintf("Registered Nodes: %d\n", s.registry.Len())
	return status
}

// GetPeersList returns "<uuid> <address>" lines sorted by identifier.
func (s *Server) GetPeersList() []string {
	entries := s.registry.Entries()
	list := make([]string, 0, len(entries))
	for id, addr := range entries {
		list = append(list, id.String()+" "+addr.String())
	}
	sort.Strings(list)
	return list
}

// Stop closes the listener and waits for in-flight commands.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.advertiser.Stop()
		close(s.quitCh)

		s.mu.Lock()
		ln := s.listener
		conns := s.conns
		s.conns = nil
		s.mu.Unlock()
		if ln != nil {
			err = multierr.Append(err, ln.Close())
		}
		for conn := range conns {
			conn.Close()
		}
		s.wg.Wait()
		logger.Sugar.Info("[Directory] stopped")
	})
	return err
}
