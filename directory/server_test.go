package directory

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0")
	if err := s.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

// rawCommand sends text as one write and returns everything the server
// replies before closing.
func rawCommand(t *testing.T, addr, text string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte(text)); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(reply)
}

func TestEnterThenQuery(t *testing.T) {
	s := startServer(t)
	id := uuid.New()

	if reply := rawCommand(t, s.Addr(), "@enter://127.0.0.1:9000,"+id.String()); reply != "" {
		t.Errorf("enter replied %q, want nothing", reply)
	}
	if reply := rawCommand(t, s.Addr(), "@query://"+id.String()); reply != "127.0.0.1:9000" {
		t.Errorf("query replied %q, want 127.0.0.1:9000", reply)
	}
}

func TestQueryUnknown(t *testing.T) {
	s := startServer(t)
	if reply := rawCommand(t, s.Addr(), "@query://"+uuid.New().String()); reply != "UUID not found" {
		t.Errorf("query replied %q", reply)
	}
}

func TestQuitRemovesAndIsIdempotent(t *testing.T) {
	s := startServer(t)
	id := uuid.New()

	rawCommand(t, s.Addr(), "@enter://127.0.0.1:9000,"+id.String())
	rawCommand(t, s.Addr(), "@quit://"+id.String())
	if reply := rawCommand(t, s.Addr(), "@query://"+id.String()); reply != "UUID not found" {
		t.Errorf("query after quit replied %q", reply)
	}

	if reply := rawCommand(t, s.Addr(), "@quit://"+id.String()); reply != "" {
		t.Errorf("second quit replied %q", reply)
	}
	if s.Registry().Len() != 0 {
		t.Errorf("registry has %d entries", s.Registry().Len())
	}
}

func TestHandleCommandRejectsUnknownVerb(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	id := uuid.New()
	s.Registry().Insert(id, netip.MustParseAddrPort("127.0.0.1:9000"))

	var out bytes.Buffer
	err := s.HandleCommand("@bogus://x", &out)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected reply %q", out.String())
	}
	if s.Registry().Len() != 1 {
		t.Error("registry changed after a rejected command")
	}
}

func TestHandleCommandRejectsBadPayloads(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	cases := []string{
		"no separator",
		"@enter://127.0.0.1:9000",
		"@enter://not-an-addr," + uuid.New().String(),
		"@enter://127.0.0.1:9000,not-a-uuid",
		"@query://not-a-uuid",
		"@quit://",
	}
	for _, raw := range cases {
		var out bytes.Buffer
		if err := s.HandleCommand(raw, &out); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%q: expected ErrInvalidInput, got %v", raw, err)
		}
	}
	if s.Registry().Len() != 0 {
		t.Error("registry changed after rejected commands")
	}
}

func TestServerSurvivesRejectedCommand(t *testing.T) {
	s := startServer(t)
	rawCommand(t, s.Addr(), "@bogus://x")

	id := uuid.New()
	rawCommand(t, s.Addr(), "@enter://127.0.0.1:9000,"+id.String())
	if reply := rawCommand(t, s.Addr(), "@query://"+id.String()); reply != "127.0.0.1:9000" {
		t.Errorf("query replied %q", reply)
	}
}

func TestStatusAndPeersList(t *testing.T) {
	s := startServer(t)
	id := uuid.New()
	s.Registry().Insert(id, netip.MustParseAddrPort("127.0.0.1:9000"))

	if status := s.GetStatus(); !strings.Contains(status, "Registered Nodes: 1") {
		t.Errorf("status = %q", status)
	}
	list := s.GetPeersList()
	if len(list) != 1 || list[0] != id.String()+" 127.0.0.1:9000" {
		t.Errorf("peers = %v", list)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	if err := s.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept: %v", err)
	}
	addr := s.Addr()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("server still accepting after Stop")
	}
}

func TestStopClosesIdleConnections(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	if err := s.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept: %v", err)
	}

	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Let the server accept the silent connection before stopping.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.conns)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on an idle connection")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("expected EOF on the idle connection after Stop, got %v", err)
	}
}
