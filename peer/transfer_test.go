package peer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// fakeTransport records every packet and lets a test script the reported
// byte counts and failures per call.
type fakeTransport struct {
	mu      sync.Mutex
	packets [][]byte
	// report decides what Send returns for the i-th call (0-based);
	// nil means "accepted in full".
	report func(i int, packet []byte) (int, error)
	closed  bool
}

func (f *fakeTransport) Send(packet []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.packets)
	f.packets = append(f.packets, append([]byte(nil), packet...))
	if f.report != nil {
		return f.report(i, packet)
	}
	return len(packet), nil
}

func (f *fakeTransport) Receive([]byte) (int, error) { return 0, errors.New("not supported") }
func (f *fakeTransport) Name() string                { return "fake" }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packets
}

func newTestTransfer(t *testing.T, packetSize int, ft *fakeTransport) *FileTransfer {
	t.Helper()
	node, err := NewNode("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	opts, err := NewTransferOptions(packetSize, ft)
	if err != nil {
		t.Fatalf("NewTransferOptions: %v", err)
	}
	return NewFileTransfer(node, opts)
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSendSplitsIntoPackets(t *testing.T) {
	cases := []struct {
		size, packet, want int
	}{
		{size: 1000, packet: 100, want: 10},
		{size: 1001, packet: 100, want: 11},
		{size: 5, packet: 100, want: 1},
		{size: 100, packet: 1, want: 100},
	}
	for _, tc := range cases {
		data := bytes.Repeat([]byte{'x'}, tc.size)
		for i := range data {
			data[i] = byte(i)
		}
		fake := &fakeTransport{}
		ft := newTestTransfer(t, tc.packet, fake)

		if err := ft.Send(writeTemp(t, data)); err != nil {
			t.Fatalf("size %d: Send: %v", tc.size, err)
		}

		packets := fake.sent()
		if len(packets) != tc.want {
			t.Errorf("size %d packet %d: %d sends, want %d", tc.size, tc.packet, len(packets), tc.want)
		}
		var joined []byte
		for i, p := range packets {
			if i < len(packets)-1 && len(p) != tc.packet {
				t.Errorf("packet %d has %d bytes", i, len(p))
			}
			joined = append(joined, p...)
		}
		if !bytes.Equal(joined, data) {
			t.Errorf("size %d: concatenated packets differ from the file", tc.size)
		}

		p := ft.Progress()
		if p.State != Complete || p.BytesSent != tc.size || p.TotalBytes != tc.size {
			t.Errorf("final progress = %+v", p)
		}
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	fake := &fakeTransport{}
	ft := newTestTransfer(t, 7, fake)

	var seen []Progress
	ft.OnProgress(func(p Progress) { seen = append(seen, p) })

	if err := ft.SendBytes(bytes.Repeat([]byte("a"), 50)); err != nil {
		t.Fatalf("SendBytes: %v", err)
	}

	if len(seen) == 0 || seen[0].State != InProgress || seen[0].BytesSent != 0 {
		t.Fatalf("first update = %+v", seen)
	}
	last := -1
	for _, p := range seen[:len(seen)-1] {
		if p.State != InProgress {
			t.Fatalf("unexpected intermediate state %s", p.State)
		}
		if p.BytesSent < last || p.BytesSent > p.TotalBytes {
			t.Fatalf("progress went from %d to %d of %d", last, p.BytesSent, p.TotalBytes)
		}
		last = p.BytesSent
	}
	if final := seen[len(seen)-1]; final.State != Complete {
		t.Errorf("final state = %s", final.State)
	}
}

func TestSendEmptyFile(t *testing.T) {
	fake := &fakeTransport{}
	ft := newTestTransfer(t, 100, fake)

	if err := ft.Send(writeTemp(t, nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len(fake.sent()); n != 0 {
		t.Errorf("%d sends for an empty file", n)
	}
	if p := ft.Progress(); p.State != Complete || p.Percentage() != 100 {
		t.Errorf("progress = %+v", p)
	}
}

func TestSendMissingFileLeavesNotStarted(t *testing.T) {
	fake := &fakeTransport{}
	ft := newTestTransfer(t, 100, fake)

	err := ft.Send(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if p := ft.Progress(); p.State != NotStarted {
		t.Errorf("state = %s, want not started", p.State)
	}
	if len(fake.sent()) != 0 {
		t.Error("transport used after read failure")
	}
}

func TestSendStopsOnTransportError(t *testing.T) {
	boom := errors.New("link down")
	fake := &fakeTransport{report: func(i int, p []byte) (int, error) {
		if i == 2 {
			return 0, boom
		}
		return len(p), nil
	}}
	ft := newTestTransfer(t, 10, fake)

	err := ft.SendBytes(bytes.Repeat([]byte("z"), 100))
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if n := len(fake.sent()); n != 3 {
		t.Errorf("%d sends, want 3", n)
	}
	p := ft.Progress()
	if p.State != Failed || p.Err == "" {
		t.Errorf("progress = %+v", p)
	}
}

func TestSendAdvancesByReportedCount(t *testing.T) {
	// The transport accepts at most 4 bytes per call.
	fake := &fakeTransport{report: func(_ int, p []byte) (int, error) {
		return min(len(p), 4), nil
	}}
	ft := newTestTransfer(t, 10, fake)
	data := []byte("0123456789abcdefghij")

	if err := ft.SendBytes(data); err != nil {
		t.Fatalf("SendBytes: %v", err)
	}

	packets := fake.sent()
	if len(packets) != 5 {
		t.Fatalf("%d sends, want 5", len(packets))
	}
	offset := 0
	for i, p := range packets {
		if !bytes.HasPrefix(data[offset:], p[:min(len(p), 4)]) {
			t.Fatalf("send %d started at the wrong offset: %q", i, p)
		}
		offset += min(len(p), 4)
	}
}

func TestSendRejectsZeroCount(t *testing.T) {
	fake := &fakeTransport{report: func(int, []byte) (int, error) { return 0, nil }}
	ft := newTestTransfer(t, 10, fake)

	err := ft.SendBytes([]byte("hello"))
	if !errors.Is(err, ErrShortSend) {
		t.Fatalf("expected ErrShortSend, got %v", err)
	}
	if n := len(fake.sent()); n != 1 {
		t.Errorf("%d sends, want 1", n)
	}
	if ft.Progress().State != Failed {
		t.Errorf("state = %s", ft.Progress().State)
	}
}

func TestSendRejectsOverCount(t *testing.T) {
	fake := &fakeTransport{report: func(_ int, p []byte) (int, error) { return len(p) + 1, nil }}
	ft := newTestTransfer(t, 10, fake)

	if err := ft.SendBytes([]byte("hello")); !errors.Is(err, ErrShortSend) {
		t.Fatalf("expected ErrShortSend, got %v", err)
	}
}

func TestNewTransferOptionsValidation(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := NewTransferOptions(size, &fakeTransport{}); !errors.Is(err, ErrInvalidPacketSize) {
			t.Errorf("size %d: expected ErrInvalidPacketSize, got %v", size, err)
		}
	}
	if _, err := NewTransferOptions(10, nil); err == nil {
		t.Error("expected error for nil transport")
	}
}

func TestCloseReleasesTransport(t *testing.T) {
	fake := &fakeTransport{}
	ft := newTestTransfer(t, 10, fake)
	if err := ft.Close(); err != nil {
		t.Fatal(err)
	}
	if !fake.closed {
		t.Error("transport not closed")
	}
}
