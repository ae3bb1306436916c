package peer

import (
	"fmt"
	"os"
	"sync"

	"packet-racers/pkg/monitor"
)

// Sink is an append-only file shared by the listener goroutines. Each Write
// lands as one contiguous, synced append.
type Sink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func OpenSink(path string) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", path, err)
	}
	return &Sink{path: path, file: file}, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := s.file.Sync(); err != nil {
		return n, err
	}
	monitor.Global.RecordReceived(n)
	return n, nil
}

func (s *Sink) Path() string {
	return s.path
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
