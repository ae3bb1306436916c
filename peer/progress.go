package peer

import (
	"fmt"
	"sync"
	"time"
)

// ProgressState is the phase of one file transfer
type ProgressState int

const (
	NotStarted ProgressState = iota
	InProgress
	Complete
	Failed
)

// String returns a string representation of the progress state
func (s ProgressState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case InProgress:
		return "in progress"
	case Complete:
		return "complete"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// Icon returns an icon representation of the progress state
func (s ProgressState) Icon() string {
	switch s {
	case NotStarted:
		return "⏳"
	case InProgress:
		return "↑"
	case Complete:
		return "✓"
	case Failed:
		return "✗"
	default:
		return "?"
	}
}

// Progress is a snapshot of a transfer.
// BytesSent and TotalBytes are meaningful while InProgress; Err only when Failed.
type Progress struct {
	State      ProgressState
	BytesSent  int
	TotalBytes int
	Err        string
}

// Percentage returns the progress percentage (0-100)
func (p Progress) Percentage() float64 {
	switch p.State {
	case Complete:
		return 100
	case InProgress:
		if p.TotalBytes == 0 {
			return 0
		}
		return float64(p.BytesSent) / float64(p.TotalBytes) * 100
	default:
		return 0
	}
}

func (p Progress) String() string {
	switch p.State {
	case InProgress:
		return fmt.Sprintf("%s %d/%d bytes", p.State, p.BytesSent, p.TotalBytes)
	case Failed:
		return fmt.Sprintf("%s: %s", p.State, p.Err)
	default:
		return p.State.String()
	}
}

// speedMeter derives a send rate from successive byte counts.
type speedMeter struct {
	mu           sync.Mutex
	lastBytes    int
	lastTime     time.Time
	currentSpeed float64 // bytes/sec
}

func newSpeedMeter() *speedMeter {
	return &speedMeter{lastTime: time.Now()}
}

// Update recalculates the speed at most every 0.5 seconds.
func (m *speedMeter) Update(bytes int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(m.lastTime).Seconds()
	if elapsed >= 0.5 {
		if diff := bytes - m.lastBytes; diff >= 0 {
			m.currentSpeed = float64(diff) / elapsed
		}
		m.lastBytes = bytes
		m.lastTime = now
	}
	return m.currentSpeed
}

// ETA estimates the remaining time from the last measured speed.
func (m *speedMeter) ETA(remaining int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentSpeed <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/m.currentSpeed) * time.Second
}
