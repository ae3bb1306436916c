package monitor

import (
	"context"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordPacket(100)
	m.RecordPacket(50)
	m.RecordRetransmission()
	m.RecordReceived(10)
	m.RecordFailure()
	m.RecordTransfer(150, 10*time.Millisecond)

	s := m.Snapshot()
	if s.PacketsSent != 2 || s.BytesSent != 150 {
		t.Errorf("packets=%d bytes=%d, want 2/150", s.PacketsSent, s.BytesSent)
	}
	if s.Retransmissions != 1 {
		t.Errorf("Retransmissions = %d", s.Retransmissions)
	}
	if s.TransfersCompleted != 1 || s.TransfersFailed != 1 {
		t.Errorf("completed=%d failed=%d", s.TransfersCompleted, s.TransfersFailed)
	}
	if s.BytesReceived != 10 {
		t.Errorf("BytesReceived = %d", s.BytesReceived)
	}
}

func TestLogPeriodicStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		LogPeriodic(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LogPeriodic did not return after cancel")
	}
}
