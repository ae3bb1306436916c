package monitor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"packet-racers/pkg/logger"
)

// Metrics holds transfer counters for the process.
// BytesSent counts payload bytes acknowledged by transports, Retransmissions
// counts extra sends made by the reliable datagram protocol and BytesReceived
// counts bytes appended to receive sinks.
type Metrics struct {
	BytesSent          int64
	PacketsSent        int64
	Retransmissions    int64
	TransfersCompleted int64
	TransfersFailed    int64
	BytesReceived      int64
	ServerStart        time.Time
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	BytesSent          int64
	PacketsSent        int64
	Retransmissions    int64
	TransfersCompleted int64
	TransfersFailed    int64
	BytesReceived      int64
	Uptime             time.Duration
}

// Global metrics instance
var Global = NewMetrics()

func NewMetrics() *Metrics {
	return &Metrics{ServerStart: time.Now()}
}

func (m *Metrics) RecordPacket(bytes int) {
	atomic.AddInt64(&m.PacketsSent, 1)
	atomic.AddInt64(&m.BytesSent, int64(bytes))
}

func (m *Metrics) RecordRetransmission() {
	atomic.AddInt64(&m.Retransmissions, 1)
}

func (m *Metrics) RecordReceived(bytes int) {
	atomic.AddInt64(&m.BytesReceived, int64(bytes))
}

func (m *Metrics) RecordFailure() {
	atomic.AddInt64(&m.TransfersFailed, 1)
}

// RecordTransfer records a completed transfer and logs its throughput
func (m *Metrics) RecordTransfer(bytes int64, duration time.Duration) {
	atomic.AddInt64(&m.TransfersCompleted, 1)

	var speed float64
	if secs := duration.Seconds(); secs > 0 {
		speed = float64(bytes) / secs / 1024 / 1024
	}

	logger.Sugar.Infof("[Transfer] Size=%dB | Duration=%.2fs | Speed=%.2fMB/s",
		bytes, duration.Seconds(), speed)
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:          atomic.LoadInt64(&m.BytesSent),
		PacketsSent:        atomic.LoadInt64(&m.PacketsSent),
		Retransmissions:    atomic.LoadInt64(&m.Retransmissions),
		TransfersCompleted: atomic.LoadInt64(&m.TransfersCompleted),
		TransfersFailed:    atomic.LoadInt64(&m.TransfersFailed),
		BytesReceived:      atomic.LoadInt64(&m.BytesReceived),
		Uptime:             time.Since(m.ServerStart),
	}
}

// LogPeriodic logs runtime and host metrics at the specified interval until ctx is done
func LogPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logOnce()
		}
	}
}

func logOnce() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var cpuUsage, memUsage float64
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuUsage = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsage = vm.UsedPercent
	}

	s := Global.Snapshot()
	var throughput float64
	if secs := s.Uptime.Seconds(); secs > 0 {
		throughput = float64(s.BytesSent) / secs / 1024 / 1024
	}

	logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | HostCPU=%.1f%% | HostMem=%.1f%% | Throughput=%.2fMB/s | Packets=%d | Retransmits=%d | Transfers=%d/%d failed | Received=%dB",
		runtime.NumGoroutine(),
		m.HeapAlloc/1024/1024,
		cpuUsage,
		memUsage,
		throughput,
		s.PacketsSent,
		s.Retransmissions,
		s.TransfersCompleted,
		s.TransfersFailed,
		s.BytesReceived,
	)
}
