package peer

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"packet-racers/pkg/logger"
	"packet-racers/pkg/monitor"
	"packet-racers/pkg/transport"
)

var (
	ErrInvalidPacketSize = errors.New("packet size must be positive")
	// ErrShortSend is returned when a transport reports a byte count that
	// cannot advance the transfer (zero, negative, or larger than the packet).
	ErrShortSend = errors.New("transport reported an invalid byte count")
)

// TransferOptions is the immutable configuration of one transfer.
type TransferOptions struct {
	PacketSize int
	Transport  transport.Transport
}

func NewTransferOptions(packetSize int, t transport.Transport) (TransferOptions, error) {
	if packetSize <= 0 {
		return TransferOptions{}, fmt.Errorf("%w: got %d", ErrInvalidPacketSize, packetSize)
	}
	if t == nil {
		return TransferOptions{}, errors.New("transfer options need a transport")
	}
	return TransferOptions{PacketSize: packetSize, Transport: t}, nil
}

// FileTransfer sends one payload from a sender node through the transport it
// owns, one packet at a time. Progress may be read from any goroutine while
// Send runs; Send itself must not be called concurrently.
type FileTransfer struct {
	sender  *Node
	options TransferOptions
	metrics *monitor.Metrics

	mu         sync.RWMutex
	progress   Progress
	onProgress func(Progress)
	startTime  time.Time
	endTime    time.Time
}

func NewFileTransfer(sender *Node, options TransferOptions) *FileTransfer {
	return &FileTransfer{
		sender:   sender,
		options:  options,
		metrics:  monitor.Global,
		progress: Progress{State: NotStarted},
	}
}

// OnProgress registers fn to be called after every progress change.
func (ft *FileTransfer) OnProgress(fn func(Progress)) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.onProgress = fn
}

// Send reads the whole file and transfers it. A read failure leaves the
// progress at NotStarted.
func (ft *FileTransfer) Send(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}
	return ft.SendBytes(data)
}

// SendBytes transfers data packet by packet. Packet N+1 is only sent after
// packet N was accepted, and the offset advances by the count the transport
// reports. The first failure ends the transfer in the Failed state.
func (ft *FileTransfer) SendBytes(data []byte) error {
	t := ft.options.Transport
	totalBytes := len(data)

	ft.mu.Lock()
	ft.startTime = time.Now()
	ft.endTime = time.Time{}
	ft.mu.Unlock()
	ft.setProgress(Progress{State: InProgress, TotalBytes: totalBytes})

	bytesSent := 0
	for bytesSent < totalBytes {
		chunkEnd := min(bytesSent+ft.options.PacketSize, totalBytes)
		packet := data[bytesSent:chunkEnd]

		n, err := ft.sender.SendFile(t, packet)
		if err == nil && (n <= 0 || n > len(packet)) {
			err = fmt.Errorf("%w: %d for a %d-byte packet", ErrShortSend, n, len(packet))
		}
		if err != nil {
			ft.fail(err)
			return fmt.Errorf("send through %s at offset %d: %w", t.Name(), bytesSent, err)
		}

		bytesSent += n
		ft.metrics.RecordPacket(n)
		logger.Sugar.Debugf("[Transfer] sent %d bytes through %s (%d/%d)", n, t.Name(), bytesSent, totalBytes)
		ft.setProgress(Progress{State: InProgress, BytesSent: bytesSent, TotalBytes: totalBytes})
	}

	ft.mu.Lock()
	ft.endTime = time.Now()
	elapsed := ft.endTime.Sub(ft.startTime)
	ft.mu.Unlock()

	ft.setProgress(Progress{State: Complete, BytesSent: bytesSent, TotalBytes: totalBytes})
	ft.metrics.RecordTransfer(int64(totalBytes), elapsed)
	return nil
}

func (ft *FileTransfer) fail(err error) {
	ft.mu.Lock()
	ft.endTime = time.Now()
	ft.mu.Unlock()

	ft.setProgress(Progress{State: Failed, Err: err.Error()})
	ft.metrics.RecordFailure()
	logger.Sugar.Errorf("[Transfer] failed through %s: %v", ft.options.Transport.Name(), err)
}

func (ft *FileTransfer) setProgress(p Progress) {
	ft.mu.Lock()
	ft.progress = p
	fn := ft.onProgress
	ft.mu.Unlock()

	if fn != nil {
		fn(p)
	}
}

func (ft *FileTransfer) Progress() Progress {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.progress
}

// Elapsed returns the running time of the current or last attempt.
func (ft *FileTransfer) Elapsed() time.Duration {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	if ft.startTime.IsZero() {
		return 0
	}
	if !ft.endTime.IsZero() {
		return ft.endTime.Sub(ft.startTime)
	}
	return time.Since(ft.startTime)
}

func (ft *FileTransfer) Sender() *Node {
	return ft.sender
}

func (ft *FileTransfer) Options() TransferOptions {
	return ft.options
}

// Close releases the owned transport.
func (ft *FileTransfer) Close() error {
	return ft.options.Transport.Close()
}
