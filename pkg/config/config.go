package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultNodeAddr      = "127.0.0.1:8001"
	DefaultDirectoryAddr = "127.0.0.1:8000"
	DefaultPacketSize    = 100
	DefaultAckTimeout    = time.Second
	DefaultStreamSink    = "received_tcp.txt"
	DefaultDatagramSink  = "received_udp.txt"
	DefaultLogFile       = "logs/packet-racers.log"
)

// Config holds node and directory configuration. Fields are unexported to prevent modification.
type Config struct {
	nodeAddr         string
	directoryAddrs   []string
	packetSize       int
	ackTimeout       time.Duration
	ackMaxAttempts   int
	streamSinkPath   string
	datagramSinkPath string
	logFile          string
	logLevel         string
}

func New() *Config {
	_ = godotenv.Load() // ignore error if .env not found

	cfg := &Config{
		nodeAddr:         envString("P2P_NODE_ADDR", DefaultNodeAddr),
		packetSize:       envInt("P2P_PACKET_SIZE", DefaultPacketSize),
		ackTimeout:       DefaultAckTimeout,
		ackMaxAttempts:   envInt("P2P_ACK_MAX_ATTEMPTS", 0),
		streamSinkPath:   envString("P2P_STREAM_SINK", DefaultStreamSink),
		datagramSinkPath: envString("P2P_DATAGRAM_SINK", DefaultDatagramSink),
		logFile:          envString("P2P_LOG_FILE", DefaultLogFile),
		logLevel:         envString("P2P_LOG_LEVEL", envString("LOG_LEVEL", "")),
	}

	if ms := envInt("P2P_ACK_TIMEOUT_MS", 0); ms > 0 {
		cfg.ackTimeout = time.Duration(ms) * time.Millisecond
	}
	if cfg.packetSize <= 0 {
		cfg.packetSize = DefaultPacketSize
	}
	if cfg.ackMaxAttempts < 0 {
		cfg.ackMaxAttempts = 0
	}

	for _, addr := range strings.Split(envString("P2P_DIRECTORY_ADDR", DefaultDirectoryAddr), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			cfg.directoryAddrs = append(cfg.directoryAddrs, addr)
		}
	}
	return cfg
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// Getter methods (immutable from outside)

func (c *Config) NodeAddr() string {
	return c.nodeAddr
}

func (c *Config) DirectoryAddr() string {
	if len(c.directoryAddrs) == 0 {
		return DefaultDirectoryAddr
	}
	return c.directoryAddrs[0]
}

func (c *Config) DirectoryAddrs() []string {
	out := make([]string, len(c.directoryAddrs))
	copy(out, c.directoryAddrs)
	return out
}

func (c *Config) PacketSize() int {
	return c.packetSize
}

func (c *Config) AckTimeout() time.Duration {
	return c.ackTimeout
}

// AckMaxAttempts is the transmission bound for reliable datagram sends; 0 means unbounded.
func (c *Config) AckMaxAttempts() int {
	return c.ackMaxAttempts
}

func (c *Config) StreamSinkPath() string {
	return c.streamSinkPath
}

func (c *Config) DatagramSinkPath() string {
	return c.datagramSinkPath
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) LogLevel() string {
	return c.logLevel
}
