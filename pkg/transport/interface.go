package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProtocol is returned by ParseKind for unrecognized transport names.
var ErrUnknownProtocol = errors.New("unknown protocol")

// Transport moves raw packets over one channel to a single remote peer.
// A transport has exactly one owner; it is not safe for concurrent use.
type Transport interface {
	// Send transmits the packet and reports how many bytes the channel accepted.
	Send(packet []byte) (int, error)
	// Receive reads at most len(buf) bytes of incoming data.
	Receive(buf []byte) (int, error)
	// Name identifies the transport in logs.
	Name() string
	Close() error
}

// Kind selects one of the supported transport implementations.
type Kind int

const (
	KindTCP Kind = iota
	KindUDP
	KindGuaranteedUDP
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindGuaranteedUDP:
		return "gudp"
	default:
		return "unknown"
	}
}

// ParseKind accepts tcp/Tcp, udp/Udp and gudp/GuaranteedUdp in any letter case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return KindTCP, nil
	case "udp":
		return KindUDP, nil
	case "gudp", "guaranteedudp", "guaranteed_udp":
		return KindGuaranteedUDP, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownProtocol, s)
	}
}

// Set implements pflag.Value.
func (k *Kind) Set(s string) error {
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Type implements pflag.Value.
func (k *Kind) Type() string {
	return "protocol"
}
