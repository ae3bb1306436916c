package transport

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"tcp":           KindTCP,
		"Tcp":           KindTCP,
		"TCP":           KindTCP,
		"udp":           KindUDP,
		"Udp":           KindUDP,
		"gudp":          KindGuaranteedUDP,
		"GuaranteedUdp": KindGuaranteedUDP,
		"guaranteedudp": KindGuaranteedUDP,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Errorf("ParseKind(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseKind(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseKindUnknown(t *testing.T) {
	_, err := ParseKind("sctp")
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
	if err.Error() != "unknown protocol: sctp" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestKindAsFlag(t *testing.T) {
	var kind Kind
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Var(&kind, "protocol", "transport kind")

	if err := fs.Parse([]string{"--protocol", "GuaranteedUdp"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if kind != KindGuaranteedUDP {
		t.Fatalf("kind = %v, want gudp", kind)
	}
	if err := fs.Parse([]string{"--protocol", "bogus"}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}
