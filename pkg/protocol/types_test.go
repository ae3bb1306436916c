package protocol

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/uuid"
)

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("@query://6f1c1f3e-4c2a-4b8f-9a52-6b0e8a1f2c3d\n")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Verb != VerbQuery {
		t.Errorf("Verb = %q", cmd.Verb)
	}
	if cmd.Payload != "6f1c1f3e-4c2a-4b8f-9a52-6b0e8a1f2c3d" {
		t.Errorf("Payload = %q", cmd.Payload)
	}
}

func TestParseCommandKeepsUnknownVerb(t *testing.T) {
	cmd, err := ParseCommand("@bogus://x")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Verb != "@bogus" || cmd.Payload != "x" {
		t.Errorf("got %+v", cmd)
	}
}

func TestParseCommandMissingSeparator(t *testing.T) {
	if _, err := ParseCommand("@enter 127.0.0.1:9000"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestEnterPayload(t *testing.T) {
	id := uuid.New()
	addr := netip.MustParseAddrPort("127.0.0.1:9000")

	cmd := Enter(addr, id)
	if cmd.String() != "@enter://127.0.0.1:9000,"+id.String() {
		t.Fatalf("String = %q", cmd.String())
	}

	parsed, err := ParseCommand(cmd.String())
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	p, err := ParseEnterPayload(parsed.Payload)
	if err != nil {
		t.Fatalf("ParseEnterPayload: %v", err)
	}
	if p.Addr != addr || p.ID != id {
		t.Errorf("got %+v", p)
	}
}

func TestParseEnterPayloadErrors(t *testing.T) {
	bad := []string{
		"127.0.0.1:9000",
		"localhost:9000," + uuid.NewString(),
		"127.0.0.1:9000,not-a-uuid",
		"127.0.0.1," + uuid.NewString(),
	}
	for _, in := range bad {
		if _, err := ParseEnterPayload(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseEnterPayload(%q) = %v, want ErrMalformed", in, err)
		}
	}
}

func TestAckToken(t *testing.T) {
	if len(AckToken) != AckSize || string(AckToken) != "ACK\n" {
		t.Fatalf("AckToken = %q", AckToken)
	}
}
