package protocol

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

// AckToken acknowledges one datagram of the reliable datagram protocol.
// Anything else received while waiting for an ack is treated as "not yet acknowledged".
var AckToken = []byte("ACK\n")

// AckSize is the exact length of AckToken.
const AckSize = 4

// NotFound is the directory's reply to a query for an unknown identifier.
const NotFound = "UUID not found"

// MaxCommandSize bounds the single read that carries one directory command.
const MaxCommandSize = 1028

// Verb selects a directory operation
type Verb string

const (
	VerbEnter Verb = "@enter"
	VerbQuery Verb = "@query"
	VerbQuit  Verb = "@quit"
)

const separator = "://"

var ErrMalformed = errors.New("malformed command")

// Command is one directory request: "<verb>://<payload>".
type Command struct {
	Verb    Verb
	Payload string
}

func (c Command) String() string {
	return string(c.Verb) + separator + c.Payload
}

// ParseCommand splits raw text into verb and payload. The verb itself is not
// validated here; the directory decides which verbs it serves.
func ParseCommand(raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	verb, payload, ok := strings.Cut(raw, separator)
	if !ok {
		return Command{}, fmt.Errorf("%w: missing %q in %q", ErrMalformed, separator, raw)
	}
	return Command{Verb: Verb(verb), Payload: payload}, nil
}

// EnterPayload is the body of an @enter command: "<ip>:<port>,<uuid>".
type EnterPayload struct {
	Addr netip.AddrPort
	ID   uuid.UUID
}

func (p EnterPayload) String() string {
	return p.Addr.String() + "," + p.ID.String()
}

func ParseEnterPayload(payload string) (EnterPayload, error) {
	addrStr, idStr, ok := strings.Cut(payload, ",")
	if !ok {
		return EnterPayload{}, fmt.Errorf("%w: enter payload %q needs <address>,<identifier>", ErrMalformed, payload)
	}
	addr, err := netip.ParseAddrPort(strings.TrimSpace(addrStr))
	if err != nil {
		return EnterPayload{}, fmt.Errorf("%w: address: %v", ErrMalformed, err)
	}
	id, err := ParseID(idStr)
	if err != nil {
		return EnterPayload{}, err
	}
	return EnterPayload{Addr: addr, ID: id}, nil
}

func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: identifier: %v", ErrMalformed, err)
	}
	return id, nil
}

func Enter(addr netip.AddrPort, id uuid.UUID) Command {
	return Command{Verb: VerbEnter, Payload: EnterPayload{Addr: addr, ID: id}.String()}
}

func Query(id uuid.UUID) Command {
	return Command{Verb: VerbQuery, Payload: id.String()}
}

func Quit(id uuid.UUID) Command {
	return Command{Verb: VerbQuit, Payload: id.String()}
}
