package directory

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"packet-racers/pkg/protocol"
)

// ErrNotFound is returned by Query when the directory does not know the identifier.
var ErrNotFound = errors.New("identifier not found")

const defaultClientTimeout = 5 * time.Second

// Client issues directory commands, one fresh connection per command.
type Client struct {
	addr    string
	timeout time.Duration
}

func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: defaultClientTimeout}
}

func (c *Client) Enter(addr netip.AddrPort, id uuid.UUID) error {
	_, err := c.do(protocol.Enter(addr, id))
	return err
}

func (c *Client) Query(id uuid.UUID) (netip.AddrPort, error) {
	reply, err := c.do(protocol.Query(id))
	if err != nil {
		return netip.AddrPort{}, err
	}
	if reply == protocol.NotFound {
		return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	addr, err := netip.ParseAddrPort(reply)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("unexpected query reply %q: %w", reply, err)
	}
	return addr, nil
}

func (c *Client) Quit(id uuid.UUID) error {
	_, err := c.do(protocol.Quit(id))
	return err
}

// do writes cmd in a single write and reads until the server closes the
// connection, so the command has been applied when do returns.
func (c *Client) do(cmd protocol.Command) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return "", fmt.Errorf("dial directory %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}
	if _, err := io.WriteString(conn, cmd.String()); err != nil {
		return "", fmt.Errorf("write %s: %w", cmd.Verb, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	reply, err := io.ReadAll(io.LimitReader(conn, protocol.MaxCommandSize))
	if err != nil {
		return "", fmt.Errorf("read %s reply: %w", cmd.Verb, err)
	}
	return string(reply), nil
}
