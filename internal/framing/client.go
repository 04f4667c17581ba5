package framing

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Client sends single frames.
type Client struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// NewClient returns a client with the default timeouts.
func NewClient() *Client {
	return &Client{
		DialTimeout: 10 * time.Second,
		ReadTimeout: 5 * time.Second,
	}
}

// Send delivers payload to host:port and waits for the response byte.
// Anything but ACK is an error.
func (c *Client) Send(ctx context.Context, host string, port int, payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}

	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("dial %s: %w", host, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.ReadTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	var resp [1]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp[0] != ACK {
		return fmt.Errorf("%w (0x%02x)", ErrNAK, resp[0])
	}
	return nil
}
