package blockdev

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
)

// Client is a connection to a running block-device server, speaking the
// protocol described in spec.md §4.1.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a block-device server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("blockdev: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Geometry issues the "I" command and returns the disk's geometry.
func (c *Client) Geometry() (Geometry, error) {
	if _, err := io.WriteString(c.conn, "I\n"); err != nil {
		return Geometry{}, fmt.Errorf("blockdev client: send I: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return Geometry{}, fmt.Errorf("blockdev client: read geometry reply: %w", err)
	}
	var g Geometry
	if _, err := fmt.Sscanf(line, "%d %d", &g.Cylinders, &g.Sectors); err != nil {
		return Geometry{}, fmt.Errorf("blockdev client: parse geometry reply %q: %w", line, err)
	}
	return g, nil
}

// ReadBlock issues "R c s" and returns whether the address was valid and,
// if so, its 128 bytes of data.
func (c *Client) ReadBlock(cyl, sec int64) (ok bool, data [BlockSize]byte, err error) {
	if _, err = fmt.Fprintf(c.conn, "R %d %d\n", cyl, sec); err != nil {
		return false, data, fmt.Errorf("blockdev client: send R: %w", err)
	}
	status, err := c.r.ReadByte()
	if err != nil {
		return false, data, fmt.Errorf("blockdev client: read R status: %w", err)
	}
	if status != '1' {
		return false, data, nil
	}
	if _, err = io.ReadFull(c.r, data[:]); err != nil {
		return false, data, fmt.Errorf("blockdev client: read R payload: %w", err)
	}
	return true, data, nil
}

// WriteBlock issues "W c s l" followed by payload (at most BlockSize
// bytes; shorter payloads are zero-padded by the server) and returns
// whether the write succeeded.
func (c *Client) WriteBlock(cyl, sec int64, payload []byte) (ok bool, err error) {
	if len(payload) > BlockSize {
		return false, fmt.Errorf("blockdev client: payload length %d exceeds block size %d", len(payload), BlockSize)
	}
	if _, err = fmt.Fprintf(c.conn, "W %d %d %d\n", cyl, sec, len(payload)); err != nil {
		return false, fmt.Errorf("blockdev client: send W header: %w", err)
	}
	if len(payload) > 0 {
		if _, err = c.conn.Write(payload); err != nil {
			return false, fmt.Errorf("blockdev client: send W payload: %w", err)
		}
	}
	status, err := c.r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("blockdev client: read W status: %w", err)
	}
	return status == '1', nil
}
