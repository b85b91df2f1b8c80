package rig

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client talks to a rigctld daemon over one TCP connection. Commands are
// plain text, one per line; set-style commands answer "RPRT <code>", get-
// style commands answer one value per line.
type Client struct {
	addr string
	log  *slog.Logger

	mu   sync.Mutex // one in-flight command per connection
	conn net.Conn
	rd   *bufio.Reader
}

// Dial connects to rigctld at addr (host:port).
func Dial(ctx context.Context, addr string, log *slog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rig: connect %s: %w", addr, err)
	}
	return &Client{
		addr: addr,
		log:  log.With(slog.String("component", "rig"), slog.String("addr", addr)),
		conn: conn,
		rd:   bufio.NewReader(conn),
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// command sends one line and reads nLines of response under the lock. A
// context deadline is applied to the whole exchange.
func (c *Client) command(ctx context.Context, line string, nLines int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("rig: client closed")
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("rig: set deadline: %w", err)
	}

	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		return nil, fmt.Errorf("rig: send %q: %w", line, err)
	}

	out := make([]string, 0, nLines)
	for i := 0; i < nLines; i++ {
		resp, err := c.rd.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("rig: read response to %q: %w", line, err)
		}
		resp = strings.TrimSpace(resp)
		// An early RPRT line means the command failed; no further lines
		// follow.
		if code, ok := rprtCode(resp); ok && i == 0 && nLines > 1 {
			return nil, fmt.Errorf("%w: %s (RPRT %d)", ErrRig, line, code)
		}
		out = append(out, resp)
	}
	return out, nil
}

func rprtCode(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, "RPRT ")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return code, true
}

// checkRPRT validates the single-line reply of a set-style command.
func checkRPRT(cmd string, lines []string) error {
	code, ok := rprtCode(lines[0])
	if !ok {
		return fmt.Errorf("rig: unexpected reply to %q: %q", cmd, lines[0])
	}
	if code != 0 {
		return fmt.Errorf("%w: %s (RPRT %d)", ErrRig, cmd, code)
	}
	return nil
}

func (c *Client) GetFrequency(ctx context.Context) (int64, error) {
	lines, err := c.command(ctx, "f", 1)
	if err != nil {
		return 0, err
	}
	hz, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rig: bad frequency %q: %w", lines[0], err)
	}
	return hz, nil
}

func (c *Client) SetFrequency(ctx context.Context, hz int64) error {
	cmd := fmt.Sprintf("F %d", hz)
	lines, err := c.command(ctx, cmd, 1)
	if err != nil {
		return err
	}
	return checkRPRT(cmd, lines)
}

func (c *Client) GetMode(ctx context.Context) (Mode, int, error) {
	lines, err := c.command(ctx, "m", 2)
	if err != nil {
		return "", 0, err
	}
	passband, err := strconv.Atoi(lines[1])
	if err != nil {
		return "", 0, fmt.Errorf("rig: bad passband %q: %w", lines[1], err)
	}
	return Mode(lines[0]), passband, nil
}

func (c *Client) SetMode(ctx context.Context, mode Mode, passbandHz int) error {
	cmd := fmt.Sprintf("M %s %d", mode, passbandHz)
	lines, err := c.command(ctx, cmd, 1)
	if err != nil {
		return err
	}
	return checkRPRT(cmd, lines)
}

func (c *Client) ReadMeter(ctx context.Context, meter Meter) (float64, error) {
	lines, err := c.command(ctx, fmt.Sprintf("l %s", meter), 1)
	if err != nil {
		return 0, err
	}
	if code, ok := rprtCode(lines[0]); ok {
		return 0, fmt.Errorf("%w: l %s (RPRT %d)", ErrRig, meter, code)
	}
	v, err := strconv.ParseFloat(lines[0], 64)
	if err != nil {
		return 0, fmt.Errorf("rig: bad meter value %q: %w", lines[0], err)
	}
	return v, nil
}
