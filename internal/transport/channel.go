// Package transport layers the packet protocol over a pair of unidirectional
// byte streams, one per direction, backed by named pipes in production and by
// in-memory pipes in tests.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/voxpod/voxpod/internal/packet"
)

// Reader is the receiving half of a channel. It is safe for exactly one
// concurrent reader; callers sharing it must synchronize themselves.
type Reader struct {
	r io.Reader
	c io.Closer
}

// Writer is the sending half of a channel. Safe for exactly one concurrent
// writer.
type Writer struct {
	w io.Writer
	c io.Closer
}

// NewReader wraps an already-open byte stream.
func NewReader(r io.Reader) *Reader {
	rd := &Reader{r: r}
	if c, ok := r.(io.Closer); ok {
		rd.c = c
	}
	return rd
}

// NewWriter wraps an already-open byte stream.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: w}
	if c, ok := w.(io.Closer); ok {
		wr.c = c
	}
	return wr
}

// Recv blocks until one full packet has been read. Any packet-level error is
// fatal for this half; the caller must not retry the read.
func (r *Reader) Recv() (packet.Packet, error) {
	return packet.Decode(r.r)
}

// Close closes the underlying stream, unblocking a pending Recv with
// ErrClosed where the stream supports it.
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}

// Send blocks until the full frame has been written.
func (w *Writer) Send(p packet.Packet) error {
	data, err := packet.Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("transport: send %s packet: %w", p.Kind, err)
	}
	return nil
}

// Close closes the underlying stream.
func (w *Writer) Close() error {
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}

// EnsureFifo creates the named pipe at path if it does not exist yet.
func EnsureFifo(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := unix.Mkfifo(path, 0o600); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("transport: mkfifo %s: %w", path, err)
	}
	return nil
}

// OpenReader opens the named pipe at path for reading. Blocks until the peer
// opens the write end.
func OpenReader(path string) (*Reader, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s for read: %w", path, err)
	}
	return NewReader(f), nil
}

// OpenWriter opens the named pipe at path for writing. Blocks until the peer
// opens the read end.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s for write: %w", path, err)
	}
	return NewWriter(f), nil
}

// SendReady announces that the firmware side is fully initialized.
func SendReady(w *Writer) error {
	return w.Send(packet.Ready())
}

// ErrBadHandshake is returned when the first inbound packet is not the
// firmware ready announcement.
var ErrBadHandshake = errors.New("transport: unexpected handshake packet")

// AwaitReady consumes the first inbound packet and validates the firmware
// ready handshake. It must be called before the router takes ownership of
// the reader. The timeout bounds how long the firmware may take to come up;
// on expiry the underlying stream is closed to unblock the read.
func AwaitReady(r *Reader, timeout time.Duration) error {
	type result struct {
		p   packet.Packet
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := r.Recv()
		done <- result{p, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("transport: await ready: %w", res.err)
		}
		if !packet.IsReady(res.p) {
			return ErrBadHandshake
		}
		return nil
	case <-timer.C:
		_ = r.Close()
		<-done
		return fmt.Errorf("transport: firmware not ready within %s", timeout)
	}
}
