// Package comm is the software side's request facade: it assigns tags,
// writes requests onto the outbound channel half, and collects responses
// through the response router.
//
// Responses are matched by tag within each kind's queue; packets with an
// unexpected tag are stale leftovers of fire-and-forget requests and are
// discarded. Like the transport halves, each kind supports one concurrent
// waiter; callers wanting more must synchronize themselves.
package comm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpod/voxpod/internal/packet"
	"github.com/voxpod/voxpod/internal/router"
	"github.com/voxpod/voxpod/internal/transport"
)

// ErrFirmware is returned when the firmware answered with a failure status.
var ErrFirmware = errors.New("comm: firmware reported failure")

// Client issues requests to the firmware process.
type Client struct {
	out *transport.Writer
	r   *router.Router
	log *slog.Logger

	mu  sync.Mutex // serializes writers on the outbound half
	tag uint16
}

// New creates a client over an outbound half and a started router.
func New(out *transport.Writer, r *router.Router, log *slog.Logger) *Client {
	return &Client{
		out: out,
		r:   r,
		log: log.With(slog.String("component", "comm")),
	}
}

func (c *Client) send(p packet.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Send(p)
}

func (c *Client) nextTag() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tag++
	return c.tag
}

// await pops packets of the kind until the tag matches, discarding stale
// responses left over from fire-and-forget requests.
func (c *Client) await(kind packet.Kind, tag uint16, timeout time.Duration) (packet.Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return packet.Packet{}, router.ErrTimeout
		}
		p, err := c.r.WaitFor(kind, remaining)
		if err != nil {
			return packet.Packet{}, err
		}
		if p.Tag == tag {
			return p, nil
		}
		c.log.Debug("discarding stale response",
			slog.String("kind", kind.String()),
			slog.Int("tag", int(p.Tag)),
			slog.Int("want", int(tag)))
	}
}

func (c *Client) roundTrip(p packet.Packet, timeout time.Duration) (packet.Packet, error) {
	if err := c.send(p); err != nil {
		return packet.Packet{}, err
	}
	return c.await(p.Kind, p.Tag, timeout)
}

// statusRoundTrip performs a round trip and interprets the response as a
// status code, mapping firmware failures to ErrFirmware.
func (c *Client) statusRoundTrip(p packet.Packet, timeout time.Duration) (int32, error) {
	resp, err := c.roundTrip(p, timeout)
	if err != nil {
		return 0, err
	}
	status, err := packet.Status(resp)
	if err != nil {
		return 0, err
	}
	if status < 0 {
		return status, fmt.Errorf("%w (status %d)", ErrFirmware, status)
	}
	return status, nil
}

// ReadKey polls the currently observed key. Returns '-' when nothing is
// pressed. Timeouts surface as router.ErrTimeout and are expected under
// load (e.g. simultaneous speech).
func (c *Client) ReadKey() (byte, error) {
	resp, err := c.roundTrip(packet.Packet{Kind: packet.KindKeypad, Tag: c.nextTag()}, router.KeypadTimeout)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) != 1 {
		// A four-byte payload is a status response: the firmware's keypad
		// read failed.
		if status, serr := packet.Status(resp); serr == nil && status < 0 {
			return 0, fmt.Errorf("%w (status %d)", ErrFirmware, status)
		}
		return 0, fmt.Errorf("comm: unexpected keypad payload (%d bytes)", len(resp.Payload))
	}
	return resp.Payload[0], nil
}

// Speak asks the firmware to announce text without waiting for completion.
func (c *Client) Speak(text string) error {
	return c.send(packet.AudioRequest(packet.AudioSpeak, text, c.nextTag()))
}

// SpeakAndWait announces text and blocks until the firmware confirms that
// playback finished or was interrupted.
func (c *Client) SpeakAndWait(text string) error {
	_, err := c.statusRoundTrip(packet.AudioRequest(packet.AudioSpeak, text, c.nextTag()), router.AudioTimeout)
	return err
}

// SpeakCached is Speak through the firmware's synthesis cache, for phrases
// that repeat often (digits, menu labels).
func (c *Client) SpeakCached(text string) error {
	return c.send(packet.AudioRequest(packet.AudioSpeakCached, text, c.nextTag()))
}

// PlayFile plays a WAV file on the firmware host; path is sent without the
// .wav extension.
func (c *Client) PlayFile(path string) error {
	return c.send(packet.AudioRequest(packet.AudioPlayFile, path, c.nextTag()))
}

// PlayBeep plays a cached feedback clip and waits for its ack. Beeps take
// the bypass path on the firmware, so the ack is fast even mid-speech.
func (c *Client) PlayBeep(kind byte) error {
	_, err := c.statusRoundTrip(packet.AudioRequest(packet.AudioBeep, string(kind), c.nextTag()), router.AudioTimeout)
	return err
}

// Interrupt aborts in-flight playback and discards queued audio requests on
// the firmware. The ack bypasses the worker, so this returns quickly even
// when a long announcement is playing.
func (c *Client) Interrupt() error {
	_, err := c.statusRoundTrip(packet.AudioRequest(packet.AudioInterrupt, "", c.nextTag()), router.AudioTimeout)
	return err
}

// QueryDeviceInfo returns the firmware's audio device identifier.
func (c *Client) QueryDeviceInfo() (int32, error) {
	return c.statusRoundTrip(packet.AudioRequest(packet.AudioQuery, "", c.nextTag()), router.AudioTimeout)
}

// SetSpeechRate adjusts the firmware's speaking rate; 1.0 is natural speed.
// The wire carries tenths, so the useful range is 0.1 to 25.5.
func (c *Client) SetSpeechRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("comm: invalid speech rate %v", rate)
	}
	tenths := byte(rate*10 + 0.5)
	p := packet.Packet{Kind: packet.KindConfig, Tag: c.nextTag(), Payload: []byte{'v', tenths}}
	_, err := c.statusRoundTrip(p, router.KeypadTimeout)
	return err
}
