package comm

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/voxpod/voxpod/internal/packet"
	"github.com/voxpod/voxpod/internal/router"
	"github.com/voxpod/voxpod/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newClient wires a client to a fake firmware. The handler receives each
// request and returns the responses to write back, in order.
func newClient(t *testing.T, handler func(packet.Packet) []packet.Packet) *Client {
	t.Helper()

	reqPR, reqPW := io.Pipe()
	respPR, respPW := io.Pipe()

	go func() {
		in := transport.NewReader(reqPR)
		out := transport.NewWriter(respPW)
		for {
			p, err := in.Recv()
			if err != nil {
				return
			}
			for _, resp := range handler(p) {
				if err := out.Send(resp); err != nil {
					return
				}
			}
		}
	}()

	r := router.New(transport.NewReader(respPR), 8, testLogger())
	r.Start()
	t.Cleanup(func() {
		reqPW.Close()
		respPW.Close()
		r.Stop()
	})
	return New(transport.NewWriter(reqPW), r, testLogger())
}

func TestReadKeyRoundTrip(t *testing.T) {
	c := newClient(t, func(req packet.Packet) []packet.Packet {
		if req.Kind != packet.KindKeypad {
			t.Errorf("unexpected request kind %v", req.Kind)
		}
		return []packet.Packet{{Kind: packet.KindKeypad, Tag: req.Tag, Payload: []byte{'7'}}}
	})

	key, err := c.ReadKey()
	if err != nil {
		t.Fatalf("ReadKey: %v", err)
	}
	if key != '7' {
		t.Fatalf("key = %q, want '7'", key)
	}
}

func TestReadKeyReportsFirmwareFailure(t *testing.T) {
	c := newClient(t, func(req packet.Packet) []packet.Packet {
		return []packet.Packet{packet.StatusResponse(packet.KindKeypad, req.Tag, -1)}
	})

	_, err := c.ReadKey()
	if !errors.Is(err, ErrFirmware) {
		t.Fatalf("expected ErrFirmware, got %v", err)
	}
}

func TestInterruptSkipsStaleSpeakResponse(t *testing.T) {
	var speakTag uint16
	c := newClient(t, func(req packet.Packet) []packet.Packet {
		if len(req.Payload) == 0 {
			return nil
		}
		switch req.Payload[0] {
		case packet.AudioSpeak:
			// Fire-and-forget speak: remember the tag, answer later.
			speakTag = req.Tag
			return nil
		case packet.AudioInterrupt:
			// The interrupted speak's completion lands just before the
			// interrupt ack, as it does when the worker unblocks.
			return []packet.Packet{
				packet.StatusResponse(packet.KindAudio, speakTag, 0),
				packet.StatusResponse(packet.KindAudio, req.Tag, 0),
			}
		}
		return nil
	})

	if err := c.Speak("long announcement"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	// The interrupt waiter must discard the speak's stale response and find
	// its own ack behind it.
	if err := c.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
}

func TestQueryDeviceInfo(t *testing.T) {
	c := newClient(t, func(req packet.Packet) []packet.Packet {
		return []packet.Packet{packet.StatusResponse(packet.KindAudio, req.Tag, 42)}
	})

	info, err := c.QueryDeviceInfo()
	if err != nil {
		t.Fatalf("QueryDeviceInfo: %v", err)
	}
	if info != 42 {
		t.Fatalf("device info = %d, want 42", info)
	}
}

func TestSetSpeechRateEncodesTenths(t *testing.T) {
	var got []byte
	c := newClient(t, func(req packet.Packet) []packet.Packet {
		got = append([]byte(nil), req.Payload...)
		return []packet.Packet{packet.StatusResponse(packet.KindConfig, req.Tag, 0)}
	})

	if err := c.SetSpeechRate(1.5); err != nil {
		t.Fatalf("SetSpeechRate: %v", err)
	}
	if len(got) != 2 || got[0] != 'v' || got[1] != 15 {
		t.Fatalf("config payload = %v, want ['v' 15]", got)
	}

	if err := c.SetSpeechRate(0); err == nil {
		t.Fatal("expected error for rate 0")
	}
}
