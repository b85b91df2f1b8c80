package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	packets := []Packet{
		{Kind: KindKeypad, Tag: 0},
		{Kind: KindAudio, Tag: 42, Payload: []byte("dHello world")},
		{Kind: KindSerial, Tag: 65535, Payload: []byte{0x00, 0xFF, 0x7F}},
		{Kind: KindConfig, Tag: 7, Payload: []byte("R")},
		{Kind: KindAudio, Tag: 1, Payload: bytes.Repeat([]byte{0xAA}, MaxPayload)},
	}
	for _, want := range packets {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want.Kind, err)
		}
		got, err := Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode %v: %v", want.Kind, err)
		}
		if got.Kind != want.Kind || got.Tag != want.Tag || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Packet{Kind: KindAudio, Payload: make([]byte, MaxPayload+1)})
	if !errors.Is(err, ErrOversizedPayload) {
		t.Fatalf("expected ErrOversizedPayload, got %v", err)
	}
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(KindAudio))
	binary.LittleEndian.PutUint16(header[4:6], MaxPayload+1)
	_, err := Decode(bytes.NewReader(header[:]))
	if !errors.Is(err, ErrOversizedPayload) {
		t.Fatalf("expected ErrOversizedPayload, got %v", err)
	}
}

func TestDecodeClosedStream(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on empty stream, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	full, err := Encode(Packet{Kind: KindAudio, Tag: 3, Payload: []byte("dhello")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Cut the frame at every point after the first byte: header cuts and
	// payload cuts must both surface as truncation, never as a short packet.
	for cut := 1; cut < len(full); cut++ {
		_, err := Decode(bytes.NewReader(full[:cut]))
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut at %d: expected ErrTruncated, got %v", cut, err)
		}
	}
}

func TestFatalClassification(t *testing.T) {
	for _, err := range []error{ErrTruncated, ErrOversizedPayload, ErrClosed} {
		if !Fatal(err) {
			t.Fatalf("expected %v to be fatal", err)
		}
	}
	if Fatal(io.ErrShortWrite) {
		t.Fatal("unrelated error classified as fatal")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	resp := StatusResponse(KindAudio, 9, -1)
	status, err := Status(resp)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != -1 {
		t.Fatalf("expected status -1, got %d", status)
	}
	if resp.Tag != 9 {
		t.Fatalf("expected tag preserved, got %d", resp.Tag)
	}
}

func TestReadyHandshake(t *testing.T) {
	if !IsReady(Ready()) {
		t.Fatal("ready packet not recognized")
	}
	if IsReady(Packet{Kind: KindConfig, Payload: []byte("X")}) {
		t.Fatal("non-ready payload recognized as ready")
	}
	if IsReady(Packet{Kind: KindAudio, Payload: []byte("R")}) {
		t.Fatal("audio packet recognized as ready")
	}
}
