package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/voxpod/voxpod/internal/packet"
)

func TestSendRecv(t *testing.T) {
	pr, pw := io.Pipe()
	reader := NewReader(pr)
	writer := NewWriter(pw)

	want := packet.AudioRequest(packet.AudioSpeak, "fourteen point two five zero", 11)
	go func() {
		if err := writer.Send(want); err != nil {
			t.Errorf("send: %v", err)
		}
	}()

	got, err := reader.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got.Kind != want.Kind || got.Tag != want.Tag || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("recv mismatch: got %+v want %+v", got, want)
	}
}

func TestRecvAfterPeerClose(t *testing.T) {
	pr, pw := io.Pipe()
	reader := NewReader(pr)
	_ = pw.CloseWithError(io.EOF)

	_, err := reader.Recv()
	if !errors.Is(err, packet.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRecvMidFrameCloseIsTruncated(t *testing.T) {
	pr, pw := io.Pipe()
	reader := NewReader(pr)

	data, err := packet.Encode(packet.AudioRequest(packet.AudioSpeak, "hello", 1))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	go func() {
		pw.Write(data[:5])
		pw.CloseWithError(io.EOF)
	}()

	_, err = reader.Recv()
	if !errors.Is(err, packet.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestHandshake(t *testing.T) {
	pr, pw := io.Pipe()
	reader := NewReader(pr)
	writer := NewWriter(pw)

	go func() {
		if err := SendReady(writer); err != nil {
			t.Errorf("send ready: %v", err)
		}
	}()

	if err := AwaitReady(reader, time.Second); err != nil {
		t.Fatalf("await ready: %v", err)
	}
}

func TestHandshakeRejectsWrongPacket(t *testing.T) {
	pr, pw := io.Pipe()
	reader := NewReader(pr)
	writer := NewWriter(pw)

	go func() {
		_ = writer.Send(packet.AudioRequest(packet.AudioBeep, "k", 0))
	}()

	err := AwaitReady(reader, time.Second)
	if !errors.Is(err, ErrBadHandshake) {
		t.Fatalf("expected ErrBadHandshake, got %v", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	pr, _ := io.Pipe()
	reader := NewReader(pr)

	err := AwaitReady(reader, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
