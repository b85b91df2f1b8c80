package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind identifies the subsystem a packet is addressed to.
type Kind uint32

const (
	KindKeypad Kind = iota
	KindAudio
	KindSerial
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindKeypad:
		return "keypad"
	case KindAudio:
		return "audio"
	case KindSerial:
		return "serial"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Valid reports whether k is one of the defined packet kinds.
func (k Kind) Valid() bool { return k <= KindConfig }

// Audio payload sub-type discriminators (payload byte 0 of an audio packet).
const (
	AudioSpeak       byte = 'd' // speak text directly
	AudioSpeakCached byte = 's' // speak text, caching the synthesized audio
	AudioPlayFile    byte = 'p' // play a WAV file by path (without extension)
	AudioBeep        byte = 'b' // play a cached beep clip
	AudioInterrupt   byte = 'i' // abort in-flight playback and flush pending requests
	AudioQuery       byte = 'q' // query audio device info
)

// Beep kinds (payload byte 1 of a beep packet).
const (
	BeepKeypress byte = 'k'
	BeepHold     byte = 'h'
	BeepError    byte = 'e'
)

const (
	// MaxPayload caps the payload of a single packet. Larger transfers are
	// not part of the protocol.
	MaxPayload = 256

	headerSize = 8
)

var (
	// ErrTruncated means the peer stopped mid-frame. The stream has no
	// resynchronization marker, so the channel half is unusable afterwards.
	ErrTruncated = errors.New("packet: truncated frame")
	// ErrOversizedPayload means the header declared a payload above MaxPayload.
	ErrOversizedPayload = errors.New("packet: oversized payload")
	// ErrClosed means the peer closed the stream on a frame boundary.
	ErrClosed = errors.New("packet: channel closed")
)

// Packet is the unit of communication between the firmware and software
// processes. The tag is a caller-assigned sequence number carried through
// to the matching response.
type Packet struct {
	Kind    Kind
	Tag     uint16
	Payload []byte
}

// Encode serializes p into its wire form:
//
//	offset 0: kind    (4 bytes, little-endian)
//	offset 4: length  (2 bytes, little-endian)
//	offset 6: tag     (2 bytes, little-endian)
//	offset 8: payload (length bytes)
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, ErrOversizedPayload
	}
	buf := make([]byte, headerSize+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Kind))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(buf[6:8], p.Tag)
	copy(buf[headerSize:], p.Payload)
	return buf, nil
}

// Decode reads exactly one frame from r. A clean EOF before the first header
// byte yields ErrClosed; EOF anywhere inside a frame yields ErrTruncated.
// Both are fatal for the stream: the reader position cannot be realigned.
func Decode(r io.Reader) (Packet, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Packet{}, ErrClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrTruncated
		}
		return Packet{}, fmt.Errorf("packet: read header: %w", err)
	}

	length := binary.LittleEndian.Uint16(header[4:6])
	if length > MaxPayload {
		return Packet{}, ErrOversizedPayload
	}

	p := Packet{
		Kind: Kind(binary.LittleEndian.Uint32(header[0:4])),
		Tag:  binary.LittleEndian.Uint16(header[6:8]),
	}
	if length > 0 {
		p.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			return Packet{}, ErrTruncated
		}
	}
	return p, nil
}

// Fatal reports whether err poisons the channel half it came from.
func Fatal(err error) bool {
	return errors.Is(err, ErrTruncated) || errors.Is(err, ErrOversizedPayload) || errors.Is(err, ErrClosed)
}

// AudioRequest builds an audio packet whose payload is the sub-type byte
// followed by an optional text or path argument.
func AudioRequest(op byte, arg string, tag uint16) Packet {
	payload := make([]byte, 0, 1+len(arg))
	payload = append(payload, op)
	payload = append(payload, arg...)
	return Packet{Kind: KindAudio, Tag: tag, Payload: payload}
}

// StatusResponse builds a response carrying a signed status code, the only
// error channel the protocol has. Zero means success.
func StatusResponse(kind Kind, tag uint16, status int32) Packet {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(status))
	return Packet{Kind: kind, Tag: tag, Payload: payload}
}

// Status extracts the status code from a response built by StatusResponse.
func Status(p Packet) (int32, error) {
	if len(p.Payload) < 4 {
		return 0, fmt.Errorf("packet: response payload too short (%d bytes)", len(p.Payload))
	}
	return int32(binary.LittleEndian.Uint32(p.Payload[:4])), nil
}

// Ready is the handshake packet the firmware sends once both pipe halves are
// open. The software side must observe it before issuing any request.
func Ready() Packet {
	return Packet{Kind: KindConfig, Payload: []byte("R")}
}

// IsReady reports whether p is the firmware ready handshake.
func IsReady(p Packet) bool {
	return p.Kind == KindConfig && len(p.Payload) == 1 && p.Payload[0] == 'R'
}
