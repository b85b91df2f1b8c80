package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxpod/voxpod/internal/packet"
)

// buildWAV assembles a minimal RIFF/WAVE file around the given PCM samples.
func buildWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))     // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))    // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestExtractPCM(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	got, err := ExtractPCM(buildWAV(pcm))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm mismatch: got %v want %v", got, pcm)
	}
}

func TestExtractPCMRejectsGarbage(t *testing.T) {
	if _, err := ExtractPCM([]byte("definitely not a wav file, far too short?")); err == nil {
		t.Fatal("expected error for non-WAV input")
	}
	junk := append([]byte("JUNKxxxxJUNK"), make([]byte, 64)...)
	if _, err := ExtractPCM(junk); err == nil {
		t.Fatal("expected error for bad RIFF header")
	}
}

func TestLoadBeeps(t *testing.T) {
	dir := t.TempDir()
	pcm := []byte{9, 9, 9, 9}
	if err := os.WriteFile(filepath.Join(dir, "beep_keypress.wav"), buildWAV(pcm), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	set := LoadBeeps(dir, testLogger())

	clip, ok := set.Clip(packet.BeepKeypress)
	if !ok || !bytes.Equal(clip, pcm) {
		t.Fatalf("keypress clip not cached: ok=%v clip=%v", ok, clip)
	}
	// Missing hold beep falls back to the keypress clip.
	clip, ok = set.Clip(packet.BeepHold)
	if !ok || !bytes.Equal(clip, pcm) {
		t.Fatalf("expected fallback to keypress clip, ok=%v", ok)
	}
}
