package firmware

import (
	"io"
	"testing"
	"time"
)

func waitForKey(t *testing.T, s *StreamKeySource, want byte) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		key, err := s.ReadKey()
		if err != nil {
			t.Fatalf("ReadKey: %v", err)
		}
		if key == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	key, _ := s.ReadKey()
	t.Fatalf("key = %q, want %q", key, want)
}

func TestStreamKeySourceObservesAndReleases(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStreamKeySource(pr, 50*time.Millisecond, 30*time.Millisecond, testLogger())

	if _, err := pw.Write([]byte("5")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForKey(t, s, '5')

	// With no repeats arriving the key reads as released after holdFor.
	waitForKey(t, s, NoKey)
}

func TestStreamKeySourceIgnoresNonKeypadBytes(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStreamKeySource(pr, 50*time.Millisecond, 30*time.Millisecond, testLogger())

	if _, err := pw.Write([]byte("\n\x1b[Ax7")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForKey(t, s, '7')
}

func TestStreamKeySourceResolvesDoublePulse(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStreamKeySource(pr, 200*time.Millisecond, 30*time.Millisecond, testLogger())

	// Two '0' pulses in one write land well inside the 30 ms window.
	if _, err := pw.Write([]byte("00")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForKey(t, s, ':')
}

func TestStreamKeySourceHonorsConfiguredPulseWindow(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStreamKeySource(pr, 500*time.Millisecond, 300*time.Millisecond, testLogger())

	// 100ms between pulses: well past the stock window, well inside the
	// configured one. Only a source using the configured window resolves
	// this pair as the double-zero key.
	if _, err := pw.Write([]byte("0")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := pw.Write([]byte("0")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForKey(t, s, ':')
}

func TestStreamKeySourceSingleZeroAfterWindow(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStreamKeySource(pr, 200*time.Millisecond, 30*time.Millisecond, testLogger())

	if _, err := pw.Write([]byte("0")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The pulse is held until the window lapses; the next sample resolves
	// it as a single zero.
	time.Sleep(40 * time.Millisecond)
	waitForKey(t, s, '0')
}
