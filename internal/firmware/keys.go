package firmware

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpod/voxpod/internal/keypad"
)

// keypadChars are the raw codes the keypad can produce.
const keypadChars = "0123456789*#ABCD"

// StreamKeySource adapts a byte stream (a TTY in raw mode, or the HID
// keypad's character device) to the sampled "currently observed key" model.
// A key counts as held while repeats keep arriving; once the stream goes
// quiet for holdFor the key reads as released.
//
// Raw pulses pass through a keypad.PulseFilter first, so the double-pulse
// "00" key resolves before the sampled layer ever sees it.
type StreamKeySource struct {
	holdFor time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	filter *keypad.PulseFilter
	last   byte
	lastAt time.Time
}

// NewStreamKeySource starts a goroutine consuming r. holdFor should exceed
// the source's auto-repeat gap; 150ms covers a typical terminal. pulseWindow
// is how long a lone '0' pulse is held back waiting for its double;
// non-positive falls back to the filter's default.
func NewStreamKeySource(r io.Reader, holdFor, pulseWindow time.Duration, log *slog.Logger) *StreamKeySource {
	if holdFor <= 0 {
		holdFor = 150 * time.Millisecond
	}
	s := &StreamKeySource{
		holdFor: holdFor,
		filter:  keypad.NewPulseFilter(pulseWindow, nil),
		log:     log.With(slog.String("component", "keypad-source")),
	}
	go s.consume(r)
	return s
}

func (s *StreamKeySource) consume(r io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		now := time.Now()
		for _, b := range buf[:n] {
			if !isKeypadChar(b) {
				continue
			}
			s.mu.Lock()
			for _, sym := range s.filter.Feed(b, now) {
				s.last = sym
				s.lastAt = now
			}
			s.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				s.log.Warn("keypad stream read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// ReadKey reports the key currently observed down, or NoKey. The sample
// interval is well above the pulse window, so a pulse still held by the
// filter is resolved here at the latest.
func (s *StreamKeySource) ReadKey() (byte, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if sym, ok := s.filter.Flush(now); ok {
		s.last = sym
		s.lastAt = now
	}
	if s.last == 0 || now.Sub(s.lastAt) > s.holdFor {
		return NoKey, nil
	}
	return s.last, nil
}

func isKeypadChar(b byte) bool {
	for i := 0; i < len(keypadChars); i++ {
		if keypadChars[i] == b {
			return true
		}
	}
	return false
}
