package keypad

import "time"

// DoubleZero is the logical symbol for the phone layout's "00" key, which
// shares a raw code with '0' and announces itself as two pulses.
const DoubleZero = ':'

// PulseFilter disambiguates keys that transmit the same raw code as a
// double pulse within a short window. The first pulse is held back until
// either a second pulse of the same code lands inside the window (the
// double symbol is emitted) or the window lapses (the single symbol is).
//
// The window is far shorter than the sample interval, so this filter sits
// on the raw pulse stream, ahead of the sampled classifier, and never
// touches the hold-threshold timer.
type PulseFilter struct {
	window  time.Duration
	doubles map[byte]byte

	pending   byte
	pendingAt time.Time
	held      bool
}

// NewPulseFilter builds a filter for the given code→double-symbol pairs.
// A nil map defaults to {'0': DoubleZero}.
func NewPulseFilter(window time.Duration, doubles map[byte]byte) *PulseFilter {
	if window <= 0 {
		window = 30 * time.Millisecond
	}
	if doubles == nil {
		doubles = map[byte]byte{'0': DoubleZero}
	}
	return &PulseFilter{window: window, doubles: doubles}
}

// Feed processes one raw pulse observed at now and returns the symbols it
// resolves, in order. Codes with no double mapping pass straight through.
func (f *PulseFilter) Feed(code byte, now time.Time) []byte {
	var out []byte

	if f.held {
		if code == f.pending && now.Sub(f.pendingAt) <= f.window {
			f.held = false
			return append(out, f.doubles[code])
		}
		// Window lapsed or a different code arrived: the held pulse was a
		// single after all.
		out = append(out, f.pending)
		f.held = false
	}

	if _, ok := f.doubles[code]; ok {
		f.pending = code
		f.pendingAt = now
		f.held = true
		return out
	}
	return append(out, code)
}

// Flush resolves a held pulse whose window has lapsed by now. Callers with
// no natural next pulse (end of a scan pass) use this to avoid sitting on
// a symbol forever.
func (f *PulseFilter) Flush(now time.Time) (byte, bool) {
	if !f.held || now.Sub(f.pendingAt) <= f.window {
		return 0, false
	}
	f.held = false
	return f.pending, true
}
