package audio

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/voxpod/voxpod/internal/packet"
)

// BeepSet holds the short feedback clips cached in RAM so they can preempt
// anything else with minimal latency.
type BeepSet struct {
	clips map[byte][]byte
	log   *slog.Logger
}

var beepFiles = map[byte]string{
	packet.BeepKeypress: "beep_keypress.wav",
	packet.BeepHold:     "beep_hold.wav",
	packet.BeepError:    "beep_error.wav",
}

// LoadBeeps reads the beep WAV files from dir into memory. A missing or
// malformed file is logged and skipped; the remaining beeps still work.
func LoadBeeps(dir string, log *slog.Logger) *BeepSet {
	set := &BeepSet{clips: make(map[byte][]byte), log: log}
	for kind, name := range beepFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("beep clip not loaded", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		pcm, err := ExtractPCM(data)
		if err != nil {
			log.Warn("beep clip unreadable", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		set.clips[kind] = pcm
		log.Debug("cached beep clip", slog.String("path", path), slog.Int("bytes", len(pcm)))
	}
	return set
}

// Clip returns the cached PCM for a beep kind. Unknown kinds fall back to
// the keypress beep when it is loaded.
func (b *BeepSet) Clip(kind byte) ([]byte, bool) {
	if pcm, ok := b.clips[kind]; ok {
		return pcm, true
	}
	pcm, ok := b.clips[packet.BeepKeypress]
	return pcm, ok
}
