package audio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSink plays 16-bit little-endian PCM through the system audio device.
// Each stream gets its own oto player fed through an in-memory pipe; Abort
// pauses and tears the player down, dropping whatever oto had buffered.
type OtoSink struct {
	ctx *oto.Context
	log *slog.Logger

	mu     sync.Mutex
	player *oto.Player
	pw     *io.PipeWriter
	closed bool
}

// NewOtoSink initializes the system audio context. Returns an error if the
// audio device is unavailable.
func NewOtoSink(sampleRate, channels int, log *slog.Logger) (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("audio: init oto context: %w", err)
	}
	<-ready

	log.Debug("audio sink initialized",
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels))
	return &OtoSink{ctx: ctx, log: log}, nil
}

// ensurePlayer starts a fresh player lazily on the first write of a stream.
// Callers hold s.mu.
func (s *OtoSink) ensurePlayer() {
	if s.player != nil {
		return
	}
	pr, pw := io.Pipe()
	s.pw = pw
	s.player = s.ctx.NewPlayer(pr)
	s.player.Play()
}

func (s *OtoSink) WriteChunk(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.ensurePlayer()
	pw := s.pw
	s.mu.Unlock()

	if _, err := pw.Write(pcm); err != nil {
		return fmt.Errorf("audio: write to player: %w", err)
	}
	return nil
}

func (s *OtoSink) Drain() error {
	s.mu.Lock()
	player, pw := s.player, s.pw
	s.player, s.pw = nil, nil
	s.mu.Unlock()

	if player == nil {
		return nil
	}
	_ = pw.Close()
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return player.Close()
}

// Abort drops buffered audio immediately.
func (s *OtoSink) Abort() error {
	s.mu.Lock()
	player, pw := s.player, s.pw
	s.player, s.pw = nil, nil
	s.mu.Unlock()

	if player == nil {
		return nil
	}
	player.Pause()
	_ = pw.CloseWithError(ErrInterrupted)
	return player.Close()
}

// Reset re-primes the sink after a hardware drop. With per-stream players
// the next write starts a clean player, so there is nothing left to discard.
func (s *OtoSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

func (s *OtoSink) Close() error {
	s.mu.Lock()
	player, pw := s.player, s.pw
	s.player, s.pw = nil, nil
	s.closed = true
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		_ = pw.Close()
		_ = player.Close()
	}
	return nil
}
