package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrInterrupted is returned by Play when the stream was cut short by
// Interrupt. The pending chunk is never written.
var ErrInterrupted = errors.New("audio: playback interrupted")

// ChunkSource yields fixed-duration slices of PCM. NextChunk returns io.EOF
// when the stream is exhausted; a source is finite and not restartable.
type ChunkSource interface {
	NextChunk() ([]byte, error)
}

// Arbiter streams audio to the sink in short chunks so an interrupt takes
// effect within one chunk period, and arbitrates between normal playback,
// forced interrupts, and high-priority beep clips.
//
// The interrupted flag is the one piece of state shared across the priority
// boundary: the transport bypass path sets it while the worker sits inside
// the chunk loop. playMu serializes the sink itself, so a bypass beep never
// interleaves with stream chunks.
type Arbiter struct {
	sink Sink
	log  *slog.Logger

	playMu sync.Mutex // held around every sink write and drain

	mu          sync.Mutex
	interrupted bool
	streaming   bool // a Play chunk loop is active
	beeping     bool
	dropped     bool // hardware abort fired since the last clear
}

// NewArbiter wires the arbiter to its sink.
func NewArbiter(sink Sink, log *slog.Logger) *Arbiter {
	return &Arbiter{
		sink: sink,
		log:  log.With(slog.String("component", "playback-arbiter")),
	}
}

// Play streams src to the sink chunk by chunk. Returns ErrInterrupted if
// Interrupt fires before the source is exhausted; the chunk in hand is
// discarded, not written. On normal completion the sink is drained.
func (a *Arbiter) Play(src ChunkSource) error {
	a.mu.Lock()
	a.streaming = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
	}()

	for {
		if a.Interrupted() {
			return ErrInterrupted
		}
		chunk, err := src.NextChunk()
		if errors.Is(err, io.EOF) {
			a.playMu.Lock()
			err = a.sink.Drain()
			a.playMu.Unlock()
			return err
		}
		if err != nil {
			return fmt.Errorf("audio: read chunk: %w", err)
		}
		// Re-check once the sink is ours: the slow source read and the wait
		// for the lock are both windows in which a bypass can fire.
		a.playMu.Lock()
		if a.Interrupted() {
			a.playMu.Unlock()
			return ErrInterrupted
		}
		err = a.sink.WriteChunk(chunk)
		a.playMu.Unlock()
		if err != nil {
			return fmt.Errorf("audio: write chunk: %w", err)
		}
	}
}

// Interrupt stops the current stream at the next chunk boundary. If the sink
// supports a hardware-level abort the buffered audio is dropped immediately,
// tightening worst-case latency from one chunk period to near zero.
func (a *Arbiter) Interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interrupted = true
	if ab, ok := a.sink.(Aborter); ok {
		if err := ab.Abort(); err != nil {
			a.log.Warn("hardware abort failed", slog.String("error", err.Error()))
			return
		}
		a.dropped = true
	}
}

// ClearInterrupt allows the next stream to play. The sink is re-primed only
// if a hardware drop actually occurred; a plain chunk-boundary stop leaves it
// alone so back-to-back clips play without an audible gap.
func (a *Arbiter) ClearInterrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dropped {
		if ab, ok := a.sink.(Aborter); ok {
			if err := ab.Reset(); err != nil {
				a.log.Warn("sink re-prime failed", slog.String("error", err.Error()))
			}
		}
		a.dropped = false
	}
	a.interrupted = false
}

// Beep preempts whatever is playing: an in-flight stream is interrupted
// first (with a hardware drop when the sink supports it), then the whole
// pre-loaded clip is written in one shot under the playback lock and the
// sink drained, so the clip never interleaves with stream chunks and no
// beep residue corrupts the speech that follows.
func (a *Arbiter) Beep(clip []byte) error {
	a.mu.Lock()
	if a.streaming {
		a.interrupted = true
		if ab, ok := a.sink.(Aborter); ok {
			if err := ab.Abort(); err != nil {
				a.log.Warn("hardware abort failed", slog.String("error", err.Error()))
			} else {
				a.dropped = true
			}
		}
	}
	a.mu.Unlock()

	a.playMu.Lock()
	defer a.playMu.Unlock()

	a.mu.Lock()
	a.beeping = true
	if a.dropped {
		if ab, ok := a.sink.(Aborter); ok {
			if err := ab.Reset(); err != nil {
				a.log.Warn("sink re-prime failed", slog.String("error", err.Error()))
			}
		}
		a.dropped = false
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.beeping = false
		a.mu.Unlock()
	}()

	if err := a.sink.WriteChunk(clip); err != nil {
		return fmt.Errorf("audio: write beep: %w", err)
	}
	if err := a.sink.Drain(); err != nil {
		return fmt.Errorf("audio: drain beep: %w", err)
	}
	return nil
}

// Interrupted reports whether an interrupt is pending.
func (a *Arbiter) Interrupted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interrupted
}

// Playing reports whether a stream or beep is currently being written.
func (a *Arbiter) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streaming || a.beeping
}
