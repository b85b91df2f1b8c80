// Package speech abstracts text-to-speech synthesis behind a streaming
// engine interface, with a two-tier cache for frequently spoken phrases.
package speech

import "context"

// Chunk is one slice of synthesized PCM.
type Chunk struct {
	PCM   []byte
	Final bool
}

// Engine produces a finite, non-restartable stream of audio chunks for a
// piece of text. Cancelling the context stops synthesis; chunks already
// emitted stay valid.
type Engine interface {
	SynthesizeStream(ctx context.Context, text string) (<-chan Chunk, <-chan error)
}

// RateSetter is implemented by engines whose speaking rate can be changed at
// runtime. Rate 1.0 is the engine's natural speed.
type RateSetter interface {
	SetRate(rate float64)
}
