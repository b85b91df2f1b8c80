package speech

import (
	"context"
	"time"
)

type mockEngine struct {
	chunkBytes int
	chunkCount int
}

// NewMockEngine yields a short stream of silence, useful for development
// machines without a synthesizer installed and for tests.
func NewMockEngine(chunkBytes, chunkCount int) Engine {
	if chunkBytes <= 0 {
		chunkBytes = 1600
	}
	if chunkCount <= 0 {
		chunkCount = 4
	}
	return &mockEngine{chunkBytes: chunkBytes, chunkCount: chunkCount}
}

func (m *mockEngine) SynthesizeStream(ctx context.Context, text string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for i := 0; i < m.chunkCount; i++ {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(5 * time.Millisecond):
			}
			select {
			case chunks <- Chunk{PCM: make([]byte, m.chunkBytes), Final: i == m.chunkCount-1}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}
