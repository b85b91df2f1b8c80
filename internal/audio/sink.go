// Package audio owns the playback path of the firmware process: a hardware
// sink abstraction, the interrupt arbiter that makes any in-flight playback
// abortable within one chunk period, and the pre-loaded beep clips.
package audio

import "errors"

// Sink is the opaque audio output a playback stream is written into.
type Sink interface {
	// WriteChunk blocks until the chunk has been handed to the device layer.
	WriteChunk(pcm []byte) error
	// Drain blocks until everything written so far has been played and
	// leaves the sink ready for the next stream.
	Drain() error
	Close() error
}

// Aborter is implemented by sinks that can drop buffered-but-unwritten audio
// immediately instead of waiting for the next chunk boundary. A sink that
// aborted must be re-primed with Reset before the next stream.
type Aborter interface {
	Abort() error
	Reset() error
}

// ErrSinkClosed is returned by sink operations after Close.
var ErrSinkClosed = errors.New("audio: sink closed")
