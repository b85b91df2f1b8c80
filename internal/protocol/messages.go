// Package protocol defines the JSON messages the daemon mirrors onto the
// event bridge for external assistive tooling.
package protocol

import "time"

// KeyEvent is a resolved keypad interaction.
type KeyEvent struct {
	RunID     string    `json:"run_id"`
	Key       string    `json:"key"`
	Type      string    `json:"type"` // tap or hold
	Timestamp time.Time `json:"timestamp"`
}

// SpeechStatus reports the outcome of a speech or playback request.
type SpeechStatus struct {
	RunID       string    `json:"run_id"`
	Text        string    `json:"text,omitempty"`
	Interrupted bool      `json:"interrupted"`
	Status      int       `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectKeyEvent     = "voxpod.key.event"
	SubjectSpeechStatus = "voxpod.speech.status"
)
