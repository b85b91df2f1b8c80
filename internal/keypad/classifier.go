// Package keypad turns a sampled raw key signal into logical tap and hold
// events. The classifier is a pure state machine driven by explicit
// timestamps so it can be tested without real time; the poller feeds it
// from the firmware at a fixed interval.
package keypad

import "time"

// NoKey is the raw value meaning "nothing currently pressed".
const NoKey = '-'

// EventType distinguishes the two outcomes of one physical interaction.
type EventType int

const (
	Tap EventType = iota
	Hold
)

func (t EventType) String() string {
	if t == Hold {
		return "hold"
	}
	return "tap"
}

// Event is one resolved key interaction.
type Event struct {
	Type EventType
	Key  byte
}

// Config holds the classifier timings. The debounce limit is a count of
// consecutive empty samples, not a duration: key-repeat streams have
// natural gaps, and a single empty sample must not count as a release.
type Config struct {
	HoldThreshold time.Duration
	DebounceLimit int
}

// DefaultConfig matches a 50 ms sample interval: 6 empty samples is 300 ms
// of silence before a key counts as released.
func DefaultConfig() Config {
	return Config{
		HoldThreshold: 500 * time.Millisecond,
		DebounceLimit: 6,
	}
}

type classifierState int

const (
	stateIdle classifierState = iota
	stateDown
)

// Classifier emits at most one Tap or one Hold per interaction. Hold fires
// while the key is still down once the threshold elapses; Tap fires on
// release or when a different key takes over.
type Classifier struct {
	cfg Config

	state     classifierState
	key       byte
	pressedAt time.Time
	lastSeen  time.Time
	holdFired bool
	empty     int
}

func NewClassifier(cfg Config) *Classifier {
	if cfg.HoldThreshold <= 0 {
		cfg.HoldThreshold = DefaultConfig().HoldThreshold
	}
	if cfg.DebounceLimit <= 0 {
		cfg.DebounceLimit = DefaultConfig().DebounceLimit
	}
	return &Classifier{cfg: cfg}
}

// Observe feeds one sample ("currently observed key, or NoKey") taken at
// now. It returns the events resolved by this sample, usually none.
func (c *Classifier) Observe(key byte, now time.Time) []Event {
	if key == NoKey {
		return c.observeNone(now)
	}

	switch c.state {
	case stateIdle:
		c.state = stateDown
		c.key = key
		c.pressedAt = now
		c.lastSeen = now
		c.holdFired = false
		c.empty = 0
		return nil

	case stateDown:
		if key == c.key {
			c.lastSeen = now
			c.empty = 0
			if !c.holdFired && now.Sub(c.pressedAt) >= c.cfg.HoldThreshold {
				c.holdFired = true
				return []Event{{Type: Hold, Key: c.key}}
			}
			return nil
		}
		// A different key with no gap: the old interaction resolves as a
		// tap (unless its hold already fired) and the new one starts now.
		var events []Event
		if !c.holdFired {
			events = append(events, Event{Type: Tap, Key: c.key})
		}
		c.key = key
		c.pressedAt = now
		c.lastSeen = now
		c.holdFired = false
		c.empty = 0
		return events
	}
	return nil
}

func (c *Classifier) observeNone(now time.Time) []Event {
	if c.state != stateDown {
		return nil
	}
	c.empty++
	if c.empty < c.cfg.DebounceLimit {
		return nil
	}

	// Released for real. Resolve by how long the key was actually seen
	// down, not by when the debounce ran out.
	c.state = stateIdle
	c.empty = 0
	if c.holdFired {
		return nil
	}
	if c.lastSeen.Sub(c.pressedAt) >= c.cfg.HoldThreshold {
		return []Event{{Type: Hold, Key: c.key}}
	}
	return []Event{{Type: Tap, Key: c.key}}
}

// Idle reports whether no interaction is in progress.
func (c *Classifier) Idle() bool { return c.state == stateIdle }
