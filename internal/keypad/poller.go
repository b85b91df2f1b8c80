package keypad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxpod/voxpod/internal/router"
)

// KeyReader is the slice of the comm client the poller needs.
type KeyReader interface {
	ReadKey() (byte, error)
}

// DefaultPollInterval paces keypad sampling. 50 ms keeps worst-case tap
// latency imperceptible without flooding the firmware.
const DefaultPollInterval = 50 * time.Millisecond

// Poller samples the raw key through the firmware at a fixed interval,
// feeds the classifier, and invokes the callback for every resolved event.
type Poller struct {
	reader   KeyReader
	cls      *Classifier
	interval time.Duration
	onEvent  func(Event)
	log      *slog.Logger

	maxFailures int
}

func NewPoller(reader KeyReader, cls *Classifier, interval time.Duration, onEvent func(Event), log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		reader:      reader,
		cls:         cls,
		interval:    interval,
		onEvent:     onEvent,
		log:         log.With(slog.String("component", "keypad-poller")),
		maxFailures: 3,
	}
}

// Run polls until the context is cancelled. Read timeouts are expected
// while the firmware is busy speaking and are skipped silently; other
// errors are retried a bounded number of times before the loop gives up.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		key, err := p.reader.ReadKey()
		if err != nil {
			if errors.Is(err, router.ErrTimeout) {
				// Not a release: skip the sample rather than feeding the
				// classifier a false "none".
				continue
			}
			failures++
			p.log.Warn("keypad read failed",
				slog.Int("attempt", failures),
				slog.String("error", err.Error()))
			if failures >= p.maxFailures {
				return fmt.Errorf("keypad polling: %w", err)
			}
			continue
		}
		failures = 0

		for _, ev := range p.cls.Observe(key, time.Now()) {
			p.log.Debug("key event",
				slog.String("type", ev.Type.String()),
				slog.String("key", string(ev.Key)))
			p.onEvent(ev)
		}
	}
}
