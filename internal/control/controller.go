// Package control is the daemon's application layer: it maps resolved key
// events onto announcements, rig commands, and setting changes.
//
// Layout (phone keypad): tapping a digit speaks it, for blind entry
// verification. Holding reads out state: 1 frequency, 2 mode, 3 signal
// strength. Holding * cycles the speech rate and persists it. Holding A
// opens frequency entry (digits, * for the decimal point, # to tune);
// holding B steps the operating mode.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/voxpod/voxpod/internal/bridge"
	"github.com/voxpod/voxpod/internal/config"
	"github.com/voxpod/voxpod/internal/eventlog"
	"github.com/voxpod/voxpod/internal/keypad"
	"github.com/voxpod/voxpod/internal/packet"
	"github.com/voxpod/voxpod/internal/protocol"
	"github.com/voxpod/voxpod/internal/rig"
)

// Commander is the slice of the comm client the controller drives.
type Commander interface {
	PlayBeep(kind byte) error
	Interrupt() error
	Speak(text string) error
	SpeakCached(text string) error
	SetSpeechRate(rate float64) error
}

// speech rates holding * cycles through.
var rateSteps = []float64{0.8, 1.0, 1.2, 1.5, 2.0}

// operating modes holding B steps through, in rigctld's names.
var modeCycle = []rig.Mode{"USB", "LSB", "CW", "AM", "FM"}

type Controller struct {
	comm    Commander
	radio   rig.Control
	events  *eventlog.Log
	bridge  *bridge.Bridge
	cfg     config.Config
	cfgPath string
	log     *slog.Logger

	rateIdx  int
	entering bool
	entry    []byte
}

// New builds the controller. radio may be nil when no rig is configured;
// the bridge may be nil (disabled); cfgPath may be empty to skip persisting
// setting changes.
func New(comm Commander, radio rig.Control, events *eventlog.Log, br *bridge.Bridge,
	cfg config.Config, cfgPath string, log *slog.Logger) *Controller {
	c := &Controller{
		comm:    comm,
		radio:   radio,
		events:  events,
		bridge:  br,
		cfg:     cfg,
		cfgPath: cfgPath,
		log:     log.With(slog.String("component", "control")),
	}
	c.rateIdx = nearestRateStep(cfg.Speech.Rate)
	return c
}

func nearestRateStep(rate float64) int {
	best := 0
	for i, r := range rateSteps {
		if abs(r-rate) < abs(rateSteps[best]-rate) {
			best = i
		}
	}
	return best
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// HandleEvent services one resolved key interaction. A fresh event always
// cuts off whatever is still being spoken; stale announcements are worse
// than silence.
func (c *Controller) HandleEvent(ctx context.Context, ev keypad.Event) {
	c.events.Record(ctx, eventlog.KindKey, fmt.Sprintf("%s %c", ev.Type, ev.Key), 0)
	c.bridge.PublishKeyEvent(protocol.KeyEvent{
		RunID: c.events.RunID(),
		Key:   string(ev.Key),
		Type:  ev.Type.String(),
	})

	if err := c.comm.Interrupt(); err != nil {
		c.log.Warn("interrupt failed", slog.String("error", err.Error()))
	}
	c.events.Record(ctx, eventlog.KindInterrupt, "", 0)

	if c.cfg.Audio.BeepsEnabled {
		beep := packet.BeepKeypress
		if ev.Type == keypad.Hold {
			beep = packet.BeepHold
		}
		if err := c.comm.PlayBeep(beep); err != nil {
			c.log.Warn("beep failed", slog.String("error", err.Error()))
		}
	}

	switch ev.Type {
	case keypad.Tap:
		if c.entering {
			c.entryTap(ctx, ev.Key)
			return
		}
		c.announceKey(ctx, ev.Key)
	case keypad.Hold:
		// A hold abandons a half-typed frequency; holding A again is the
		// explicit cancel and announces itself.
		if c.entering && ev.Key != 'A' {
			c.entering = false
			c.entry = nil
		}
		c.handleHold(ctx, ev.Key)
	}
}

func (c *Controller) announceKey(ctx context.Context, key byte) {
	label, ok := keyLabels[key]
	if !ok {
		return
	}
	c.say(ctx, label, true)
}

func (c *Controller) handleHold(ctx context.Context, key byte) {
	switch key {
	case '1':
		c.announceFrequency(ctx)
	case '2':
		c.announceMode(ctx)
	case '3':
		c.announceSignal(ctx)
	case '*':
		c.cycleSpeechRate(ctx)
	case 'A':
		c.toggleFrequencyEntry(ctx)
	case 'B':
		c.stepMode(ctx)
	default:
		c.announceKey(ctx, key)
	}
}

func (c *Controller) toggleFrequencyEntry(ctx context.Context) {
	if c.entering {
		c.entering = false
		c.entry = nil
		c.say(ctx, "canceled", true)
		return
	}
	c.entering = true
	c.entry = nil
	c.say(ctx, "enter frequency", true)
}

// entryTap accumulates one keystroke of a frequency being typed in. Digits
// echo themselves, * reads as the decimal point, # commits.
func (c *Controller) entryTap(ctx context.Context, key byte) {
	switch {
	case key >= '0' && key <= '9':
		c.entry = append(c.entry, key)
	case key == keypad.DoubleZero:
		c.entry = append(c.entry, '0', '0')
	case key == '*':
		c.entry = append(c.entry, '.')
		c.say(ctx, "point", true)
		return
	case key == '#':
		c.commitFrequency(ctx)
		return
	default:
		return
	}
	c.announceKey(ctx, key)
}

func (c *Controller) commitFrequency(ctx context.Context) {
	entered := string(c.entry)
	c.entering = false
	c.entry = nil

	if c.radio == nil {
		c.say(ctx, "no radio", true)
		return
	}
	mhz, err := strconv.ParseFloat(entered, 64)
	if err != nil || mhz <= 0 {
		if c.cfg.Audio.BeepsEnabled {
			_ = c.comm.PlayBeep(packet.BeepError)
		}
		c.say(ctx, "invalid frequency", true)
		return
	}
	hz := int64(math.Round(mhz * 1e6))
	if err := c.radio.SetFrequency(ctx, hz); err != nil {
		c.rigError(ctx, "frequency", err)
		return
	}
	c.events.Record(ctx, eventlog.KindRig, fmt.Sprintf("set frequency %d", hz), 0)
	c.say(ctx, FormatFrequency(hz), false)
}

// stepMode advances the rig to the next mode in the cycle. Passband 0 lets
// rigctld pick the mode's default filter.
func (c *Controller) stepMode(ctx context.Context) {
	if c.radio == nil {
		c.say(ctx, "no radio", true)
		return
	}
	cur, _, err := c.radio.GetMode(ctx)
	if err != nil {
		c.rigError(ctx, "mode", err)
		return
	}
	next := modeCycle[0]
	for i, m := range modeCycle {
		if m == cur {
			next = modeCycle[(i+1)%len(modeCycle)]
			break
		}
	}
	if err := c.radio.SetMode(ctx, next, 0); err != nil {
		c.rigError(ctx, "mode", err)
		return
	}
	c.events.Record(ctx, eventlog.KindRig, fmt.Sprintf("set mode %s", next), 0)
	c.say(ctx, string(next), true)
}

func (c *Controller) announceFrequency(ctx context.Context) {
	if c.radio == nil {
		c.say(ctx, "no radio", true)
		return
	}
	hz, err := c.radio.GetFrequency(ctx)
	if err != nil {
		c.rigError(ctx, "frequency", err)
		return
	}
	c.events.Record(ctx, eventlog.KindRig, fmt.Sprintf("frequency %d", hz), 0)
	c.say(ctx, FormatFrequency(hz), false)
}

func (c *Controller) announceMode(ctx context.Context) {
	if c.radio == nil {
		c.say(ctx, "no radio", true)
		return
	}
	mode, _, err := c.radio.GetMode(ctx)
	if err != nil {
		c.rigError(ctx, "mode", err)
		return
	}
	c.events.Record(ctx, eventlog.KindRig, fmt.Sprintf("mode %s", mode), 0)
	c.say(ctx, string(mode), true)
}

func (c *Controller) announceSignal(ctx context.Context) {
	if c.radio == nil {
		c.say(ctx, "no radio", true)
		return
	}
	db, err := c.radio.ReadMeter(ctx, rig.MeterStrength)
	if err != nil {
		c.rigError(ctx, "signal", err)
		return
	}
	c.events.Record(ctx, eventlog.KindRig, fmt.Sprintf("signal %.0f", db), 0)
	c.say(ctx, FormatSignal(db), false)
}

func (c *Controller) cycleSpeechRate(ctx context.Context) {
	c.rateIdx = (c.rateIdx + 1) % len(rateSteps)
	rate := rateSteps[c.rateIdx]
	if err := c.comm.SetSpeechRate(rate); err != nil {
		c.log.Warn("rate change failed", slog.String("error", err.Error()))
		c.say(ctx, "speed change failed", true)
		return
	}
	c.cfg.Speech.Rate = rate
	if c.cfgPath != "" {
		if err := config.Save(c.cfg, c.cfgPath); err != nil {
			c.log.Warn("failed to persist settings", slog.String("error", err.Error()))
		}
	}
	c.say(ctx, fmt.Sprintf("speed %s", trimFloat(rate)), false)
}

func (c *Controller) rigError(ctx context.Context, what string, err error) {
	c.log.Warn("rig command failed",
		slog.String("command", what),
		slog.String("error", err.Error()))
	c.events.Record(ctx, eventlog.KindRig, what, -1)
	if c.cfg.Audio.BeepsEnabled {
		_ = c.comm.PlayBeep(packet.BeepError)
	}
	c.say(ctx, fmt.Sprintf("%s unavailable", what), true)
}

// say speaks text fire-and-forget and mirrors the request to diagnostics.
// Short fixed phrases go through the synthesis cache.
func (c *Controller) say(ctx context.Context, text string, cached bool) {
	var err error
	if cached {
		err = c.comm.SpeakCached(text)
	} else {
		err = c.comm.Speak(text)
	}
	status := 0
	if err != nil {
		c.log.Warn("speak failed", slog.String("error", err.Error()))
		status = -1
	}
	c.events.Record(ctx, eventlog.KindSpeech, text, status)
	c.bridge.PublishSpeechStatus(protocol.SpeechStatus{
		RunID:     c.events.RunID(),
		Text:      text,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

var keyLabels = map[byte]string{
	'0': "zero", '1': "one", '2': "two", '3': "three", '4': "four",
	'5': "five", '6': "six", '7': "seven", '8': "eight", '9': "nine",
	'*': "star", '#': "pound",
	keypad.DoubleZero: "double zero",
	'A':               "A", 'B': "B", 'C': "C", 'D': "D",
}

// FormatFrequency renders hertz the way an operator reads a dial:
// megahertz with kilohertz digits, e.g. "145.500 megahertz".
func FormatFrequency(hz int64) string {
	mhz := hz / 1_000_000
	khz := (hz % 1_000_000) / 1_000
	rem := hz % 1_000
	if rem != 0 {
		return fmt.Sprintf("%d.%03d%03d megahertz", mhz, khz, rem)
	}
	return fmt.Sprintf("%d.%03d megahertz", mhz, khz)
}

// FormatSignal converts a rigctld strength reading (dB relative to S9)
// into the S-meter phrase operators expect.
func FormatSignal(db float64) string {
	if db >= 0 {
		return fmt.Sprintf("S 9 plus %.0f", db)
	}
	s := 9 + int(db)/6
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("S %d", s)
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.1f", f)
	if s[len(s)-1] == '0' {
		return s[:len(s)-2]
	}
	return s
}
