// Package rig controls the attached transceiver. The software side maps
// Serial-kind requests onto this facade; the shipped implementation speaks
// the rigctld text protocol over TCP so any hamlib-supported radio works
// without a native binding.
package rig

import (
	"context"
	"errors"
)

// Mode is the transceiver's operating mode as rigctld names it (FM, USB,
// LSB, CW, ...).
type Mode string

// Meter identifies a readable level for ReadMeter.
type Meter string

const (
	MeterStrength Meter = "STRENGTH"
	MeterSWR      Meter = "SWR"
	MeterPower    Meter = "RFPOWER"
)

// ErrRig is returned when the daemon answers with a non-zero RPRT code.
var ErrRig = errors.New("rig: command failed")

// Control is the synchronous device facade. Implementations must be safe
// for concurrent use; commands are serialized internally.
type Control interface {
	GetFrequency(ctx context.Context) (hz int64, err error)
	SetFrequency(ctx context.Context, hz int64) error
	GetMode(ctx context.Context) (Mode, int, error)
	SetMode(ctx context.Context, mode Mode, passbandHz int) error
	ReadMeter(ctx context.Context, meter Meter) (float64, error)
	Close() error
}
