package rig

import (
	"context"
	"sync"
)

// MockControl is an in-memory rig for tests and development without a
// radio attached.
type MockControl struct {
	mu       sync.Mutex
	freq     int64
	mode     Mode
	passband int
	meters   map[Meter]float64
}

func NewMockControl() *MockControl {
	return &MockControl{
		freq:     145_500_000,
		mode:     "FM",
		passband: 15_000,
		meters:   map[Meter]float64{MeterStrength: 0},
	}
}

func (m *MockControl) GetFrequency(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freq, nil
}

func (m *MockControl) SetFrequency(_ context.Context, hz int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freq = hz
	return nil
}

func (m *MockControl) GetMode(context.Context) (Mode, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, m.passband, nil
}

func (m *MockControl) SetMode(_ context.Context, mode Mode, passbandHz int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	m.passband = passbandHz
	return nil
}

func (m *MockControl) ReadMeter(_ context.Context, meter Meter) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meters[meter], nil
}

// SetMeter seeds a meter value for tests.
func (m *MockControl) SetMeter(meter Meter, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meters[meter] = v
}

func (m *MockControl) Close() error { return nil }
