package bridge

import (
	"io"
	"log/slog"
	"testing"

	"github.com/voxpod/voxpod/internal/config"
	"github.com/voxpod/voxpod/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDisabledBridgeIsNil(t *testing.T) {
	b, err := Connect(config.BridgeConfig{Enabled: false}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != nil {
		t.Fatal("disabled bridge must be nil")
	}
}

func TestNilBridgeIsSafe(t *testing.T) {
	var b *Bridge
	// Every method must be callable on the nil bridge.
	b.PublishKeyEvent(protocol.KeyEvent{Key: "5", Type: "tap"})
	b.PublishSpeechStatus(protocol.SpeechStatus{Status: 0})
	b.Close()
	if b.Healthy() {
		t.Fatal("nil bridge reported healthy")
	}
}

func TestEnabledWithoutServersFails(t *testing.T) {
	_, err := Connect(config.BridgeConfig{Enabled: true}, testLogger())
	if err == nil {
		t.Fatal("expected error for missing servers")
	}
}
