// Package bridge mirrors key events and speech outcomes onto NATS so
// external assistive tooling (screen readers, dashboards, macros) can
// observe the controller without touching its packet channel. The bridge
// is optional and strictly off the hot path: publish failures are logged
// and dropped.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxpod/voxpod/internal/config"
	"github.com/voxpod/voxpod/internal/protocol"
)

// Bridge wraps the NATS connection. A nil *Bridge is valid and publishes
// nothing, so callers never branch on whether the bridge is configured.
type Bridge struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect establishes the NATS connection per config. Returns nil (and no
// error) when the bridge is disabled.
func Connect(cfg config.BridgeConfig, log *slog.Logger) (*Bridge, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("voxpod-bridge"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("event bridge connected", slog.String("servers", url))
	return &Bridge{
		conn: conn,
		log:  log.With(slog.String("component", "bridge")),
	}, nil
}

func (b *Bridge) Close() {
	if b == nil {
		return
	}
	b.log.Info("closing event bridge")
	b.conn.Drain()
	b.conn.Close()
}

func (b *Bridge) Healthy() bool {
	return b != nil && b.conn != nil && b.conn.Status() == nats.CONNECTED
}

func (b *Bridge) publish(subject string, msg any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("bridge encode failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn("bridge publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

// PublishKeyEvent mirrors one resolved keypad interaction.
func (b *Bridge) PublishKeyEvent(ev protocol.KeyEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.publish(protocol.SubjectKeyEvent, ev)
}

// PublishSpeechStatus mirrors the outcome of a speech request.
func (b *Bridge) PublishSpeechStatus(st protocol.SpeechStatus) {
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now().UTC()
	}
	b.publish(protocol.SubjectSpeechStatus, st)
}
