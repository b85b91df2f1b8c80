package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/voxpod/voxpod/internal/bridge"
	"github.com/voxpod/voxpod/internal/comm"
	"github.com/voxpod/voxpod/internal/config"
	"github.com/voxpod/voxpod/internal/control"
	"github.com/voxpod/voxpod/internal/eventlog"
	"github.com/voxpod/voxpod/internal/keypad"
	"github.com/voxpod/voxpod/internal/rig"
	"github.com/voxpod/voxpod/internal/router"
	"github.com/voxpod/voxpod/internal/runtime"
	"github.com/voxpod/voxpod/internal/transport"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "voxpod.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, configPath, logger); err != nil {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, configPath string, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Channel.Dir, 0o755); err != nil {
		return fmt.Errorf("create channel dir: %w", err)
	}
	reqPath := filepath.Join(cfg.Channel.Dir, "voxpod-req.fifo")
	respPath := filepath.Join(cfg.Channel.Dir, "voxpod-resp.fifo")
	for _, p := range []string{reqPath, respPath} {
		if err := transport.EnsureFifo(p); err != nil {
			return err
		}
	}

	// Mirror image of the firmware's open order: write half first.
	logger.Info("waiting for firmware", slog.String("fifo", reqPath))
	out, err := transport.OpenWriter(reqPath)
	if err != nil {
		return err
	}
	defer out.Close()
	in, err := transport.OpenReader(respPath)
	if err != nil {
		return err
	}

	handshakeTimeout := time.Duration(cfg.Channel.HandshakeTimeoutMS) * time.Millisecond
	if err := transport.AwaitReady(in, handshakeTimeout); err != nil {
		return err
	}
	logger.Info("firmware handshake validated")

	rt := runtime.New(cfg, logger)
	rtDone := make(chan error, 1)
	go func() { rtDone <- rt.Start(ctx) }()
	rt.SetReady(true)

	r := router.New(in, cfg.Channel.ResponseQueueCapacity, logger)
	r.Start()
	defer r.Stop()

	client := comm.New(out, r, logger)

	events, err := eventlog.Open(ctx, cfg.EventLog, logger)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer events.Close()

	br, err := bridge.Connect(cfg.Bridge, logger)
	if err != nil {
		// The bridge is diagnostics-only; a dead broker must not keep the
		// controller from starting.
		logger.Warn("event bridge unavailable", slog.String("error", err.Error()))
	}
	defer br.Close()

	var radio rig.Control
	if cfg.Rig.Enabled {
		rigCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Rig.TimeoutMS)*time.Millisecond)
		radio, err = rig.Dial(rigCtx, cfg.Rig.Address, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("connect rig: %w", err)
		}
		defer radio.Close()
	}

	if info, err := client.QueryDeviceInfo(); err != nil {
		logger.Warn("device info query failed", slog.String("error", err.Error()))
	} else {
		logger.Info("firmware audio device", slog.Int("device", int(info)))
	}
	if cfg.Speech.Rate != 1.0 {
		if err := client.SetSpeechRate(cfg.Speech.Rate); err != nil {
			logger.Warn("failed to apply speech rate", slog.String("error", err.Error()))
		}
	}

	ctl := control.New(client, radio, events, br, cfg, configPath, logger)

	classifier := keypad.NewClassifier(keypad.Config{
		HoldThreshold: time.Duration(cfg.Keypad.HoldThresholdMS) * time.Millisecond,
		DebounceLimit: cfg.Keypad.DebounceLimit,
	})
	poller := keypad.NewPoller(client, classifier,
		time.Duration(cfg.Keypad.PollIntervalMS)*time.Millisecond,
		func(ev keypad.Event) { ctl.HandleEvent(ctx, ev) },
		logger)

	if err := client.Speak("voxpod ready"); err != nil {
		logger.Warn("startup announcement failed", slog.String("error", err.Error()))
	}

	err = poller.Run(ctx)
	rt.SetReady(false)
	if rtErr := <-rtDone; rtErr != nil {
		logger.Error("runtime shutdown error", slog.String("error", rtErr.Error()))
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("keypad polling stopped: %w", err)
	}
	return nil
}
