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

	"github.com/voxpod/voxpod/internal/audio"
	"github.com/voxpod/voxpod/internal/config"
	"github.com/voxpod/voxpod/internal/firmware"
	"github.com/voxpod/voxpod/internal/speech"
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

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Channel.Dir, 0o755); err != nil {
		logger.Error("failed to create channel dir", slog.String("error", err.Error()))
		os.Exit(1)
	}
	reqPath := filepath.Join(cfg.Channel.Dir, "voxpod-req.fifo")
	respPath := filepath.Join(cfg.Channel.Dir, "voxpod-resp.fifo")
	for _, p := range []string{reqPath, respPath} {
		if err := transport.EnsureFifo(p); err != nil {
			logger.Error("failed to create fifo", slog.String("path", p), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Open order matters with FIFOs: the firmware opens its read half
	// first and the daemon its write half first, so the two rendezvous
	// instead of deadlocking.
	logger.Info("waiting for daemon", slog.String("fifo", reqPath))
	in, err := transport.OpenReader(reqPath)
	if err != nil {
		logger.Error("failed to open request fifo", slog.String("error", err.Error()))
		os.Exit(1)
	}
	out, err := transport.OpenWriter(respPath)
	if err != nil {
		logger.Error("failed to open response fifo", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sink, err := audio.NewOtoSink(cfg.Speech.SampleRate, cfg.Speech.Channels, logger)
	if err != nil {
		logger.Error("failed to open audio device", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sink.Close()
	arbiter := audio.NewArbiter(sink, logger)

	beepDir := cfg.Audio.BeepDir
	if !cfg.Audio.BeepsEnabled {
		beepDir = "" // empty set, beep requests answer with an error status
	}
	beeps := audio.LoadBeeps(beepDir, logger)

	var engine speech.Engine
	switch cfg.Speech.Mode {
	case "exec":
		engine, err = speech.NewExecEngine(cfg.Speech.Command, cfg.Speech.Voice,
			cfg.Speech.SampleRate, cfg.Speech.Channels)
		if err != nil {
			logger.Error("failed to init speech engine", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		engine = speech.NewMockEngine(cfg.Speech.ChunkBytes(), 4)
	}
	if setter, ok := engine.(speech.RateSetter); ok {
		setter.SetRate(cfg.Speech.Rate)
	}

	cache := speech.NewCache(cfg.Speech.Voice, cfg.Speech.CacheDir, cfg.Speech.CacheToDisk, logger)

	keys := firmware.NewStreamKeySource(os.Stdin,
		time.Duration(cfg.Keypad.SourceHoldMS)*time.Millisecond,
		time.Duration(cfg.Keypad.DoublePulseWindowMS)*time.Millisecond,
		logger)

	srv := firmware.NewServer(firmware.Config{
		QueueCapacity: cfg.Channel.QueueCapacity,
		ChunkBytes:    cfg.Speech.ChunkBytes(),
		RetryAttempts: cfg.Channel.RetryAttempts,
		RetryBackoff:  time.Duration(cfg.Channel.RetryBackoffMS) * time.Millisecond,
		DeviceInfo:    int32(cfg.Audio.DeviceInfo),
	}, in, out, arbiter, beeps, engine, cache, keys, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("firmware exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
