// Package firmware implements the device-side process: the transport role
// that classifies inbound requests (with the interrupt and beep bypass
// paths), and the single worker that drives the audio and keypad hardware.
package firmware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxpod/voxpod/internal/audio"
	"github.com/voxpod/voxpod/internal/packet"
	"github.com/voxpod/voxpod/internal/speech"
	"github.com/voxpod/voxpod/internal/transport"
)

// KeySource reports the currently observed key. Implementations return
// NoKey when nothing is pressed.
type KeySource interface {
	ReadKey() (byte, error)
}

// NoKey is the sentinel the keypad reports when no key is down.
const NoKey byte = '-'

// Config tunes the server loops.
type Config struct {
	QueueCapacity int
	ChunkBytes    int // PCM bytes per playback chunk (~50ms of audio)
	RetryAttempts int
	RetryBackoff  time.Duration
	DeviceInfo    int32 // opaque value returned by the query op
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 32
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = 1600 // 50ms of 16kHz mono s16le
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
}

// Server owns the firmware side of the channel pair.
type Server struct {
	cfg     Config
	in      *transport.Reader
	out     *transport.Writer
	queue   *PendingQueue
	arbiter *audio.Arbiter
	beeps   *audio.BeepSet
	engine  speech.Engine
	cache   *speech.Cache
	keys    KeySource
	log     *slog.Logger

	sendMu sync.Mutex
	wg     sync.WaitGroup

	speakMu     sync.Mutex
	speakCancel context.CancelFunc

	requestCount   metric.Int64Counter
	interruptCount metric.Int64Counter
	flushedCount   metric.Int64Counter
}

// NewServer wires the firmware server. The cache may be nil to disable the
// speak-and-cache fast path.
func NewServer(cfg Config, in *transport.Reader, out *transport.Writer, arbiter *audio.Arbiter,
	beeps *audio.BeepSet, engine speech.Engine, cache *speech.Cache, keys KeySource, log *slog.Logger) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		in:      in,
		out:     out,
		queue:   NewPendingQueue(cfg.QueueCapacity),
		arbiter: arbiter,
		beeps:   beeps,
		engine:  engine,
		cache:   cache,
		keys:    keys,
		log:     log.With(slog.String("component", "firmware-server")),
	}
	meter := otel.Meter("github.com/voxpod/voxpod/firmware")
	s.requestCount, _ = meter.Int64Counter("voxpod.firmware.requests")
	s.interruptCount, _ = meter.Int64Counter("voxpod.firmware.interrupts")
	s.flushedCount, _ = meter.Int64Counter("voxpod.firmware.flushed_requests")
	return s
}

// Run sends the ready handshake and drives both roles until the channel
// breaks or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := transport.SendReady(s.out); err != nil {
		return err
	}
	s.log.Info("firmware ready, serving requests")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.ioLoop(ctx)
		// The worker has nothing more to wait for once the reader is gone.
		s.queue.Close()
	}()
	go func() {
		defer s.wg.Done()
		s.workerLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		_ = s.in.Close()
		s.queue.Close()
	}()

	s.wg.Wait()
	s.log.Info("firmware server stopped")
	return nil
}

// ioLoop is the transport role: receive, classify, enqueue or bypass.
func (s *Server) ioLoop(ctx context.Context) {
	failures := 0
	for {
		p, err := s.in.Recv()
		if err != nil {
			if packet.Fatal(err) {
				if ctx.Err() == nil {
					s.log.Error("inbound channel broken", slog.String("error", err.Error()))
				}
				return
			}
			failures++
			s.log.Warn("transport read failed",
				slog.Int("attempt", failures),
				slog.String("error", err.Error()))
			if failures > s.cfg.RetryAttempts {
				s.log.Error("giving up on inbound channel")
				return
			}
			time.Sleep(s.cfg.RetryBackoff)
			continue
		}
		failures = 0

		if p.Kind == packet.KindAudio && len(p.Payload) > 0 {
			switch p.Payload[0] {
			case packet.AudioInterrupt:
				s.bypassInterrupt(p)
				continue
			case packet.AudioBeep:
				s.bypassBeep(p)
				continue
			}
		}

		if err := s.queue.Push(p); err != nil {
			return
		}
	}
}

// bypassInterrupt services an interrupt without touching the worker: abort
// playback, flush everything pending, ack directly with the original tag.
// This guarantees bounded response latency even when the worker is blocked
// deep inside a long playback call.
func (s *Server) bypassInterrupt(p packet.Packet) {
	s.arbiter.Interrupt()
	flushed := s.queue.Flush()
	s.interruptCount.Add(context.Background(), 1)
	s.flushedCount.Add(context.Background(), int64(flushed))
	s.log.Info("interrupt bypass", slog.Int("flushed", flushed), slog.Int("tag", int(p.Tag)))
	if err := s.send(packet.StatusResponse(packet.KindAudio, p.Tag, 0)); err != nil {
		s.log.Error("failed to ack interrupt", slog.String("error", err.Error()))
	}
	// After the ack is on the wire, abort any in-flight synthesis so the
	// worker does not stay blocked waiting for the engine.
	s.cancelSpeech()
}

func (s *Server) cancelSpeech() {
	s.speakMu.Lock()
	cancel := s.speakCancel
	s.speakMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// bypassBeep plays a cached clip directly from the transport role so key
// feedback is audible even while the worker is mid-speech. The queue is left
// alone; pending requests stay valid.
func (s *Server) bypassBeep(p packet.Packet) {
	s.arbiter.ClearInterrupt()

	kind := packet.BeepKeypress
	if len(p.Payload) > 1 {
		kind = p.Payload[1]
	}
	var status int32
	if clip, ok := s.beeps.Clip(kind); ok {
		if err := s.arbiter.Beep(clip); err != nil {
			s.log.Warn("beep playback failed", slog.String("error", err.Error()))
			status = -1
		}
	} else {
		status = -1
	}
	if err := s.send(packet.StatusResponse(packet.KindAudio, p.Tag, status)); err != nil {
		s.log.Error("failed to ack beep", slog.String("error", err.Error()))
	}
}

// workerLoop drains the queue one request at a time, writing exactly one
// response per request. Hardware errors come back as a status code; the
// protocol has no separate error channel.
func (s *Server) workerLoop(ctx context.Context) {
	for {
		p, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.requestCount.Add(context.Background(), 1)
		resp := s.dispatch(ctx, p)
		if err := s.send(resp); err != nil {
			s.log.Error("giving up on outbound channel", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, p packet.Packet) packet.Packet {
	switch p.Kind {
	case packet.KindKeypad:
		key, err := s.keys.ReadKey()
		if err != nil {
			s.log.Warn("keypad read failed", slog.String("error", err.Error()))
			return packet.StatusResponse(packet.KindKeypad, p.Tag, -1)
		}
		return packet.Packet{Kind: packet.KindKeypad, Tag: p.Tag, Payload: []byte{key}}

	case packet.KindAudio:
		return s.dispatchAudio(ctx, p)

	case packet.KindConfig:
		return s.dispatchConfig(p)

	default:
		s.log.Warn("unsupported packet kind", slog.String("kind", p.Kind.String()))
		return packet.StatusResponse(p.Kind, p.Tag, -1)
	}
}

func (s *Server) dispatchAudio(ctx context.Context, p packet.Packet) packet.Packet {
	if len(p.Payload) == 0 {
		return packet.StatusResponse(packet.KindAudio, p.Tag, -1)
	}
	op := p.Payload[0]
	arg := string(p.Payload[1:])

	var status int32
	switch op {
	case packet.AudioSpeak:
		status = s.speak(ctx, arg, false)
	case packet.AudioSpeakCached:
		status = s.speak(ctx, arg, true)
	case packet.AudioPlayFile:
		status = s.playFile(arg)
	case packet.AudioBeep:
		// Normally handled by the bypass; kept here so a queued beep still
		// answers correctly.
		s.arbiter.ClearInterrupt()
		kind := packet.BeepKeypress
		if len(arg) > 0 {
			kind = arg[0]
		}
		if clip, ok := s.beeps.Clip(kind); ok {
			if err := s.arbiter.Beep(clip); err != nil {
				status = -1
			}
		} else {
			status = -1
		}
	case packet.AudioInterrupt:
		s.arbiter.Interrupt()
		s.cancelSpeech()
	case packet.AudioQuery:
		status = s.cfg.DeviceInfo
	default:
		s.log.Warn("unrecognized audio op", slog.String("op", string(op)))
		status = -1
	}
	return packet.StatusResponse(packet.KindAudio, p.Tag, status)
}

func (s *Server) dispatchConfig(p packet.Packet) packet.Packet {
	if len(p.Payload) < 2 {
		return packet.StatusResponse(packet.KindConfig, p.Tag, -1)
	}
	switch p.Payload[0] {
	case 'v': // speech rate in tenths: 10 == natural speed
		setter, ok := s.engine.(speech.RateSetter)
		if !ok {
			return packet.StatusResponse(packet.KindConfig, p.Tag, -1)
		}
		setter.SetRate(float64(p.Payload[1]) / 10)
		s.log.Info("speech rate updated", slog.Int("tenths", int(p.Payload[1])))
		return packet.StatusResponse(packet.KindConfig, p.Tag, 0)
	default:
		return packet.StatusResponse(packet.KindConfig, p.Tag, -1)
	}
}

// speak synthesizes and plays text. A new request clears any stale
// interrupt so it can play. Interrupted playback is a normal outcome, not
// an error. With cached=true a cache hit skips synthesis entirely and a
// fully played synthesis is stored for next time.
func (s *Server) speak(ctx context.Context, text string, cached bool) int32 {
	if cached && s.cache != nil {
		if pcm, ok := s.cache.Get(text); ok {
			s.arbiter.ClearInterrupt()
			return s.playPCM(pcm)
		}
	}

	s.arbiter.ClearInterrupt()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.speakMu.Lock()
	s.speakCancel = cancel
	s.speakMu.Unlock()
	defer func() {
		s.speakMu.Lock()
		s.speakCancel = nil
		s.speakMu.Unlock()
	}()

	chunks, errs := s.engine.SynthesizeStream(ctx, text)
	src := &engineSource{chunks: chunks, errs: errs}
	if cached && s.cache != nil {
		src.capture = &bytes.Buffer{}
	}

	err := s.arbiter.Play(src)
	switch {
	case err == nil:
		if src.capture != nil {
			s.cache.Put(text, src.capture.Bytes())
		}
		return 0
	case errors.Is(err, audio.ErrInterrupted), errors.Is(err, context.Canceled):
		return 0
	default:
		s.log.Warn("speech playback failed", slog.String("error", err.Error()))
		return -1
	}
}

// playFile streams a WAV file from disk. The request carries the path
// without its extension.
func (s *Server) playFile(path string) int32 {
	data, err := os.ReadFile(path + ".wav")
	if err != nil {
		s.log.Warn("audio file unreadable", slog.String("path", path), slog.String("error", err.Error()))
		return -1
	}
	pcm, err := audio.ExtractPCM(data)
	if err != nil {
		s.log.Warn("audio file malformed", slog.String("path", path), slog.String("error", err.Error()))
		return -1
	}
	s.arbiter.ClearInterrupt()
	return s.playPCM(pcm)
}

func (s *Server) playPCM(pcm []byte) int32 {
	err := s.arbiter.Play(&pcmSource{data: pcm, chunkBytes: s.cfg.ChunkBytes})
	if err != nil && !errors.Is(err, audio.ErrInterrupted) {
		s.log.Warn("pcm playback failed", slog.String("error", err.Error()))
		return -1
	}
	return 0
}

// send serializes response writes from both roles onto the single outbound
// half, retrying transient failures with backoff.
func (s *Server) send(p packet.Packet) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	var err error
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if err = s.out.Send(p); err == nil {
			return nil
		}
		s.log.Warn("transport write failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
		time.Sleep(s.cfg.RetryBackoff)
	}
	return err
}

// engineSource adapts a synthesis stream to the arbiter's chunk interface,
// optionally capturing the full PCM for the cache.
type engineSource struct {
	chunks  <-chan speech.Chunk
	errs    <-chan error
	capture *bytes.Buffer
}

func (s *engineSource) NextChunk() ([]byte, error) {
	for {
		if s.chunks == nil && s.errs == nil {
			return nil, io.EOF
		}
		select {
		case c, ok := <-s.chunks:
			if !ok {
				s.chunks = nil
				continue
			}
			if s.capture != nil {
				s.capture.Write(c.PCM)
			}
			if len(c.PCM) == 0 {
				continue
			}
			return c.PCM, nil
		case err, ok := <-s.errs:
			if !ok {
				s.errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
}

// pcmSource slices a fully buffered clip into playback chunks.
type pcmSource struct {
	data       []byte
	chunkBytes int
	pos        int
}

func (s *pcmSource) NextChunk() ([]byte, error) {
	if s.pos >= len(s.data) {
		return nil, io.EOF
	}
	end := s.pos + s.chunkBytes
	if end > len(s.data) {
		end = len(s.data)
	}
	chunk := s.data[s.pos:end]
	s.pos = end
	return chunk, nil
}
