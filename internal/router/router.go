// Package router demultiplexes the single inbound packet stream into
// per-kind queues so each logical channel (keypad, audio, config) is
// independently awaitable.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxpod/voxpod/internal/packet"
	"github.com/voxpod/voxpod/internal/transport"
)

var (
	// ErrTimeout means no packet of the requested kind arrived in time.
	// It is an expected, recoverable outcome.
	ErrTimeout = errors.New("router: wait timed out")
	// ErrClosed means the router has stopped and the queue is drained.
	ErrClosed = errors.New("router: channel closed")
)

// Timeout classes used by callers: keypad polling is interactive, audio
// operations may legitimately take as long as a full announcement.
const (
	KeypadTimeout = 5 * time.Second
	AudioTimeout  = 30 * time.Second
)

// Router owns the inbound channel half exclusively. Its single goroutine
// must never stall: response queues drop their oldest entry on overflow
// instead of blocking, favoring recency.
type Router struct {
	in       *transport.Reader
	log      *slog.Logger
	queues   map[packet.Kind]chan packet.Packet
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	retryAttempts int
	retryBackoff  time.Duration

	dropCount metric.Int64Counter
}

// New creates a router with one queue of the given capacity per packet kind.
func New(in *transport.Reader, capacity int, log *slog.Logger) *Router {
	if capacity <= 0 {
		capacity = 16
	}
	r := &Router{
		in:            in,
		log:           log.With(slog.String("component", "response-router")),
		queues:        make(map[packet.Kind]chan packet.Packet),
		done:          make(chan struct{}),
		retryAttempts: 3,
		retryBackoff:  100 * time.Millisecond,
	}
	for _, kind := range []packet.Kind{packet.KindKeypad, packet.KindAudio, packet.KindSerial, packet.KindConfig} {
		r.queues[kind] = make(chan packet.Packet, capacity)
	}
	meter := otel.Meter("github.com/voxpod/voxpod/router")
	r.dropCount, _ = meter.Int64Counter("voxpod.router.dropped_responses")
	return r
}

// Start launches the router goroutine. No other goroutine may call Recv on
// the inbound half afterwards.
func (r *Router) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()
}

// Stop closes the inbound half and waits for the router goroutine.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	_ = r.in.Close()
	r.wg.Wait()
}

// Running reports whether the router goroutine is still alive.
func (r *Router) Running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Router) run() {
	defer r.stopOnce.Do(func() { close(r.done) })

	failures := 0
	for {
		select {
		case <-r.done:
			return
		default:
		}

		p, err := r.in.Recv()
		if err != nil {
			if packet.Fatal(err) {
				r.log.Error("inbound channel broken", slog.String("error", err.Error()))
				return
			}
			failures++
			r.log.Warn("router read failed",
				slog.Int("attempt", failures),
				slog.String("error", err.Error()))
			if failures > r.retryAttempts {
				r.log.Error("giving up on inbound channel")
				return
			}
			time.Sleep(r.retryBackoff)
			continue
		}
		failures = 0
		r.push(p)
	}
}

// push is lossy on overflow: the oldest entry is discarded so the router
// never blocks behind a slow consumer.
func (r *Router) push(p packet.Packet) {
	q, ok := r.queues[p.Kind]
	if !ok {
		r.log.Warn("dropping packet of unknown kind", slog.String("kind", p.Kind.String()))
		return
	}
	select {
	case q <- p:
		return
	default:
	}
	// Queue full: evict the head. The router goroutine is the only
	// producer, so the second send cannot race another fill.
	select {
	case old := <-q:
		r.dropCount.Add(context.Background(), 1)
		r.log.Warn("response queue overflow, dropped oldest",
			slog.String("kind", p.Kind.String()),
			slog.Int("dropped_tag", int(old.Tag)))
	default:
	}
	select {
	case q <- p:
	default:
	}
}

// WaitFor pops the next packet of the given kind, waiting up to timeout.
// Returns ErrTimeout when nothing arrived, and ErrClosed once the router
// has stopped and the queue is empty.
func (r *Router) WaitFor(kind packet.Kind, timeout time.Duration) (packet.Packet, error) {
	q, ok := r.queues[kind]
	if !ok {
		return packet.Packet{}, ErrClosed
	}

	// Fast path: something is already queued, even if the router stopped.
	select {
	case p := <-q:
		return p, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-q:
		return p, nil
	case <-timer.C:
		return packet.Packet{}, ErrTimeout
	case <-r.done:
		select {
		case p := <-q:
			return p, nil
		default:
			return packet.Packet{}, ErrClosed
		}
	}
}
