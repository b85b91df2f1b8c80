package firmware

import (
	"errors"
	"testing"
	"time"

	"github.com/voxpod/voxpod/internal/packet"
)

func TestPendingQueueFIFO(t *testing.T) {
	q := NewPendingQueue(8)
	for i := 0; i < 8; i++ {
		if err := q.Push(packet.Packet{Kind: packet.KindAudio, Tag: uint16(i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	for i := 0; i < 8; i++ {
		p, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue closed unexpectedly", i)
		}
		if p.Tag != uint16(i) {
			t.Fatalf("pop %d: got tag %d, order broken", i, p.Tag)
		}
	}
}

func TestPendingQueuePushBlocksWhenFull(t *testing.T) {
	q := NewPendingQueue(2)
	q.Push(packet.Packet{Tag: 1})
	q.Push(packet.Packet{Tag: 2})

	pushed := make(chan struct{})
	go func() {
		q.Push(packet.Packet{Tag: 3})
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push to full queue did not block")
	case <-time.After(50 * time.Millisecond):
	}

	// Making room releases the producer.
	if p, ok := q.Pop(); !ok || p.Tag != 1 {
		t.Fatalf("pop: got %v %v", p, ok)
	}
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push did not complete after room was made")
	}
}

func TestPendingQueueFlush(t *testing.T) {
	q := NewPendingQueue(4)
	q.Push(packet.Packet{Tag: 1})
	q.Push(packet.Packet{Tag: 2})

	if dropped := q.Flush(); dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after flush: %d", q.Len())
	}

	// Flushing must also release a blocked producer.
	q.Push(packet.Packet{Tag: 3})
	q.Push(packet.Packet{Tag: 4})
	q.Push(packet.Packet{Tag: 5})
	q.Push(packet.Packet{Tag: 6})
	released := make(chan struct{})
	go func() {
		q.Push(packet.Packet{Tag: 7})
		close(released)
	}()
	time.Sleep(20 * time.Millisecond)
	q.Flush()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("flush did not release blocked producer")
	}
}

func TestPendingQueueClose(t *testing.T) {
	q := NewPendingQueue(2)
	q.Push(packet.Packet{Tag: 1})

	popped := make(chan struct{})
	go func() {
		// First pop drains the remaining item, second observes closure.
		if _, ok := q.Pop(); !ok {
			t.Error("expected drained item before closure")
		}
		if _, ok := q.Pop(); ok {
			t.Error("expected closed queue to report not ok")
		}
		close(popped)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case <-popped:
	case <-time.After(time.Second):
		t.Fatal("close did not unblock consumer")
	}

	if err := q.Push(packet.Packet{Tag: 2}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
