package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-lifecycle/internal/session"
)

type fakeConn struct {
	mu     sync.Mutex
	writes []session.Snapshot
	closed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v.(session.Snapshot))
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error         { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestOfferDropsOldestWhenFull(t *testing.T) {
	conn := &fakeConn{}
	s := NewWSStream(conn)
	for i := 1; i <= bufferSize+5; i++ {
		s.Offer(session.Snapshot{Seq: uint64(i)})
	}
	s.Offer(session.Snapshot{Seq: 100, Phase: session.Closed})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	last := conn.writes[len(conn.writes)-1]
	if last.Seq != 100 {
		t.Fatalf("newest snapshot lost, last seq %d", last.Seq)
	}
	if len(conn.writes) != bufferSize {
		t.Fatalf("expected %d writes, got %d", bufferSize, len(conn.writes))
	}
	if conn.writes[0].Seq != 7 {
		t.Fatalf("expected oldest kept seq 7, got %d", conn.writes[0].Seq)
	}
	if !conn.closed {
		t.Fatal("stream must close its connection")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewWSRegistry()
	conn := &fakeConn{}
	s := NewWSStream(conn)
	remove := r.Add(s)

	r.CloseAll()
	if err := s.Run(context.Background()); err != ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	remove()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	s.Offer(session.Snapshot{Seq: 1})
}
