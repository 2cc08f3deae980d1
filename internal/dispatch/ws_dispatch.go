// Package dispatch streams session snapshots to connected WebSocket clients.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-lifecycle/internal/session"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	bufferSize = 16
)

var ErrStreamClosed = errors.New("stream closed")

// Conn is the part of *websocket.Conn a stream writes to.
type Conn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSStream pushes snapshots of one session to one connection. Offer never
// blocks the session: when the client falls behind the oldest queued
// snapshot is dropped, the newest always gets through.
type WSStream struct {
	conn Conn
	out  chan session.Snapshot
	done chan struct{}
	once sync.Once
}

func NewWSStream(conn Conn) *WSStream {
	return &WSStream{conn: conn, out: make(chan session.Snapshot, bufferSize), done: make(chan struct{})}
}

func (s *WSStream) Offer(snap session.Snapshot) {
	for {
		select {
		case <-s.done:
			return
		case s.out <- snap:
			return
		default:
		}
		select {
		case <-s.out:
		default:
		}
	}
}

// Run writes queued snapshots until ctx ends, Close is called or a write
// fails. The final Closed snapshot ends the stream.
func (s *WSStream) Run(ctx context.Context) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrStreamClosed
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case snap := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(snap); err != nil {
				return err
			}
			if snap.Phase == session.Closed {
				return nil
			}
		}
	}
}

func (s *WSStream) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// WSRegistry holds the open streams so they can be closed on shutdown.
type WSRegistry struct {
	mu      sync.Mutex
	next    uint64
	streams map[uint64]*WSStream
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{streams: make(map[uint64]*WSStream)} }

// Add registers s and returns a func that unregisters it.
func (r *WSRegistry) Add(s *WSStream) (remove func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.streams[id] = s
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.streams, id)
		r.mu.Unlock()
	}
}

func (r *WSRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *WSRegistry) CloseAll() {
	r.mu.Lock()
	streams := make([]*WSStream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
}
