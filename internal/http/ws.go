package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-lifecycle/internal/dispatch"
)

const (
	wsReadLimit = 1024
	wsPongWait  = 60 * time.Second
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.opts.CORSOrigins) == 0 {
				return true
			}
			return slices.Contains(s.opts.CORSOrigins, "*") || slices.Contains(s.opts.CORSOrigins, origin)
		},
	}
}

// handleWS streams a session's snapshots until it closes or the client leaves.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	m, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", m.ID(), "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	stream := dispatch.NewWSStream(conn)
	remove := s.ws.Add(stream)
	defer remove()

	unsubscribe := m.Subscribe(stream.Offer)
	defer unsubscribe()
	stream.Offer(m.Snapshot())

	// Clients only send pongs and close frames; a read error means they left.
	go func() {
		defer stream.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = stream.Run(s.ctx)
	if err != nil && !errors.Is(err, dispatch.ErrStreamClosed) && s.ctx.Err() == nil {
		s.logger.Debug("websocket stream ended", "session_id", m.ID(), "error", err)
	}
}
