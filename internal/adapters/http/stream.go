package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/aquaflow/internal/ports"
)

const (
	heartbeatInterval = 15 * time.Second
	writeTimeout      = 5 * time.Second
)

// Hub fans dashboard views out to connected WebSocket clients.
// It implements ports.Display. A slow client only ever misses
// intermediate views, never the latest one.
type Hub struct {
	mu      sync.Mutex
	clients map[uuid.UUID]chan ports.View
	done    chan struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]chan ports.View),
		done:    make(chan struct{}),
	}
}

// Render implements ports.Display
func (h *Hub) Render(v ports.View) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

func (h *Hub) subscribe() (uuid.UUID, <-chan ports.View) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New()
	ch := make(chan ports.View, 1)
	h.clients[id] = ch
	return id, ch
}

func (h *Hub) unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// handleStream upgrades to a WebSocket, sends the current view and then
// every change until the client goes away
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("failed to upgrade connection to websocket")
		return
	}
	defer conn.CloseNow()

	// Subscribe before reading the current view so no change slips between.
	id, updates := s.hub.subscribe()
	defer s.hub.unsubscribe(id)

	ctx := conn.CloseRead(r.Context())
	log.Debug().Str("client", id.String()).Msg("stream client connected")

	if err := writeView(ctx, conn, s.dash.View()); err != nil {
		log.Debug().Err(err).Str("client", id.String()).Msg("stream write failed")
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case v := <-updates:
			if err := writeView(ctx, conn, v); err != nil {
				log.Debug().Err(err).Str("client", id.String()).Msg("stream write failed")
				return
			}

		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("client", id.String()).Msg("stream heartbeat failed")
				return
			}

		case <-s.hub.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case <-ctx.Done():
			log.Debug().Str("client", id.String()).Msg("stream client disconnected")
			return
		}
	}
}

func writeView(ctx context.Context, conn *websocket.Conn, v ports.View) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
