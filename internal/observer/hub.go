// Package observer streams read-only round snapshots to external visualizers
// over WebSocket. Observers never write back into the simulation.
package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/internal/stats"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Frame is the message pushed to observers after each round.
type Frame struct {
	Type     string              `json:"type"`
	RunID    string              `json:"run_id"`
	Snapshot core.Snapshot       `json:"snapshot"`
	Stats    *stats.RoundSummary `json:"stats,omitempty"`
}

// Frame types.
const (
	FrameRound = "ROUND"
	FrameEnd   = "END"
)

type client struct {
	send chan []byte
}

// Hub fans frames out to every connected observer. Slow observers miss
// frames instead of stalling the run.
type Hub struct {
	log      logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	dropped int
}

func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish encodes f and queues it for every observer. The latest frame is
// replayed to observers that connect later.
func (h *Hub) Publish(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = b
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.dropped++
		}
	}
	return nil
}

// Clients returns the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames were skipped for slow observers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// WSHandler upgrades the request and streams frames until the observer
// disconnects.
func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := h.register()
		defer h.unregister(c)
		h.log.Info(r.Context(), "observer connected", logging.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reader: only control frames and close are expected.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				h.log.Info(context.Background(), "observer disconnected", logging.String("remote", r.RemoteAddr))
				return
			case b := <-c.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}
