// Package livefeed broadcasts committed rating events to subscribed
// websocket clients. Adapted from the teacher's ws.Hub/ws.Client pair
// (register/unregister channels, a single Run loop owning the client set,
// ping/pong keepalive): this hub only pushes, it never receives client
// commands, so there is no Matchmaker coupling and no inbound message
// dispatch. Pure ambient addition — nothing here participates in any
// rating invariant.
package livefeed

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/openrating/core/internal/obslog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev-permissive; tighten with an allowlist before exposing publicly.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RatingEventMessage is the compact JSON payload pushed to subscribers
// for each RatingEvent of a match submitted through POST /v1/matches.
// Rating events rewritten by replay are not broadcast.
type RatingEventMessage struct {
	Type           string  `json:"type"`
	OrganizationID string  `json:"organization_id"`
	LadderID       string  `json:"ladder_id"`
	PlayerID       string  `json:"player_id"`
	MatchID        string  `json:"match_id"`
	MuBefore       float64 `json:"mu_before"`
	MuAfter        float64 `json:"mu_after"`
	SigmaBefore    float64 `json:"sigma_before"`
	SigmaAfter     float64 `json:"sigma_after"`
	Delta          float64 `json:"delta"`
	AppliedAt      string  `json:"applied_at"`
}

// Hub maintains the set of connected clients and fans out broadcast
// messages to those subscribed to a given organization.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan organizationMessage
	clients    map[*Client]bool
	log        *slog.Logger
}

type organizationMessage struct {
	organizationID string
	data           []byte
}

// New builds a Hub. Call Run in its own goroutine before serving any
// connections.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan organizationMessage, 256),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

// Run is the hub's single-goroutine owner of the client set. It returns
// when ctx is cancelled, at which point no further registrations are
// accepted; in-flight connections are left to their own readPump/writePump
// to unwind.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("livefeed hub shutting down", obslog.Tag("livefeed"))
			return

		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case m := <-h.broadcast:
			for c := range h.clients {
				if c.organizationID != m.organizationID {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					// Slow consumer; drop it rather than block the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast fans msg out to every client subscribed to msg.OrganizationID.
// Safe to call from any goroutine, including the ingest/replay hot path;
// it never blocks beyond enqueuing onto the hub's internal channel.
func (h *Hub) Broadcast(msg RatingEventMessage) {
	data, err := marshalEvent(msg)
	if err != nil {
		h.log.Error("failed to marshal rating event", obslog.Tag("livefeed"), slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- organizationMessage{organizationID: msg.OrganizationID, data: data}:
	default:
		h.log.Warn("livefeed broadcast buffer full, dropping event", obslog.Tag("livefeed"), slog.String("match_id", msg.MatchID))
	}
}

// ServeWS upgrades the request to a websocket connection subscribed to
// organizationID's rating events and registers the resulting client with
// the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, organizationID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", obslog.Tag("livefeed"), slog.Any("error", err))
		return
	}

	c := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, 32),
		organizationID: organizationID,
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}
