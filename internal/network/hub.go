package network

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/metrics"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/optimization"
)

// Message types pushed to clients.
const (
	MsgTypeBacklog  = "backlog"
	MsgTypeEvent    = "event"
	MsgTypeAccepted = "accepted"
	MsgTypeError    = "error"
)

// Message is the envelope of everything written to a websocket.
type Message struct {
	Type   string             `json:"type"`
	GameID string             `json:"game_id"`
	Event  *events.GameEvent  `json:"event,omitempty"`
	Events []events.GameEvent `json:"events,omitempty"`
	Code   string             `json:"code,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type registration struct {
	client *Client
	game   *engine.Game
	since  uint64
}

type reply struct {
	client *Client
	msg    Message
}

type published struct {
	gameID string
	event  events.GameEvent
}

// Hub maintains the set of active clients per game and pushes each of them the
// events its viewer may see.
type Hub struct {
	clients    map[string]map[*Client]bool
	watched    map[string]bool
	broadcast  chan published
	register   chan registration
	unregister chan *Client
	replies    chan reply
	mu         sync.Mutex
	cfg        *optimization.Config
	logger     *logger.Logger
	metrics    *metrics.Collector
	done       chan struct{}
}

// NewHub initializes a new WebSocket Hub.
func NewHub(cfg *optimization.Config, log *logger.Logger) *Hub {
	if cfg == nil {
		cfg = optimization.DefaultConfig()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		watched:    make(map[string]bool),
		broadcast:  make(chan published, cfg.BroadcastChannelBuffer),
		register:   make(chan registration),
		unregister: make(chan *Client),
		replies:    make(chan reply),
		cfg:        cfg,
		logger:     log.With("hub"),
		metrics:    metrics.Get(),
		done:       make(chan struct{}),
	}
}

// Watch forwards the events of g to its clients. Watching a game twice is a no-op.
func (h *Hub) Watch(g *engine.Game) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watched[g.ID()] {
		return
	}
	h.watched[g.ID()] = true
	id := g.ID()
	g.Subscribe(func(e events.GameEvent) {
		select {
		case h.broadcast <- published{gameID: id, event: e}:
		default:
			// Runs under the game's log lock: never block the engine.
			h.metrics.RecordWSError()
			h.logger.Warnf("broadcast buffer full, dropped %s seq %d", id, e.Sequence)
		}
	})
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub shutting down.")
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					h.detachLocked(c)
				}
			}
			h.mu.Unlock()
			return
		case reg := <-h.register:
			h.mu.Lock()
			h.attachLocked(reg)
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			h.detachLocked(c)
			h.mu.Unlock()
		case r := <-h.replies:
			h.mu.Lock()
			if h.clients[r.client.gameID][r.client] {
				h.deliverLocked(r.client, r.msg)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[msg.gameID] {
				if msg.event.Sequence <= c.lastSeq {
					continue
				}
				c.lastSeq = msg.event.Sequence
				if !c.viewer.CanSee(msg.event) {
					continue
				}
				e := msg.event
				h.deliverLocked(c, Message{Type: MsgTypeEvent, GameID: msg.gameID, Event: &e})
			}
			h.mu.Unlock()
		}
	}
}

// attachLocked registers a client and sends it everything it missed since
// reg.since. Running on the hub loop keeps the backlog and live pushes gapless.
func (h *Hub) attachLocked(reg registration) {
	c := reg.client
	set := h.clients[c.gameID]
	if set == nil {
		set = make(map[*Client]bool)
		h.clients[c.gameID] = set
	}
	if h.cfg.MaxClientsPerGame > 0 && len(set) >= h.cfg.MaxClientsPerGame {
		h.logger.Warnf("game %s is full, refusing client", c.gameID)
		close(c.send)
		return
	}
	set[c] = true
	h.metrics.RecordWSConnection(1)

	// Later events are already queued on the broadcast channel.
	last := reg.game.LastSequence()
	viewer := c.viewer
	var backlog []events.GameEvent
	for _, e := range reg.game.Events(reg.since, events.Filter{Viewer: &viewer}) {
		if e.Sequence <= last {
			backlog = append(backlog, e)
		}
	}
	c.lastSeq = last
	h.deliverLocked(c, Message{Type: MsgTypeBacklog, GameID: c.gameID, Events: backlog})
	h.logger.Infof("client %q joined game %s at seq %d", c.viewer.PlayerID, c.gameID, last)
}

func (h *Hub) detachLocked(c *Client) {
	set := h.clients[c.gameID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.gameID)
	}
	close(c.send)
	h.metrics.RecordWSConnection(-1)
	h.logger.Info("WebSocket client disconnected")
}

// deliverLocked queues msg for c and drops a client that cannot keep up.
func (h *Hub) deliverLocked(c *Client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("failed to serialize %s message: %v", msg.Type, err)
		return
	}
	select {
	case c.send <- payload:
		h.metrics.RecordWSMessage()
	default:
		h.metrics.RecordWSError()
		h.logger.Warnf("client %q of game %s is too slow, dropping it", c.viewer.PlayerID, c.gameID)
		h.detachLocked(c)
	}
}

// Join attaches c to g and sends it the events after since it may see.
func (h *Hub) Join(c *Client, g *engine.Game, since uint64) bool {
	h.Watch(g)
	select {
	case h.register <- registration{client: c, game: g, since: since}:
		return true
	case <-h.done:
		return false
	}
}

// leave detaches c. Safe after the hub stopped.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// replyTo sends msg to c alone through the hub loop, the only writer of c.send.
func (h *Hub) replyTo(c *Client, msg Message) {
	select {
	case h.replies <- reply{client: c, msg: msg}:
	case <-h.done:
	}
}

// Connected returns the number of clients attached to a game.
func (h *Hub) Connected(gameID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[gameID])
}
