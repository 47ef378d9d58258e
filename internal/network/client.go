package network

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 4096
	// Minimum spacing between two commands of one client.
	commandInterval = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket subscribed to one game as one viewer. Only the hub
// loop writes to send and lastSeq.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	game   *engine.Game
	gameID string
	viewer events.Viewer

	lastSeq         uint64
	lastCommandTime time.Time
}

// NewClient creates a client of g for viewer.
func NewClient(hub *Hub, conn *websocket.Conn, g *engine.Game, viewer events.Viewer) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.cfg.ClientSendBuffer),
		game:   g,
		gameID: g.ID(),
		viewer: viewer,
	}
}

// ServeWS upgrades GET /ws?game=&viewer=&since= and streams the game's visible events.
func (h *Hub) ServeWS(reg *engine.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		g, err := reg.Get(q.Get("game"))
		if err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		viewer, ok := viewerFor(g, q.Get("viewer"))
		if !ok {
			jsonError(w, "unknown viewer", http.StatusBadRequest)
			return
		}
		since, _ := strconv.ParseUint(q.Get("since"), 10, 64)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Errorf("failed to upgrade websocket connection: %v", err)
			return
		}
		c := NewClient(h, conn, g, viewer)
		if !h.Join(c, g, since) {
			conn.Close()
			return
		}
		go c.WritePump()
		go c.ReadPump()
	}
}

// ReadPump reads commands from the connection until it closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("websocket read: %v", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.replyTo(c, Message{Type: MsgTypeError, GameID: c.gameID, Code: "BAD_COMMAND", Error: err.Error()})
			continue
		}
		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd Command) {
	if time.Since(c.lastCommandTime) < commandInterval {
		c.hub.replyTo(c, Message{Type: MsgTypeError, GameID: c.gameID, Code: "RATE_LIMITED", Error: "too many commands"})
		return
	}
	c.lastCommandTime = time.Now()

	// A socket speaks only for the player it watches as.
	if c.viewer.PlayerID == "" || (cmd.PlayerID != "" && cmd.PlayerID != c.viewer.PlayerID) {
		c.hub.replyTo(c, Message{Type: MsgTypeError, GameID: c.gameID, Code: engine.CodeInvalidActor, Error: "commands need a player viewer"})
		return
	}
	cmd.PlayerID = c.viewer.PlayerID

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := submit(ctx, c.game, cmd); err != nil {
		_, code := errorStatus(err)
		c.hub.replyTo(c, Message{Type: MsgTypeError, GameID: c.gameID, Code: code, Error: err.Error()})
		return
	}
	c.hub.replyTo(c, Message{Type: MsgTypeAccepted, GameID: c.gameID})
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
