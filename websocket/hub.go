package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"speech-relay-backend/models"
	"speech-relay-backend/utils"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
)

// TokenValidator checks the monitor token presented by a client.
type TokenValidator interface {
	Validate(candidate string) bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // monitor clients authenticate with the token instead
	},
}

// Client represents a monitor WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains monitor clients and broadcasts relay events to them
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stop       chan struct{}
	stopOnce   sync.Once

	auth TokenValidator
	mu   sync.RWMutex
}

// NewHub creates a hub that admits clients presenting a token auth accepts.
func NewHub(auth TokenValidator) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, sendBuffer),
		stop:       make(chan struct{}),
		auth:       auth,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			logrus.WithField("total", n).Infoln("monitor client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			n := len(h.clients)
			h.mu.Unlock()
			logrus.WithField("total", n).Infoln("monitor client disconnected")

		case data := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full, drop it
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// ClientCount returns the number of connected monitor clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues ev for every connected client. It never blocks the caller;
// events are dropped when the hub is backed up.
func (h *Hub) Publish(ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Errorln("failed to marshal monitor event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logrus.WithField("type", ev.Type).Warnln("monitor hub backed up, dropping event")
	}
}

// SendToClient sends a message to a specific client
func (h *Hub) SendToClient(client *Client, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Errorln("failed to marshal monitor message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
		h.removeLocked(client)
	}
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// IncomingMessage is a message sent by a monitor client
type IncomingMessage struct {
	Type string `json:"type"`
}

// HandleWebSocket upgrades an authenticated HTTP connection to a monitor stream
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if h.auth == nil || !h.auth.Validate(token) {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warnln("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	// Queued before registration so it is always the first message
	client.send <- []byte(`{"type":"connected"}`)

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Warnln("websocket read error")
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logrus.WithError(err).Debugln("invalid monitor message")
			continue
		}

		switch msg.Type {
		case "ping":
			c.hub.SendToClient(c, map[string]string{"type": "pong"})
		default:
			logrus.WithField("type", msg.Type).Debugln("unknown monitor message type")
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logrus.WithError(err).Warnln("websocket write error")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
