package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Listeners only send small control messages.
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from other origins; access is guarded by the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	ClientID string

	mu     sync.RWMutex
	filter map[string]bool // event types to receive; empty = all
}

// ControlMessage is what a listener may send
type ControlMessage struct {
	Type   string   `json:"type"`             // "SUBSCRIBE"
	Events []string `json:"events,omitempty"` // event types; empty = all
	MsgID  string   `json:"msgId,omitempty"`
}

func (c *Client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filter) == 0 || c.filter[eventType]
}

func (c *Client) subscribe(events []string) {
	filter := make(map[string]bool, len(events))
	for _, e := range events {
		filter[e] = true
	}
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
}

// readPump handles control messages until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.String("client_id", c.ClientID), zap.Error(err))
			}
			break
		}

		var msg ControlMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != "SUBSCRIBE" {
			continue
		}
		c.subscribe(msg.Events)
		c.SendJSON(map[string]interface{}{
			"type":   "ACK",
			"msgId":  msg.MsgID,
			"events": msg.Events,
		})
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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

// SendJSON queues a JSON message for this client through the hub, which
// owns the send channel. It reports false when the hub is gone.
func (c *Client) SendJSON(v interface{}) bool {
	msg, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.hub.direct <- directMessage{client: c, payload: msg}:
		return true
	case <-c.hub.done:
		return false
	}
}

// ServeWs upgrades the request and registers the connection as a listener.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), ClientID: "ws_" + uuid.New().String()}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
