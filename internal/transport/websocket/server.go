package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The hub sits behind the token middleware; origin filtering belongs
		// to the reverse proxy in production.
		return true
	},
}

// AdminPool is the shared subscriber key every admin connection joins in
// addition to its own user key.
const AdminPool = "admins"

// Hub fans outbound loan notifications out to websocket subscribers. Keys are
// opaque strings: a borrower's user UUID, or AdminPool.
type Hub struct {
	connections map[string]map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection

	broadcast chan *Message

	mu sync.RWMutex
}

type Connection struct {
	ws   *websocket.Conn
	keys []string
	send chan *Message
	hub  *Hub
}

type Message struct {
	Key     string      `json:"key,omitempty"`
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *Message, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// On shutdown close the raw websockets so the pumps error out
			// and unregister themselves.
			h.mu.RLock()
			var conns []*Connection
			for _, m := range h.connections {
				for c := range m {
					conns = append(conns, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range conns {
				_ = c.ws.Close()
			}

			return
		case conn := <-h.register:
			h.mu.Lock()
			for _, key := range conn.keys {
				if h.connections[key] == nil {
					h.connections[key] = make(map[*Connection]bool)
				}
				h.connections[key][conn] = true
			}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(conn)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			if connections, ok := h.connections[message.Key]; ok {
				for conn := range connections {
					select {
					case conn.send <- message:
					default:
						h.dropLocked(conn)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// dropLocked removes a connection from every key it subscribed under and
// closes its send channel at most once. A connection can reach here twice
// (slow-subscriber eviction, then the read pump's unregister); the second
// pass finds it in no map and closes nothing. Caller holds h.mu.
func (h *Hub) dropLocked(conn *Connection) {
	closed := false
	for _, key := range conn.keys {
		connections, ok := h.connections[key]
		if !ok {
			continue
		}
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			if !closed {
				close(conn.send)
				closed = true
			}
			if len(connections) == 0 {
				delete(h.connections, key)
			}
		}
	}
}

func (h *Hub) Broadcast(key string, message *Message) {
	message.Key = key
	select {
	case h.broadcast <- message:
	default:
		log.Printf("hub broadcast channel full, dropping message for %s", key)
	}
}

// HandleWebSocket upgrades the request and subscribes the connection to every
// given key (the caller passes the user key, plus AdminPool for admins).
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, keys ...string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	conn := &Connection{
		ws:   ws,
		keys: keys,
		send: make(chan *Message, 256),
		hub:  h,
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump()
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteJSON(message); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
