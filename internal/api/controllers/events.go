package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/datallboy/packman/internal/app"
	"github.com/datallboy/packman/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
	"github.com/samber/lo"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is meant for a local UI
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *EventHub
}

// EventHub fans PackState changes out to every websocket client. A client
// first gets an "init" message with the whole catalog, then one "state"
// message per change.
type EventHub struct {
	app *app.Context

	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	count      int
	mu         sync.RWMutex
}

func NewEventHub(app *app.Context) *EventHub {
	return &EventHub{
		app:        app,
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done or the manager shuts down.
func (h *EventHub) Run(ctx context.Context) {
	updates, unsubscribe := h.app.Manager.Subscribe(sendBuffer)
	defer unsubscribe()
	defer close(h.done)
	defer func() {
		for client := range h.clients {
			h.drop(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount()
			// Queued here so it is ordered before any change that follows
			client.send <- h.initMessage()
			h.app.Logger.Debug("[WS] Client connected (%d total)", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.app.Logger.Debug("[WS] Client disconnected (%d total)", len(h.clients))
			}

		case st, ok := <-updates:
			if !ok {
				return
			}
			msg, err := json.Marshal(Event{Type: "state", Data: st})
			if err != nil {
				h.app.Logger.Error("[WS] Failed to marshal state: %v", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Too slow to keep up, disconnect
					h.drop(client)
				}
			}
		}
	}
}

func (h *EventHub) drop(client *wsClient) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *EventHub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *EventHub) initMessage() []byte {
	states := h.app.Manager.States()
	views := lo.Map(h.app.Manager.AvailablePacks(), func(p domain.ContentPack, _ int) PackView {
		st, ok := states[p.ID]
		if !ok {
			st = domain.NewPackState(p.ID)
		}
		return PackView{Pack: p, State: st}
	})

	data, _ := json.Marshal(Event{Type: "init", Data: views})
	return data
}

// Handle upgrades GET /api/events to a websocket.
func (h *EventHub) Handle(c *echo.Context) error {
	select {
	case <-h.done:
		return c.NoContent(http.StatusServiceUnavailable)
	default:
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already answered the request
		h.app.Logger.Warn("[WS] Upgrade failed: %v", err)
		return nil
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}

func (c *wsClient) writePump() {
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

// readPump only watches for the client going away; nothing is read from it.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.app.Logger.Debug("[WS] Read error: %v", err)
			}
			return
		}
	}
}
