/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Seednode/newyear/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`                // "wish"
	Text     string `json:"text,omitempty"`      // wish
	UserName string `json:"user_name,omitempty"` // wish
}

// SimpleMessage is for generic notifications ("winners_cleared", "error", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	deviceID string
}

type reply struct {
	client *Client
	msg    any
}

// Hub fans server events out to every connected page. A client that
// cannot keep up is disconnected rather than allowed to stall the rest.
type Hub struct {
	clients map[*Client]bool

	register  chan *Client
	unreg     chan *Client
	broadcast chan any
	replies   chan reply
	done      chan struct{}

	log zerolog.Logger
}

func newHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*Client]bool),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		broadcast: make(chan any),
		replies:   make(chan reply),
		done:      make(chan struct{}),
		log:       log,
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.WebsocketClients.Inc()
			h.log.Debug().Str("device", c.deviceID).Int("clients", len(h.clients)).Msg("client connected")

		case c := <-h.unreg:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Debug().Str("device", c.deviceID).Msg("dropping slow client")
					h.drop(c)
				}
			}

		case r := <-h.replies:
			if _, ok := h.clients[r.client]; !ok {
				continue
			}
			select {
			case r.client.send <- r.msg:
			default:
				h.drop(r.client)
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.WebsocketClients.Dec()
		h.log.Debug().Str("device", c.deviceID).Int("clients", len(h.clients)).Msg("client disconnected")
	}
}

// closeAll disconnects every client once the hub stops.
func (h *Hub) closeAll() {
	for c := range h.clients {
		h.drop(c)
		_ = c.conn.Close()
	}

	close(h.done)
}

// add registers c. It reports false once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

// publish sends msg to every client.
func (h *Hub) publish(msg any) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// reply sends msg to c alone, if it is still connected.
func (h *Hub) reply(c *Client, msg any) {
	select {
	case h.replies <- reply{client: c, msg: msg}:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// readPump passes each client message to handle, and any answer back to
// the sender.
func (c *Client) readPump(h *Hub, handle func(*Client, ClientMessage) any) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if answer := handle(c, msg); answer != nil {
			h.reply(c, answer)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
