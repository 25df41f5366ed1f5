package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	sendBuffer = 256
)

// Request is an inbound frame. ID is optional; when present the reply
// echoes it.
type Request struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Reply answers a Request that carried an ID.
type Reply struct {
	ID       string         `json:"id"`
	Event    string         `json:"event"`
	Response model.Envelope `json:"response"`
}

// Push is a server-initiated frame.
type Push struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Responder delivers the outcome of one request. Handlers call it exactly
// once and never need to know which transport they run on.
type Responder func(model.Envelope)

// Conn is a middleman between one websocket and the hub.
type Conn struct {
	ID string

	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
	inflight  sync.WaitGroup
}

func newConn(id string, hub *Hub, ws *websocket.Conn, log zerolog.Logger) *Conn {
	return &Conn{
		ID:   id,
		hub:  hub,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		log:  log.With().Str("conn", id).Logger(),
		done: make(chan struct{}),
	}
}

// enqueue queues payload without blocking. It fails when the connection is
// closed or its buffer is full.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// responder builds the Responder for req: a reply frame when the request
// has an id, otherwise a push named after the request.
func (c *Conn) responder(req Request) Responder {
	var once sync.Once
	return func(env model.Envelope) {
		once.Do(func() {
			var frame any = Push{Event: req.Event, Data: env}
			if req.ID != "" {
				frame = Reply{ID: req.ID, Event: req.Event, Response: env}
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				c.log.Error().Err(err).Str("event", req.Event).Msg("failed to encode reply")
				return
			}
			if !c.enqueue(payload) {
				c.log.Debug().Str("event", req.Event).Msg("reply dropped")
			}
		})
	}
}

// readPump pumps frames from the websocket to the router. Each request runs
// on its own goroutine so a slow daemon call does not stall the socket.
func (c *Conn) readPump(ctx context.Context, router *Router) {
	defer func() {
		c.hub.Remove(c)
		c.Close()
		c.inflight.Wait()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil || req.Event == "" {
			c.responder(Request{Event: "error"})(model.ErrorEnvelope(apperr.BadRequest("malformed frame"), nil))
			continue
		}

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			router.Dispatch(ctx, c, req, c.responder(req))
		}()
	}
}

// writePump pumps queued frames to the websocket and keeps it alive with
// pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
