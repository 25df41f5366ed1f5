package realtime

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/metrics"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/snowflake"
)

// Handler serves one socket event.
type Handler func(ctx context.Context, c *Conn, req Request, respond Responder)

// Router maps event names to handlers.
type Router struct {
	handlers map[string]Handler
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewRouter(log zerolog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		log:      log.With().Str("component", "socket").Logger(),
		metrics:  m,
	}
}

func (r *Router) Handle(event string, h Handler) {
	r.handlers[event] = h
}

func (r *Router) Dispatch(ctx context.Context, c *Conn, req Request, respond Responder) {
	start := time.Now()
	status := http.StatusOK
	wrapped := func(env model.Envelope) {
		status = env.Status
		respond(env)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("event", req.Event).Msg("socket handler panicked")
			status = http.StatusInternalServerError
			respond(model.ErrorEnvelope(apperr.Internal("internal server error", nil), nil))
		}
		r.metrics.ObserveRequest("ws "+req.Event, status, time.Since(start))
		r.log.Debug().
			Str("conn", c.ID).
			Str("event", req.Event).
			Int("status", status).
			Dur("took", time.Since(start)).
			Msg("socket request")
	}()

	h, ok := r.handlers[req.Event]
	if !ok {
		wrapped(model.ErrorEnvelope(apperr.BadRequest("unknown event "+req.Event), nil))
		return
	}
	h(ctx, c, req, wrapped)
}

// Server upgrades HTTP requests to realtime connections.
type Server struct {
	hub      *Hub
	router   *Router
	node     *snowflake.Node
	log      zerolog.Logger
	baseCtx  context.Context
	upgrader websocket.Upgrader
}

type ServerOption func(*Server)

// WithAllowedOrigins restricts browser origins. "*" allows any.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		}
	}
}

// WithBaseContext sets the context request handlers run under. It outlives
// individual connections so in-flight daemon calls finish after a disconnect.
func WithBaseContext(ctx context.Context) ServerOption {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

func NewServer(hub *Hub, router *Router, node *snowflake.Node, log zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		hub:     hub,
		router:  router,
		node:    node,
		log:     log.With().Str("component", "realtime").Logger(),
		baseCtx: context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request. Authentication happens before this point.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConn(s.node.Generate().String(), s.hub, ws, s.log)
	s.hub.Register(c)

	go c.writePump()
	go c.readPump(s.baseCtx, s.router)
}
