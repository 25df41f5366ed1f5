// Package api is the REST surface. Routes live under /api/v1 and every
// JSON response is a model.Envelope.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/auth"
	"github.com/mahaj/msgbridge/pkg/bridge"
	"github.com/mahaj/msgbridge/pkg/metrics"
	"github.com/mahaj/msgbridge/pkg/upload"
)

const (
	requestIDHeader = "X-Request-ID"
	maxJSONBody     = 1 << 20
	maxUploadMemory = 32 << 20
)

type Deps struct {
	Service  *bridge.Service
	Auth     *auth.Authenticator
	Uploads  *upload.Stager
	Realtime http.Handler
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	// AllowedOrigins lists browser origins for CORS; "*" allows any.
	AllowedOrigins []string
}

type Server struct {
	svc      *bridge.Service
	auth     *auth.Authenticator
	uploads  *upload.Stager
	realtime http.Handler
	log      zerolog.Logger
	metrics  *metrics.Metrics
	origins  []string
	router   chi.Router
}

func New(deps Deps) *Server {
	s := &Server{
		svc:      deps.Service,
		auth:     deps.Auth,
		uploads:  deps.Uploads,
		realtime: deps.Realtime,
		log:      deps.Logger.With().Str("component", "api").Logger(),
		metrics:  deps.Metrics,
		origins:  deps.AllowedOrigins,
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.recoverer)
	r.Use(s.accessLog)
	r.Use(s.cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, notFound(r))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelopeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/ping", s.handlePing)
		r.Post("/auth/token", s.handleIssueToken)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/", s.handleListChats)
			r.Post("/query", s.handleQueryChats)
			r.Post("/new", s.handleCreateChat)
			r.Get("/{guid}", s.handleGetChat)
			r.Get("/{guid}/message", s.handleListMessages)
			r.Post("/{guid}/typing", s.handleTyping(true))
			r.Delete("/{guid}/typing", s.handleTyping(false))
			r.Post("/{guid}/read", s.handleMarkRead)
		})

		r.Post("/message/text", s.handleSendText)
		r.Post("/message/attachment", s.handleSendAttachment)

		r.Route("/attachment", func(r chi.Router) {
			r.Post("/upload", s.handleUploadStart)
			r.Put("/upload/{id}/{index}", s.handleUploadChunk)
			r.Post("/upload/{id}/finish", s.handleUploadFinish)
			r.Delete("/upload/{id}", s.handleUploadAbort)
			r.Get("/{guid}", s.handleAttachment)
			r.Get("/{guid}/download", s.handleAttachmentDownload)
		})

		r.Route("/contact", func(r chi.Router) {
			r.Get("/", s.handleListContacts)
			r.Get("/vcf", s.handleExportVCard)
			r.Post("/query", s.handleQueryContacts)
		})

		r.Post("/upstream/events", s.handleUpstreamEvents)

		if s.realtime != nil {
			r.Get("/ws", s.realtime.ServeHTTP)
		}
	})

	return r
}
