// Package bridge is the transport-agnostic core shared by the REST and
// realtime surfaces. Each operation validates its input, performs one daemon
// round trip, shapes the result and, where required, broadcasts it.
package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/dedup"
	"github.com/mahaj/msgbridge/pkg/metrics"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

// GlobalRoom is joined by every realtime connection.
const GlobalRoom = "global"

const relayTimeout = 10 * time.Second

// Upstream is the subset of the daemon client the service needs.
type Upstream interface {
	Health(ctx context.Context) error
	ListChats(ctx context.Context, limit, offset int) ([]shape.Record, error)
	GetChat(ctx context.Context, id string) (shape.Record, error)
	CreateChat(ctx context.Context, addresses []string, service string) (shape.Record, error)
	SearchChats(ctx context.Context, query string, limit, offset int) ([]shape.Record, error)
	ListMessages(ctx context.Context, chatID string, limit int, before int64) ([]shape.Record, error)
	Send(ctx context.Context, req upstream.SendRequest) (upstream.SendResult, error)
	SetTyping(ctx context.Context, chatID string, typing bool) error
	MarkRead(ctx context.Context, chatID string) error
	ListContacts(ctx context.Context, limit, offset int) ([]shape.Record, error)
	QueryContacts(ctx context.Context, addresses []string) ([]shape.Record, error)
	Attachment(ctx context.Context, id string) (shape.Record, error)
	AttachmentData(ctx context.Context, id, rangeHeader string) (*upstream.DataResponse, error)
}

// Broadcaster delivers an event to every connection in a room.
type Broadcaster interface {
	Broadcast(room, event string, data any) int
}

// Notifier hands events to out-of-band sinks without blocking.
type Notifier interface {
	Notify(event, chatGUID string, data any)
}

// Stager turns uploaded bytes into a file the daemon can read.
type Stager interface {
	Save(name string, r io.Reader) (model.StagedAttachment, error)
	Remove(staged model.StagedAttachment) error
	Owns(path string) bool
}

type Deps struct {
	Upstream    Upstream
	Dedup       dedup.Cache
	Seen        dedup.Cache
	Broadcaster Broadcaster
	Notifier    Notifier
	Uploads     Stager
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

type Service struct {
	up       Upstream
	dedup    dedup.Cache
	seen     dedup.Cache
	hub      Broadcaster
	notifier Notifier
	uploads  Stager
	log      zerolog.Logger
	metrics  *metrics.Metrics
	nowFn    func() time.Time

	tasks sync.WaitGroup
}

func New(deps Deps) (*Service, error) {
	if deps.Upstream == nil {
		return nil, errors.New("bridge: upstream client is required")
	}
	if deps.Dedup == nil {
		return nil, errors.New("bridge: dedup cache is required")
	}
	if deps.Seen == nil {
		deps.Seen = dedup.NewMemory(10 * time.Minute)
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = discard{}
	}
	if deps.Notifier == nil {
		deps.Notifier = discard{}
	}
	return &Service{
		up:       deps.Upstream,
		dedup:    deps.Dedup,
		seen:     deps.Seen,
		hub:      deps.Broadcaster,
		notifier: deps.Notifier,
		uploads:  deps.Uploads,
		log:      deps.Logger.With().Str("component", "bridge").Logger(),
		metrics:  deps.Metrics,
		nowFn:    time.Now,
	}, nil
}

// Ping checks that the daemon answers its health endpoint.
func (s *Service) Ping(ctx context.Context) error {
	return s.upstreamErr(s.up.Health(ctx))
}

// Wait blocks until detached relay tasks have finished.
func (s *Service) Wait() {
	s.tasks.Wait()
}

// detach runs fn in the background with a bounded context that survives the
// caller. Failures are logged and dropped.
func (s *Service) detach(ctx context.Context, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayTimeout)
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer cancel()
		if err := fn(ctx); err != nil {
			s.metrics.UpstreamError(string(apperr.KindOf(err)))
			s.log.Debug().Err(err).Str("task", name).Msg("detached task failed")
		}
	}()
}

func (s *Service) broadcast(room, event string, data any) {
	n := s.hub.Broadcast(room, event, data)
	s.metrics.Broadcast(event)
	s.log.Debug().Str("room", room).Str("event", event).Int("receivers", n).Msg("broadcast")
}

// upstreamErr records classified daemon failures before handing them back.
func (s *Service) upstreamErr(err error) error {
	if err == nil {
		return nil
	}
	s.metrics.UpstreamError(string(apperr.KindOf(err)))
	return apperr.Wrap(err, "upstream call failed")
}

func (s *Service) nowMillis() int64 {
	return s.nowFn().UnixMilli()
}

type discard struct{}

func (discard) Broadcast(string, string, any) int { return 0 }

func (discard) Notify(string, string, any) {}
