package bridge

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/dedup"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

type fakeUpstream struct {
	mu sync.Mutex

	chats      []shape.Record
	messages   []shape.Record
	contacts   []shape.Record
	attachment shape.Record
	sendFn     func(upstream.SendRequest) (upstream.SendResult, error)
	err        error

	sends        []upstream.SendRequest
	listBefore   []int64
	listLimits   []int
	typing       []bool
	reads        []string
	contactQuery []string
}

func (f *fakeUpstream) Health(context.Context) error { return f.err }

func (f *fakeUpstream) ListChats(_ context.Context, limit, offset int) ([]shape.Record, error) {
	return f.chats, f.err
}

func (f *fakeUpstream) GetChat(_ context.Context, id string) (shape.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chats {
		if c["guid"] == id {
			return c, nil
		}
	}
	return nil, apperr.NotFound("chat not found", nil)
}

func (f *fakeUpstream) CreateChat(_ context.Context, addresses []string, service string) (shape.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return shape.Record{"guid": service + ";-;" + addresses[0]}, nil
}

func (f *fakeUpstream) SearchChats(context.Context, string, int, int) ([]shape.Record, error) {
	return f.chats, f.err
}

func (f *fakeUpstream) ListMessages(_ context.Context, _ string, limit int, before int64) ([]shape.Record, error) {
	f.mu.Lock()
	f.listBefore = append(f.listBefore, before)
	f.listLimits = append(f.listLimits, limit)
	f.mu.Unlock()
	return f.messages, f.err
}

func (f *fakeUpstream) Send(_ context.Context, req upstream.SendRequest) (upstream.SendResult, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	if f.err != nil {
		return upstream.SendResult{}, f.err
	}
	return upstream.SendResult{ID: "msg-" + req.IdempotencyKey, CreatedAt: int64(721692800000000000), Record: shape.Record{}}, nil
}

func (f *fakeUpstream) SetTyping(_ context.Context, _ string, typing bool) error {
	f.mu.Lock()
	f.typing = append(f.typing, typing)
	f.mu.Unlock()
	return f.err
}

func (f *fakeUpstream) MarkRead(_ context.Context, chatID string) error {
	f.mu.Lock()
	f.reads = append(f.reads, chatID)
	f.mu.Unlock()
	return f.err
}

func (f *fakeUpstream) ListContacts(context.Context, int, int) ([]shape.Record, error) {
	return f.contacts, f.err
}

func (f *fakeUpstream) QueryContacts(_ context.Context, addresses []string) ([]shape.Record, error) {
	f.contactQuery = addresses
	return f.contacts, f.err
}

func (f *fakeUpstream) Attachment(context.Context, string) (shape.Record, error) {
	return f.attachment, f.err
}

func (f *fakeUpstream) AttachmentData(_ context.Context, _ string, rangeHeader string) (*upstream.DataResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.DataResponse{StatusCode: 200, Body: io.NopCloser(bytes.NewBufferString(rangeHeader))}, nil
}

func (f *fakeUpstream) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type broadcast struct {
	Room  string
	Event string
	Data  any
}

type recordingHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *recordingHub) Broadcast(room, event string, data any) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, broadcast{room, event, data})
	return 1
}

func (h *recordingHub) events(event string) []broadcast {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []broadcast
	for _, b := range h.sent {
		if b.Event == event {
			out = append(out, b)
		}
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event, _ string, _ any) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

type fakeStager struct {
	saved   []string
	removed []string
}

func (s *fakeStager) Remove(staged model.StagedAttachment) error {
	s.removed = append(s.removed, staged.Path)
	return nil
}

func (s *fakeStager) Owns(path string) bool {
	return strings.HasPrefix(path, "/staged/")
}

func (s *fakeStager) Save(name string, r io.Reader) (model.StagedAttachment, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return model.StagedAttachment{}, err
	}
	s.saved = append(s.saved, name)
	return model.StagedAttachment{Path: "/staged/" + name, Name: name, Size: int64(len(b))}, nil
}

type harness struct {
	svc      *Service
	up       *fakeUpstream
	hub      *recordingHub
	notifier *recordingNotifier
	dedup    *dedup.Memory
	stager   *fakeStager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		up:       &fakeUpstream{},
		hub:      &recordingHub{},
		notifier: &recordingNotifier{},
		dedup:    dedup.NewMemory(0),
		stager:   &fakeStager{},
	}
	svc, err := New(Deps{
		Upstream:    h.up,
		Dedup:       h.dedup,
		Seen:        dedup.NewMemory(0),
		Broadcaster: h.hub,
		Notifier:    h.notifier,
		Uploads:     h.stager,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}
