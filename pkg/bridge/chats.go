package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
)

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 1000
	// MaxPageWindow caps limit+offset, the number of records fetched from
	// the daemon for one page.
	MaxPageWindow = MaxPageLimit * 10
)

type ListChatsParams struct {
	Limit  int
	Offset int
}

type QueryChatsParams struct {
	Query  string
	Limit  int
	Offset int
}

type CreateChatParams struct {
	Addresses []string
	Service   string
}

func validatePage(limit, offset int) error {
	if limit < 1 || limit > MaxPageLimit {
		return apperr.BadRequest(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}
	if offset < 0 {
		return apperr.BadRequest("offset must not be negative")
	}
	if offset > MaxPageWindow-limit {
		return apperr.BadRequest(fmt.Sprintf("offset plus limit must not exceed %d", MaxPageWindow))
	}
	return nil
}

func (s *Service) ListChats(ctx context.Context, p ListChatsParams) ([]model.Chat, error) {
	if err := validatePage(p.Limit, p.Offset); err != nil {
		return nil, err
	}
	recs, err := s.up.ListChats(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, s.upstreamErr(err)
	}
	return shape.Chats(recs), nil
}

// QueryChats searches by free text; an empty query lists chats.
func (s *Service) QueryChats(ctx context.Context, p QueryChatsParams) ([]model.Chat, error) {
	q := strings.TrimSpace(p.Query)
	if q == "" {
		return s.ListChats(ctx, ListChatsParams{Limit: p.Limit, Offset: p.Offset})
	}
	if err := validatePage(p.Limit, p.Offset); err != nil {
		return nil, err
	}
	recs, err := s.up.SearchChats(ctx, q, p.Limit, p.Offset)
	if err != nil {
		return nil, s.upstreamErr(err)
	}
	return shape.Chats(recs), nil
}

func (s *Service) GetChat(ctx context.Context, guid string) (model.Chat, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return model.Chat{}, apperr.BadRequest("chat guid is required")
	}
	rec, err := s.up.GetChat(ctx, guid)
	if err != nil {
		return model.Chat{}, s.upstreamErr(err)
	}
	c := shape.Chat(rec)
	if c.GUID == "" {
		c.GUID = guid
	}
	return c, nil
}

func (s *Service) CreateChat(ctx context.Context, p CreateChatParams) (model.Chat, error) {
	addrs := make([]string, 0, len(p.Addresses))
	for _, a := range p.Addresses {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return model.Chat{}, apperr.BadRequest("at least one address is required")
	}
	rec, err := s.up.CreateChat(ctx, addrs, strings.TrimSpace(p.Service))
	if err != nil {
		return model.Chat{}, s.upstreamErr(err)
	}
	return shape.Chat(rec), nil
}

// MarkRead relays a read receipt and tells the room about it.
func (s *Service) MarkRead(ctx context.Context, chatGUID string) error {
	chatGUID = strings.TrimSpace(chatGUID)
	if chatGUID == "" {
		return apperr.BadRequest("chat guid is required")
	}
	if err := s.up.MarkRead(ctx, chatGUID); err != nil {
		return s.upstreamErr(err)
	}
	now := s.nowMillis()
	receipt := model.ReadReceipt{ChatGUID: chatGUID, DateRead: &now}
	s.broadcast(chatGUID, model.EventReadReceipt, receipt)
	s.notifier.Notify(model.EventReadReceipt, chatGUID, receipt)
	return nil
}

// StartTyping relays the indicator as a detached task; the caller never
// waits on the daemon.
func (s *Service) StartTyping(ctx context.Context, chatGUID string) error {
	return s.setTyping(ctx, chatGUID, true)
}

func (s *Service) StopTyping(ctx context.Context, chatGUID string) error {
	return s.setTyping(ctx, chatGUID, false)
}

func (s *Service) setTyping(ctx context.Context, chatGUID string, typing bool) error {
	chatGUID = strings.TrimSpace(chatGUID)
	if chatGUID == "" {
		return apperr.BadRequest("chat guid is required")
	}
	s.detach(ctx, "typing", func(ctx context.Context) error {
		return s.up.SetTyping(ctx, chatGUID, typing)
	})
	event := model.EventTypingStarted
	if !typing {
		event = model.EventTypingStopped
	}
	s.broadcast(chatGUID, event, model.TypingEvent{ChatGUID: chatGUID, Display: typing})
	return nil
}
