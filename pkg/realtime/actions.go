package realtime

import (
	"context"
	"encoding/json"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/bridge"
	"github.com/mahaj/msgbridge/pkg/model"
)

// Socket events accepted from clients.
const (
	ActionJoinRoom        = "join-room"
	ActionLeaveRoom       = "leave-room"
	ActionGetChats        = "get-chats"
	ActionGetChat         = "get-chat"
	ActionGetChatMessages = "get-chat-messages"
	ActionSendMessage     = "send-message"
	ActionStartTyping     = "start-typing"
	ActionStopTyping      = "stop-typing"
	ActionMarkChatRead    = "mark-chat-read"
	ActionGetContacts     = "get-contacts"
	ActionQueryContacts   = "query-contacts"
	ActionPing            = "ping"
)

type chatRef struct {
	ChatGUID string `json:"chatGuid"`
}

type pageArgs struct {
	Limit  *int `json:"limit"`
	Offset int  `json:"offset"`
}

func (p pageArgs) limit() int {
	if p.Limit == nil {
		return bridge.DefaultPageLimit
	}
	return *p.Limit
}

type messagesArgs struct {
	pageArgs
	ChatGUID string `json:"chatGuid"`
	Before   *int64 `json:"before"`
	After    *int64 `json:"after"`
	Sort     string `json:"sort"`
}

type sendArgs struct {
	ChatGUID        string   `json:"chatGuid"`
	TempGUID        string   `json:"tempGuid"`
	Message         string   `json:"message"`
	AttachmentPaths []string `json:"attachmentPaths"`
}

type contactsArgs struct {
	pageArgs
	ExtraProperties []string `json:"extraProperties"`
}

type queryContactsArgs struct {
	Addresses []string `json:"addresses"`
}

// decode unmarshals optional event data. Missing data leaves v zeroed.
func decode(req Request, v any) error {
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return apperr.BadRequest("malformed event data")
	}
	return nil
}

func reply(respond Responder, data any, err error) {
	if err != nil {
		respond(model.ErrorEnvelope(err, nil))
		return
	}
	respond(model.Success(data))
}

// RegisterActions wires every client socket event onto svc.
func RegisterActions(r *Router, hub *Hub, svc *bridge.Service) {
	r.Handle(ActionPing, func(ctx context.Context, _ *Conn, _ Request, respond Responder) {
		reply(respond, "pong", svc.Ping(ctx))
	})

	r.Handle(ActionJoinRoom, func(_ context.Context, c *Conn, req Request, respond Responder) {
		var args chatRef
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		if err := hub.Join(c, args.ChatGUID); err != nil {
			reply(respond, nil, err)
			return
		}
		reply(respond, map[string]any{"rooms": hub.Rooms(c)}, nil)
	})

	r.Handle(ActionLeaveRoom, func(_ context.Context, c *Conn, req Request, respond Responder) {
		var args chatRef
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		if err := hub.Leave(c, args.ChatGUID); err != nil {
			reply(respond, nil, err)
			return
		}
		reply(respond, map[string]any{"rooms": hub.Rooms(c)}, nil)
	})

	r.Handle(ActionGetChats, func(ctx context.Context, _ *Conn, req Request, respond Responder) {
		var args pageArgs
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		chats, err := svc.ListChats(ctx, bridge.ListChatsParams{Limit: args.limit(), Offset: args.Offset})
		reply(respond, chats, err)
	})

	r.Handle(ActionGetChat, func(ctx context.Context, _ *Conn, req Request, respond Responder) {
		var args chatRef
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		chat, err := svc.GetChat(ctx, args.ChatGUID)
		reply(respond, chat, err)
	})

	r.Handle(ActionGetChatMessages, func(ctx context.Context, _ *Conn, req Request, respond Responder) {
		var args messagesArgs
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		msgs, err := svc.ListMessages(ctx, bridge.ListMessagesParams{
			ChatGUID: args.ChatGUID,
			Limit:    args.limit(),
			Offset:   args.Offset,
			Before:   args.Before,
			After:    args.After,
			Sort:     args.Sort,
		})
		reply(respond, msgs, err)
	})

	r.Handle(ActionSendMessage, func(ctx context.Context, _ *Conn, req Request, respond Responder) {
		var args sendArgs
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		msg, err := svc.SendText(ctx, bridge.SendTextParams{
			ChatGUID:        args.ChatGUID,
			TempGUID:        args.TempGUID,
			Message:         args.Message,
			AttachmentPaths: args.AttachmentPaths,
		})
		if err != nil && msg.Error == model.SendErrorCode {
			respond(model.ErrorEnvelope(err, msg))
			return
		}
		reply(respond, msg, err)
	})

	typing := func(start bool) Handler {
		return func(ctx context.Context, _ *Conn, req Request, respond Responder) {
			var args chatRef
			if err := decode(req, &args); err != nil {
				reply(respond, nil, err)
				return
			}
			var err error
			if start {
				err = svc.StartTyping(ctx, args.ChatGUID)
			} else {
				err = svc.StopTyping(ctx, args.ChatGUID)
			}
			reply(respond, nil, err)
		}
	}
	r.Handle(ActionStartTyping, typing(true))
	r.Handle(ActionStopTyping, typing(false))

	r.Handle(ActionMarkChatRead, func(ctx context.Context, _ *Conn, req Request, respond Responder) {
		var args chatRef
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		reply(respond, nil, svc.MarkRead(ctx, args.ChatGUID))
	})

	r.Handle(ActionGetContacts, func(ctx context.Context, _ *Conn, req Request, respond Responder) {
		var args contactsArgs
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		contacts, err := svc.ListContacts(ctx, bridge.ListContactsParams{
			Limit:           args.limit(),
			Offset:          args.Offset,
			ExtraProperties: args.ExtraProperties,
		})
		reply(respond, contacts, err)
	})

	r.Handle(ActionQueryContacts, func(ctx context.Context, _ *Conn, req Request, respond Responder) {
		var args queryContactsArgs
		if err := decode(req, &args); err != nil {
			reply(respond, nil, err)
			return
		}
		contacts, err := svc.QueryContacts(ctx, args.Addresses)
		reply(respond, contacts, err)
	})
}
