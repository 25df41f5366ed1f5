package bridge

import (
	"context"

	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

// IngestResult summarises one delivered batch.
type IngestResult struct {
	Broadcast  int
	Duplicates int
	// Newest is the latest message date in client millis, or 0.
	Newest int64
}

// Ingest is the single entry point for daemon-originated events, whether
// pushed to the webhook or pulled by the poller. A message id is broadcast
// at most once per seen window no matter how many paths deliver it.
func (s *Service) Ingest(ctx context.Context, u upstream.Updates) IngestResult {
	var res IngestResult

	for _, rec := range u.Messages {
		m := shape.Message(rec)
		if created := dateOf(m); created > res.Newest {
			res.Newest = created
		}
		if m.GUID == "" || m.ChatGUID == "" {
			s.log.Debug().Str("guid", m.GUID).Str("chat_guid", m.ChatGUID).Msg("dropping message without ids")
			continue
		}
		fresh, err := s.seen.Add(ctx, m.GUID)
		if err != nil {
			// Deliver rather than lose the message when the window is unavailable.
			s.log.Warn().Err(err).Str("guid", m.GUID).Msg("seen window unavailable")
			fresh = true
		}
		if !fresh {
			res.Duplicates++
			s.metrics.DuplicateSeen()
			continue
		}
		s.broadcast(m.ChatGUID, model.EventNewMessage, m)
		s.notifier.Notify(model.EventNewMessage, m.ChatGUID, m)
		res.Broadcast++
	}

	// Updates refer to messages that were already delivered, so they bypass
	// the seen window.
	for _, rec := range u.Updated {
		m := shape.Message(rec)
		if m.GUID == "" || m.ChatGUID == "" {
			s.log.Debug().Str("guid", m.GUID).Str("chat_guid", m.ChatGUID).Msg("dropping update without ids")
			continue
		}
		s.broadcast(m.ChatGUID, model.EventUpdatedMessage, m)
		s.notifier.Notify(model.EventUpdatedMessage, m.ChatGUID, m)
		res.Broadcast++
	}

	for _, rec := range u.Typing {
		ev := shape.Typing(rec)
		if ev.ChatGUID == "" {
			continue
		}
		name := model.EventTypingStarted
		if !ev.Display {
			name = model.EventTypingStopped
		}
		s.broadcast(ev.ChatGUID, name, ev)
		res.Broadcast++
	}

	for _, rec := range u.ReadReceipts {
		rr := shape.ReadReceipt(rec)
		if rr.ChatGUID == "" {
			continue
		}
		s.broadcast(rr.ChatGUID, model.EventReadReceipt, rr)
		s.notifier.Notify(model.EventReadReceipt, rr.ChatGUID, rr)
		res.Broadcast++
	}

	if u.ContactsChanged {
		s.broadcast(GlobalRoom, model.EventContactsChanged, map[string]any{})
		s.notifier.Notify(model.EventContactsChanged, "", nil)
		res.Broadcast++
	}
	return res
}
