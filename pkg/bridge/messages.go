package bridge

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
	"github.com/mahaj/msgbridge/pkg/timecodec"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// ListMessagesParams pages through a chat. Before and After are client
// millis and both bounds are exclusive.
type ListMessagesParams struct {
	ChatGUID string
	Limit    int
	Offset   int
	Before   *int64
	After    *int64
	Sort     string
}

type SendTextParams struct {
	ChatGUID        string
	TempGUID        string
	Message         string
	AttachmentPaths []string
}

type SendAttachmentParams struct {
	ChatGUID string
	TempGUID string
	Name     string
	Message  string
	Data     io.Reader
}

func (s *Service) ListMessages(ctx context.Context, p ListMessagesParams) ([]model.Message, error) {
	p.ChatGUID = strings.TrimSpace(p.ChatGUID)
	if p.ChatGUID == "" {
		return nil, apperr.BadRequest("chat guid is required")
	}
	if err := validatePage(p.Limit, p.Offset); err != nil {
		return nil, err
	}
	switch p.Sort {
	case "":
		p.Sort = SortDesc
	case SortAsc, SortDesc:
	default:
		return nil, apperr.BadRequest("sort must be asc or desc")
	}
	if p.Before != nil && p.After != nil && *p.After >= *p.Before {
		return []model.Message{}, nil
	}

	var cursor int64
	if p.Before != nil {
		cursor = timecodec.ToUpstream(*p.Before)
	}
	recs, err := s.up.ListMessages(ctx, p.ChatGUID, p.Limit+p.Offset, cursor)
	if err != nil {
		return nil, s.upstreamErr(err)
	}

	msgs := make([]model.Message, 0, len(recs))
	for _, m := range shape.Messages(recs) {
		if m.ChatGUID == "" {
			m.ChatGUID = p.ChatGUID
		}
		created := dateOf(m)
		// The daemon cursor is coarser than client millis; re-check locally.
		if p.Before != nil && created >= *p.Before {
			continue
		}
		if p.After != nil && created <= *p.After {
			continue
		}
		msgs = append(msgs, m)
	}

	sort.SliceStable(msgs, func(i, j int) bool { return dateOf(msgs[i]) > dateOf(msgs[j]) })
	msgs = window(msgs, p.Offset, p.Limit)
	if p.Sort == SortAsc {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

func dateOf(m model.Message) int64 {
	if m.DateCreated == nil {
		return 0
	}
	return *m.DateCreated
}

func window(msgs []model.Message, offset, limit int) []model.Message {
	if offset >= len(msgs) {
		return []model.Message{}
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

// SendText forwards one outbound message. The temp guid doubles as the
// idempotency token: a second send with a token still in flight is rejected
// before the daemon is contacted.
//
// On daemon failure the returned message carries SendErrorCode alongside the
// error so callers can show the failed bubble.
func (s *Service) SendText(ctx context.Context, p SendTextParams) (model.Message, error) {
	p.ChatGUID = strings.TrimSpace(p.ChatGUID)
	p.TempGUID = strings.TrimSpace(p.TempGUID)
	switch {
	case p.ChatGUID == "":
		return model.Message{}, apperr.BadRequest("chat guid is required")
	case p.TempGUID == "":
		return model.Message{}, apperr.BadRequest("temp guid is required")
	case strings.TrimSpace(p.Message) == "" && len(p.AttachmentPaths) == 0:
		return model.Message{}, apperr.BadRequest("message text or an attachment is required")
	}
	// The daemon reads attachment paths from the host file system, so only
	// files staged through an upload may be sent.
	for _, path := range p.AttachmentPaths {
		if s.uploads == nil || !s.uploads.Owns(path) {
			return model.Message{}, apperr.BadRequest("attachment paths must come from an upload")
		}
	}

	added, err := s.dedup.Add(ctx, p.TempGUID)
	if err != nil {
		return model.Message{}, apperr.Internal("send dedup unavailable", err)
	}
	if !added {
		s.metrics.DedupConflict()
		return model.Message{}, apperr.Conflict("a message with this temp guid is already being sent")
	}
	defer func() {
		if err := s.dedup.Remove(context.WithoutCancel(ctx), p.TempGUID); err != nil {
			s.log.Warn().Err(err).Str("temp_guid", p.TempGUID).Msg("failed to release send token")
		}
	}()

	res, err := s.up.Send(ctx, upstream.SendRequest{
		ChatID:         p.ChatGUID,
		Text:           p.Message,
		Attachments:    p.AttachmentPaths,
		IdempotencyKey: p.TempGUID,
	})
	if err != nil {
		now := s.nowMillis()
		failed := model.Message{
			TempGUID:    p.TempGUID,
			ChatGUID:    p.ChatGUID,
			Text:        p.Message,
			IsFromMe:    true,
			DateCreated: &now,
			Attachments: []model.Attachment{},
			Error:       model.SendErrorCode,
		}
		s.log.Warn().Err(err).Str("chat_guid", p.ChatGUID).Str("temp_guid", p.TempGUID).Msg("send failed")
		s.broadcast(p.ChatGUID, model.EventSendError, failed)
		return failed, s.upstreamErr(err)
	}

	msg := s.sentMessage(p, res)
	if msg.GUID != "" {
		if _, err := s.seen.Add(ctx, msg.GUID); err != nil {
			s.log.Debug().Err(err).Str("guid", msg.GUID).Msg("failed to mark message as seen")
		}
	}
	s.broadcast(p.ChatGUID, model.EventNewMessage, msg)
	s.notifier.Notify(model.EventNewMessage, p.ChatGUID, msg)
	return msg, nil
}

func (s *Service) sentMessage(p SendTextParams, res upstream.SendResult) model.Message {
	msg := shape.Message(res.Record)
	if msg.GUID == "" {
		msg.GUID = res.ID
	}
	msg.ChatGUID = p.ChatGUID
	msg.TempGUID = p.TempGUID
	msg.IsFromMe = true
	msg.Error = 0
	if msg.Text == "" {
		msg.Text = p.Message
	}
	if msg.DateCreated == nil {
		msg.DateCreated = timecodec.ToClientTime(res.CreatedAt)
	}
	if msg.DateCreated == nil {
		now := s.nowMillis()
		msg.DateCreated = &now
	}
	return msg
}

// SendAttachment stages an uploaded file and sends it by path.
func (s *Service) SendAttachment(ctx context.Context, p SendAttachmentParams) (model.Message, error) {
	if strings.TrimSpace(p.ChatGUID) == "" {
		return model.Message{}, apperr.BadRequest("chat guid is required")
	}
	if strings.TrimSpace(p.TempGUID) == "" {
		return model.Message{}, apperr.BadRequest("temp guid is required")
	}
	if p.Data == nil {
		return model.Message{}, apperr.BadRequest("attachment is required")
	}
	if s.uploads == nil {
		return model.Message{}, apperr.Internal("attachment uploads are not configured", nil)
	}
	staged, err := s.uploads.Save(p.Name, p.Data)
	if err != nil {
		return model.Message{}, apperr.Wrap(err, "failed to stage attachment")
	}
	msg, err := s.SendText(ctx, SendTextParams{
		ChatGUID:        p.ChatGUID,
		TempGUID:        p.TempGUID,
		Message:         p.Message,
		AttachmentPaths: []string{staged.Path},
	})
	if err != nil {
		// The daemon never took the file.
		if rerr := s.uploads.Remove(staged); rerr != nil {
			s.log.Debug().Err(rerr).Str("path", staged.Path).Msg("failed to remove staged attachment")
		}
		return msg, err
	}
	if len(msg.Attachments) == 0 {
		msg.Attachments = []model.Attachment{{
			GUID:         staged.Path,
			TransferName: staged.Name,
			MimeType:     staged.MimeType,
			TotalBytes:   staged.Size,
		}}
	}
	return msg, nil
}
