package bridge

import (
	"context"
	"maps"
	"strings"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

func (s *Service) Attachment(ctx context.Context, guid string) (model.Attachment, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return model.Attachment{}, apperr.BadRequest("attachment guid is required")
	}
	rec, err := s.up.Attachment(ctx, guid)
	if err != nil {
		return model.Attachment{}, s.upstreamErr(err)
	}
	a, ok := shape.Attachment(rec)
	if !ok {
		// The daemon answered without an id; trust the one we asked for.
		fixed := maps.Clone(rec)
		if fixed == nil {
			fixed = shape.Record{}
		}
		fixed["guid"] = guid
		a, _ = shape.Attachment(fixed)
	}
	return a, nil
}

// AttachmentData streams attachment bytes. The caller closes the body.
func (s *Service) AttachmentData(ctx context.Context, guid, rangeHeader string) (*upstream.DataResponse, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil, apperr.BadRequest("attachment guid is required")
	}
	resp, err := s.up.AttachmentData(ctx, guid, rangeHeader)
	if err != nil {
		return nil, s.upstreamErr(err)
	}
	return resp, nil
}
