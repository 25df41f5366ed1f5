package bridge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/shape"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

func TestIngestDeduplicatesAcrossPaths(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := shape.Record{"id": "m-42", "chat_id": chatGUID, "text": "hi", "date": int64(721692800000000000)}

	pushed, err := upstream.ParseUpdates(map[string]any{"event": "new-message", "data": rec})
	require.NoError(t, err)
	res := h.svc.Ingest(ctx, pushed)
	assert.Equal(t, 1, res.Broadcast)
	assert.Equal(t, int64(1700000000000), res.Newest)

	polled := upstream.Updates{Messages: []shape.Record{rec}}
	res = h.svc.Ingest(ctx, polled)
	assert.Equal(t, 0, res.Broadcast)
	assert.Equal(t, 1, res.Duplicates)

	sent := h.hub.events(model.EventNewMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, chatGUID, sent[0].Room)
}

func TestIngestBroadcastsUpdatesToSeenMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := shape.Record{"id": "m-1", "chat_id": chatGUID, "text": "hi"}

	created, err := upstream.ParseUpdates(map[string]any{"event": "new-message", "data": rec})
	require.NoError(t, err)
	assert.Equal(t, 1, h.svc.Ingest(ctx, created).Broadcast)

	edited := shape.Record{"id": "m-1", "chat_id": chatGUID, "text": "hi there"}
	updated, err := upstream.ParseUpdates(map[string]any{"event": "updated-message", "data": edited})
	require.NoError(t, err)
	res := h.svc.Ingest(ctx, updated)
	assert.Equal(t, 1, res.Broadcast)
	assert.Equal(t, 0, res.Duplicates)

	assert.Len(t, h.hub.events(model.EventNewMessage), 1)
	updates := h.hub.events(model.EventUpdatedMessage)
	require.Len(t, updates, 1)
	assert.Equal(t, chatGUID, updates[0].Room)
	assert.Equal(t, "hi there", updates[0].Data.(model.Message).Text)
}

func TestIngestSkipsOwnSends(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg, err := h.svc.SendText(ctx, SendTextParams{ChatGUID: chatGUID, TempGUID: "tmp", Message: "hey"})
	require.NoError(t, err)

	res := h.svc.Ingest(ctx, upstream.Updates{Messages: []shape.Record{{"guid": msg.GUID, "chat_guid": chatGUID}}})
	assert.Equal(t, 1, res.Duplicates)
	assert.Len(t, h.hub.events(model.EventNewMessage), 1)
}

func TestIngestEphemeralEvents(t *testing.T) {
	h := newHarness(t)
	res := h.svc.Ingest(context.Background(), upstream.Updates{
		Messages:        []shape.Record{{"text": "no ids"}},
		Typing:          []shape.Record{{"chat_id": chatGUID, "typing": true}, {"chat_id": chatGUID, "typing": false}, {}},
		ReadReceipts:    []shape.Record{{"chat_id": chatGUID}},
		ContactsChanged: true,
	})
	assert.Equal(t, 4, res.Broadcast)
	assert.Len(t, h.hub.events(model.EventTypingStarted), 1)
	assert.Len(t, h.hub.events(model.EventTypingStopped), 1)
	assert.Len(t, h.hub.events(model.EventReadReceipt), 1)
	changed := h.hub.events(model.EventContactsChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, GlobalRoom, changed[0].Room)
}

func TestContactsAndVCard(t *testing.T) {
	h := newHarness(t)
	h.up.contacts = []shape.Record{{
		"id":            "c1",
		"first_name":    "Ada",
		"last_name":     "Lovelace",
		"phone_numbers": []any{map[string]any{"number": "+15550001111", "label": "Mobile"}},
		"emails":        []any{"ada@example.com"},
		"avatar":        "base64data",
	}}

	contacts, err := h.svc.ListContacts(context.Background(), ListContactsParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Empty(t, contacts[0].Avatar)

	contacts, err = h.svc.ListContacts(context.Background(), ListContactsParams{Limit: 10, ExtraProperties: []string{ExtraAvatar}})
	require.NoError(t, err)
	assert.Equal(t, "base64data", contacts[0].Avatar)

	card, err := h.svc.ExportVCard(context.Background())
	require.NoError(t, err)
	text := string(card)
	assert.Contains(t, text, "BEGIN:VCARD")
	assert.Contains(t, text, "FN:Ada Lovelace")
	assert.Contains(t, text, "+15550001111")
	assert.Contains(t, text, "ada@example.com")
	assert.True(t, strings.Contains(text, "TYPE=mobile"))

	_, err = h.svc.QueryContacts(context.Background(), nil)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	_, err = h.svc.QueryContacts(context.Background(), []string{" +1555 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"+1555"}, h.up.contactQuery)
}

func TestAttachmentFallsBackToRequestedGUID(t *testing.T) {
	h := newHarness(t)
	h.up.attachment = shape.Record{"mime_type": "image/png"}
	a, err := h.svc.Attachment(context.Background(), "att-1")
	require.NoError(t, err)
	assert.Equal(t, "att-1", a.GUID)
	assert.Equal(t, "image/png", a.MimeType)

	resp, err := h.svc.AttachmentData(context.Background(), "att-1", "bytes=0-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
