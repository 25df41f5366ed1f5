package shape

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/timecodec"
)

func decode(t *testing.T, raw string) Record {
	t.Helper()
	var r Record
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestDisplayAddress(t *testing.T) {
	assert.Equal(t, "+15551234567", DisplayAddress("SMS;-;+15551234567"))
	assert.Equal(t, "chat1234", DisplayAddress("iMessage;+;chat1234"))
	assert.Equal(t, "user@example.com", DisplayAddress("user@example.com"))
	assert.Equal(t, "SMS", ServiceOf("SMS;-;+15551234567"))
	assert.Equal(t, "", ServiceOf("+15551234567"))
}

func TestChatLastMessageSynonyms(t *testing.T) {
	units := timecodec.ToUpstream(1700000000000)
	for _, key := range []string{"last_message_date", "lastMessageTime", "last_message_at"} {
		c := Chat(Record{"guid": "SMS;-;+15551234567", key: float64(units)})
		require.NotNil(t, c.LastMessageDate, "key=%s", key)
		assert.Equal(t, int64(1700000000000), *c.LastMessageDate, "key=%s", key)
	}
}

func TestChatDefaultsAndRedaction(t *testing.T) {
	c := Chat(Record{"guid": "SMS;-;+15551234567", "display_name": "SMS;-;+15551234567", "unread_count": "3"})
	assert.Equal(t, "SMS;-;+15551234567", c.GUID, "canonical id is preserved")
	assert.Equal(t, "+15551234567", c.DisplayName)
	assert.Equal(t, "+15551234567", c.ChatIdentifier)
	assert.Equal(t, "SMS", c.Service)
	assert.Equal(t, model.ChatStyleDirect, c.Style)
	assert.Equal(t, 3, c.UnreadCount)
	assert.NotNil(t, c.Participants)
	assert.Empty(t, c.Participants)

	g := Chat(Record{"guid": "iMessage;+;chat99", "participants": []any{"+1555", map[string]any{"address": "a@b.c"}}, "unread_count": "lots"})
	assert.Equal(t, model.ChatStyleGroup, g.Style)
	assert.Equal(t, "", g.DisplayName)
	assert.Len(t, g.Participants, 2)
	assert.Equal(t, 0, g.UnreadCount, "non-numeric strings fall back to the default")
}

func TestShapingIsTotal(t *testing.T) {
	b, err := json.Marshal(Chat(Record{}))
	require.NoError(t, err)
	var chat map[string]any
	require.NoError(t, json.Unmarshal(b, &chat))
	for _, key := range []string{"guid", "chatIdentifier", "displayName", "service", "style", "participants", "isArchived", "unreadCount", "lastMessageDate", "lastMessage"} {
		assert.Contains(t, chat, key)
	}
	assert.Equal(t, []any{}, chat["participants"])

	b, err = json.Marshal(Message(Record{}))
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(b, &msg))
	for _, key := range []string{"guid", "tempGuid", "chatGuid", "text", "subject", "handle", "isFromMe", "dateCreated", "dateDelivered", "dateRead", "dateEdited", "attachments", "error"} {
		assert.Contains(t, msg, key)
	}
	assert.Equal(t, []any{}, msg["attachments"])
	assert.Nil(t, msg["dateCreated"])

	b, err = json.Marshal(Contact(Record{}))
	require.NoError(t, err)
	var contact map[string]any
	require.NoError(t, json.Unmarshal(b, &contact))
	assert.Equal(t, []any{}, contact["phoneNumbers"])
	assert.Equal(t, []any{}, contact["emails"])
}

func TestShapingIsPure(t *testing.T) {
	r := decode(t, `{
		"id": "msg-1",
		"chat_id": "SMS;-;+15551234567",
		"text": "hello",
		"date": 721692800000000000,
		"is_from_me": 1,
		"sender": {"address": "+15551234567", "service": "SMS"},
		"attachments": [{"attachment_id": "att-1", "mime_type": "image/png", "total_bytes": "2048"}]
	}`)
	first := Message(r)
	second := Message(r)
	assert.Equal(t, first, second)

	assert.Equal(t, "msg-1", first.GUID)
	assert.Equal(t, "SMS;-;+15551234567", first.ChatGUID)
	assert.True(t, first.IsFromMe)
	require.NotNil(t, first.DateCreated)
	assert.Equal(t, int64(1700000000000), *first.DateCreated)
	require.NotNil(t, first.Handle)
	assert.Equal(t, "+15551234567", first.Handle.DisplayAddress)
	require.Len(t, first.Attachments, 1)
	assert.Equal(t, int64(2048), first.Attachments[0].TotalBytes)
}

func TestAttachmentsNormalizeAndDropMalformed(t *testing.T) {
	list := []any{
		map[string]any{"guid": "a1", "transferName": "cat.jpg", "mimeType": "image/jpeg", "totalBytes": float64(10)},
		map[string]any{"attachment_id": "a2", "transfer_name": "dog.jpg", "mime_type": "image/jpeg", "total_bytes": "20", "width": "640"},
		map[string]any{"transfer_name": "orphan.jpg"},
		map[string]any{"guid": "   "},
		"not-a-record",
		map[string]any{"id": "a3", "size": "big"},
	}
	got := Attachments(list)
	require.Len(t, got, 3)
	assert.Equal(t, "cat.jpg", got[0].TransferName)
	assert.Equal(t, "dog.jpg", got[1].TransferName)
	assert.Equal(t, int64(20), got[1].TotalBytes)
	assert.Equal(t, 640, got[1].Width)
	assert.Equal(t, int64(0), got[2].TotalBytes)
}

func TestContactFallbacks(t *testing.T) {
	c := Contact(decode(t, `{"id":"c1","phone_numbers":[{"number":"+15550001111","label":"mobile"},"  "],"emails":["a@b.c"]}`))
	assert.Equal(t, "+15550001111", c.DisplayName)
	require.Len(t, c.PhoneNumbers, 1)
	assert.Equal(t, "mobile", c.PhoneNumbers[0].Label)

	c = Contact(Record{"firstName": "Ada", "lastName": "Lovelace"})
	assert.Equal(t, "Ada Lovelace", c.DisplayName)
}

func TestCoercion(t *testing.T) {
	assert.Equal(t, int64(42), Int64("42", -1))
	assert.Equal(t, int64(42), Int64(" 42.9 ", -1))
	assert.Equal(t, int64(-1), Int64("forty-two", -1))
	assert.Equal(t, int64(7), Int64(json.Number("7"), 0))
	assert.Equal(t, int64(0), Int64(nil, 0))
	assert.True(t, Bool("true"))
	assert.True(t, Bool(float64(1)))
	assert.True(t, Bool("1"))
	assert.False(t, Bool("nope"))
	assert.Equal(t, "1000", String(float64(1000)))
}

func TestEphemeralEvents(t *testing.T) {
	ev := Typing(Record{"chat_id": "SMS;-;+1"})
	assert.Equal(t, "SMS;-;+1", ev.ChatGUID)
	assert.True(t, ev.Display)
	assert.False(t, Typing(Record{"chatGuid": "c", "typing": false}).Display)

	rr := ReadReceipt(Record{"chat_guid": "c", "date_read": float64(1700000000000)})
	assert.Equal(t, "c", rr.ChatGUID)
	require.NotNil(t, rr.DateRead)
	assert.Equal(t, int64(1700000000000), *rr.DateRead)
	assert.Nil(t, ReadReceipt(Record{}).DateRead)
}
