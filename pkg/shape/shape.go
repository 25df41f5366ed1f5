package shape

import (
	"strings"

	"github.com/mahaj/msgbridge/pkg/model"
)

func Chat(r Record) model.Chat {
	guid := str(r, chatGUID)
	c := model.Chat{
		GUID:            guid,
		ChatIdentifier:  redact(str(r, chatIdentifier)),
		DisplayName:     redact(str(r, chatDisplayName)),
		Service:         str(r, chatService),
		Style:           intField(r, chatStyle, 0),
		Participants:    Handles(listField(r, chatParticipants)),
		IsArchived:      boolField(r, chatArchived),
		UnreadCount:     intField(r, chatUnread, 0),
		LastMessageDate: timeField(r, chatLastMessageDate),
	}
	if c.ChatIdentifier == "" {
		c.ChatIdentifier = DisplayAddress(guid)
	}
	if c.Service == "" {
		c.Service = ServiceOf(guid)
	}
	if c.Style != model.ChatStyleGroup && c.Style != model.ChatStyleDirect {
		c.Style = model.ChatStyleDirect
		if IsGroupID(guid) || len(c.Participants) > 1 {
			c.Style = model.ChatStyleGroup
		}
	}
	if c.DisplayName == "" && c.Style == model.ChatStyleDirect {
		c.DisplayName = c.ChatIdentifier
	}
	if last, ok := recordField(r, chatLastMessage); ok {
		m := Message(last)
		if m.ChatGUID == "" {
			m.ChatGUID = guid
		}
		c.LastMessage = &m
		if c.LastMessageDate == nil {
			c.LastMessageDate = m.DateCreated
		}
	}
	return c
}

func Chats(list []Record) []model.Chat {
	out := make([]model.Chat, 0, len(list))
	for _, r := range list {
		out = append(out, Chat(r))
	}
	return out
}

// Handle shapes a participant, which may arrive as a record or a bare address.
func Handle(v any) (model.Handle, bool) {
	var h model.Handle
	switch t := v.(type) {
	case string:
		h.Address = t
	case map[string]any:
		h.Address = str(t, handleAddress)
		h.Service = str(t, handleService)
		h.Country = str(t, handleCountry)
	default:
		return h, false
	}
	if h.Address == "" {
		return h, false
	}
	h.DisplayAddress = DisplayAddress(h.Address)
	if h.Service == "" {
		h.Service = ServiceOf(h.Address)
	}
	return h, true
}

func Handles(list []any) []model.Handle {
	out := make([]model.Handle, 0, len(list))
	for _, v := range list {
		if h, ok := Handle(v); ok {
			out = append(out, h)
		}
	}
	return out
}

func Message(r Record) model.Message {
	m := model.Message{
		GUID:                  str(r, msgGUID),
		TempGUID:              str(r, msgTempGUID),
		ChatGUID:              str(r, msgChatGUID),
		Text:                  str(r, msgText),
		Subject:               str(r, msgSubject),
		IsFromMe:              boolField(r, msgFromMe),
		DateCreated:           timeField(r, msgDateCreated),
		DateDelivered:         timeField(r, msgDateDelivered),
		DateRead:              timeField(r, msgDateRead),
		DateEdited:            timeField(r, msgDateEdited),
		AssociatedMessageGUID: str(r, msgAssociatedGUID),
		AssociatedMessageType: str(r, msgAssociatedType),
		ThreadOriginatorGUID:  str(r, msgThreadOrigin),
		Attachments:           Attachments(listField(r, msgAttachments)),
		Error:                 intField(r, msgError, 0),
	}
	if v, ok := lookup(r, msgHandle); ok {
		if h, ok := Handle(v); ok {
			m.Handle = &h
		}
	}
	return m
}

func Messages(list []Record) []model.Message {
	out := make([]model.Message, 0, len(list))
	for _, r := range list {
		out = append(out, Message(r))
	}
	return out
}

// Attachment shapes one attachment record. Records without a stable id are
// rejected.
func Attachment(r Record) (model.Attachment, bool) {
	a := model.Attachment{
		GUID:         str(r, attGUID),
		TransferName: str(r, attName),
		MimeType:     str(r, attMime),
		UTI:          str(r, attUTI),
		TotalBytes:   int64Field(r, attTotalBytes, 0),
		Width:        intField(r, attWidth, 0),
		Height:       intField(r, attHeight, 0),
		IsSticker:    boolField(r, attSticker),
		HideAttach:   boolField(r, attHide),
	}
	if strings.TrimSpace(a.GUID) == "" {
		return model.Attachment{}, false
	}
	return a, true
}

func Attachments(list []any) []model.Attachment {
	out := make([]model.Attachment, 0, len(list))
	for _, v := range list {
		r, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if a, ok := Attachment(r); ok {
			out = append(out, a)
		}
	}
	return out
}

func Contact(r Record) model.Contact {
	c := model.Contact{
		ID:           str(r, contactID),
		FirstName:    str(r, contactFirstName),
		LastName:     str(r, contactLastName),
		Nickname:     str(r, contactNickname),
		DisplayName:  redact(str(r, contactDisplayName)),
		PhoneNumbers: addresses(listField(r, contactPhones)),
		Emails:       addresses(listField(r, contactEmails)),
		Birthday:     str(r, contactBirthday),
		Avatar:       str(r, contactAvatar),
	}
	if c.DisplayName == "" {
		c.DisplayName = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	if c.DisplayName == "" && len(c.PhoneNumbers) > 0 {
		c.DisplayName = c.PhoneNumbers[0].Address
	}
	if c.DisplayName == "" && len(c.Emails) > 0 {
		c.DisplayName = c.Emails[0].Address
	}
	return c
}

func Contacts(list []Record) []model.Contact {
	out := make([]model.Contact, 0, len(list))
	for _, r := range list {
		out = append(out, Contact(r))
	}
	return out
}

func addresses(list []any) []model.ContactAddress {
	out := make([]model.ContactAddress, 0, len(list))
	for _, v := range list {
		var a model.ContactAddress
		switch t := v.(type) {
		case string:
			a.Address = t
		case map[string]any:
			a.Address = str(t, addressValue)
			a.Label = str(t, addressLabel)
		}
		a.Address = DisplayAddress(strings.TrimSpace(a.Address))
		if a.Address != "" {
			out = append(out, a)
		}
	}
	return out
}

// Typing shapes a typing notification. A record without an explicit flag
// means typing started.
func Typing(r Record) model.TypingEvent {
	ev := model.TypingEvent{ChatGUID: str(r, eventChatGUID), Display: true}
	if v, ok := lookup(r, eventTyping); ok {
		ev.Display = Bool(v)
	}
	return ev
}

func ReadReceipt(r Record) model.ReadReceipt {
	return model.ReadReceipt{
		ChatGUID: str(r, eventChatGUID),
		DateRead: timeField(r, eventDateRead),
	}
}
