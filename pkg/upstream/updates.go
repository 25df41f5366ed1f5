package upstream

import (
	"fmt"
	"maps"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/shape"
)

// Updates is everything the daemon recorded since a point in time.
type Updates struct {
	Messages        []shape.Record
	// Updated carries edits and delivery changes to messages already sent.
	Updated         []shape.Record
	Typing          []shape.Record
	ReadReceipts    []shape.Record
	ContactsChanged bool
}

// Empty reports whether the batch carries nothing to deliver.
func (u Updates) Empty() bool {
	return len(u.Messages) == 0 && len(u.Updated) == 0 && len(u.Typing) == 0 && len(u.ReadReceipts) == 0 && !u.ContactsChanged
}

// ParseUpdates decodes a daemon update payload. Two shapes are accepted: the
// batch form returned by /updates, and the single-event form the daemon
// pushes, {"event": "...", "data": {...}}.
func ParseUpdates(body map[string]any) (Updates, error) {
	if inner, ok := body["data"].(map[string]any); ok && eventName(body) == "" {
		body = inner
	}
	if name := eventName(body); name != "" {
		return parseEvent(name, body["data"])
	}
	return Updates{
		Messages:        records(body["messages"]),
		Updated:         records(firstOf(body, "updated_messages", "updatedMessages")),
		Typing:          records(body["typing"]),
		ReadReceipts:    records(firstOf(body, "read_receipts", "readReceipts")),
		ContactsChanged: shape.Bool(firstOf(body, "contacts_changed", "contactsChanged")),
	}, nil
}

func eventName(body map[string]any) string {
	return shape.String(firstOf(body, "event", "type"))
}

func parseEvent(name string, data any) (Updates, error) {
	rec, _ := data.(map[string]any)
	var u Updates
	switch name {
	case "new-message", "message", "message.created":
		if rec == nil {
			return u, apperr.BadRequest("message event without data")
		}
		u.Messages = []shape.Record{rec}
	case "updated-message", "message.updated":
		if rec == nil {
			return u, apperr.BadRequest("message event without data")
		}
		u.Updated = []shape.Record{rec}
	case "typing", "typing-started", "typing-indicator":
		if rec == nil {
			return u, apperr.BadRequest("typing event without data")
		}
		u.Typing = []shape.Record{rec}
	case "typing-stopped":
		if rec == nil {
			return u, apperr.BadRequest("typing event without data")
		}
		stopped := maps.Clone(rec)
		stopped["typing"] = false
		u.Typing = []shape.Record{stopped}
	case "read-receipt", "read", "chat-read-status-changed":
		if rec == nil {
			return u, apperr.BadRequest("read event without data")
		}
		u.ReadReceipts = []shape.Record{rec}
	case "contacts-changed", "contacts":
		u.ContactsChanged = true
	default:
		return u, apperr.BadRequest(fmt.Sprintf("unknown event %q", name))
	}
	return u, nil
}

func firstOf(body map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := body[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
