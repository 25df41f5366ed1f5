package model

// SendErrorCode marks a message whose send attempt failed.
const SendErrorCode = 4

type Message struct {
	GUID                  string       `json:"guid"`
	TempGUID              string       `json:"tempGuid"`
	ChatGUID              string       `json:"chatGuid"`
	Text                  string       `json:"text"`
	Subject               string       `json:"subject"`
	Handle                *Handle      `json:"handle"`
	IsFromMe              bool         `json:"isFromMe"`
	DateCreated           *int64       `json:"dateCreated"`
	DateDelivered         *int64       `json:"dateDelivered"`
	DateRead              *int64       `json:"dateRead"`
	DateEdited            *int64       `json:"dateEdited"`
	AssociatedMessageGUID string       `json:"associatedMessageGuid"`
	AssociatedMessageType string       `json:"associatedMessageType"`
	ThreadOriginatorGUID  string       `json:"threadOriginatorGuid"`
	Attachments           []Attachment `json:"attachments"`
	Error                 int          `json:"error"`
}

// Realtime event names pushed to subscribers.
const (
	EventNewMessage      = "new-message"
	EventSendError       = "message-send-error"
	EventUpdatedMessage  = "updated-message"
	EventTypingStarted   = "typing-started"
	EventTypingStopped   = "typing-stopped"
	EventReadReceipt     = "read-receipt"
	EventContactsChanged = "contacts-changed"
)

type TypingEvent struct {
	ChatGUID string `json:"chatGuid"`
	Display  bool   `json:"display"`
}

type ReadReceipt struct {
	ChatGUID string `json:"chatGuid"`
	DateRead *int64 `json:"dateRead"`
}
