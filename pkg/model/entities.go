package model

// Chat styles reported to clients.
const (
	ChatStyleGroup  = 43
	ChatStyleDirect = 45
)

type Chat struct {
	GUID            string   `json:"guid"`
	ChatIdentifier  string   `json:"chatIdentifier"`
	DisplayName     string   `json:"displayName"`
	Service         string   `json:"service"`
	Style           int      `json:"style"`
	Participants    []Handle `json:"participants"`
	IsArchived      bool     `json:"isArchived"`
	UnreadCount     int      `json:"unreadCount"`
	LastMessageDate *int64   `json:"lastMessageDate"`
	LastMessage     *Message `json:"lastMessage"`
}

type Handle struct {
	Address        string `json:"address"`
	DisplayAddress string `json:"displayAddress"`
	Service        string `json:"service"`
	Country        string `json:"country"`
}

type Attachment struct {
	GUID         string `json:"guid"`
	TransferName string `json:"transferName"`
	MimeType     string `json:"mimeType"`
	UTI          string `json:"uti"`
	TotalBytes   int64  `json:"totalBytes"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	IsSticker    bool   `json:"isSticker"`
	HideAttach   bool   `json:"hideAttachment"`
}

type Contact struct {
	ID           string           `json:"id"`
	DisplayName  string           `json:"displayName"`
	FirstName    string           `json:"firstName"`
	LastName     string           `json:"lastName"`
	Nickname     string           `json:"nickname"`
	PhoneNumbers []ContactAddress `json:"phoneNumbers"`
	Emails       []ContactAddress `json:"emails"`
	Birthday     string           `json:"birthday"`
	Avatar       string           `json:"avatar"`
}

type ContactAddress struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

// StagedAttachment describes an uploaded file ready to be sent by path.
type StagedAttachment struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type UploadSession struct {
	UploadID string `json:"uploadId"`
}
