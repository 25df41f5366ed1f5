// Package shape maps daemon records onto the fixed client schema.
//
// The daemon has renamed many fields over time, so each canonical field is
// read through an ordered list of candidate keys. The first key present with
// a non-null value wins. Every shaping function is pure and total: missing
// fields become typed defaults, never absent keys.
package shape

// Keys is an ordered list of candidate record keys for one canonical field.
type Keys []string

// Chat fields.
var (
	chatGUID            = Keys{"guid", "chat_guid", "chatGuid", "id"}
	chatIdentifier      = Keys{"chat_identifier", "chatIdentifier", "identifier"}
	chatDisplayName     = Keys{"display_name", "displayName", "name"}
	chatService         = Keys{"service", "service_name", "serviceName"}
	chatStyle           = Keys{"style", "chat_style"}
	chatParticipants    = Keys{"participants", "handles", "members"}
	chatArchived        = Keys{"is_archived", "isArchived", "archived"}
	chatUnread          = Keys{"unread_count", "unreadCount", "unread"}
	chatLastMessageDate = Keys{"last_message_date", "lastMessageDate", "last_message_time", "lastMessageTime", "last_message_at"}
	chatLastMessage     = Keys{"last_message", "lastMessage"}
)

// Handle fields.
var (
	handleAddress = Keys{"address", "id", "handle", "identifier"}
	handleService = Keys{"service", "service_name"}
	handleCountry = Keys{"country", "country_code"}
)

// Message fields.
var (
	msgGUID           = Keys{"guid", "id", "message_id", "messageId"}
	msgTempGUID       = Keys{"temp_guid", "tempGuid", "idempotency_key"}
	msgChatGUID       = Keys{"chat_guid", "chatGuid", "chat_id", "chatId"}
	msgText           = Keys{"text", "body"}
	msgSubject        = Keys{"subject"}
	msgHandle         = Keys{"handle", "sender", "from"}
	msgFromMe         = Keys{"is_from_me", "isFromMe", "from_me"}
	msgDateCreated    = Keys{"date", "date_created", "dateCreated", "created_at"}
	msgDateDelivered  = Keys{"date_delivered", "dateDelivered", "delivered_at"}
	msgDateRead       = Keys{"date_read", "dateRead", "read_at"}
	msgDateEdited     = Keys{"date_edited", "dateEdited", "edited_at"}
	msgAssociatedGUID = Keys{"associated_message_guid", "associatedMessageGuid"}
	msgAssociatedType = Keys{"associated_message_type", "associatedMessageType"}
	msgThreadOrigin   = Keys{"thread_originator_guid", "threadOriginatorGuid"}
	msgAttachments    = Keys{"attachments"}
	msgError          = Keys{"error", "error_code", "errorCode"}
)

// Attachment fields. Both camel and snake spellings are accepted.
var (
	attGUID       = Keys{"guid", "id", "attachment_id", "attachmentId"}
	attName       = Keys{"transferName", "transfer_name", "filename", "file_name"}
	attMime       = Keys{"mimeType", "mime_type"}
	attUTI        = Keys{"uti"}
	attTotalBytes = Keys{"totalBytes", "total_bytes", "size"}
	attWidth      = Keys{"width"}
	attHeight     = Keys{"height"}
	attSticker    = Keys{"isSticker", "is_sticker"}
	attHide       = Keys{"hideAttachment", "hide_attachment"}
)

// Contact fields.
var (
	contactID          = Keys{"id", "identifier", "contact_id"}
	contactFirstName   = Keys{"first_name", "firstName", "given_name"}
	contactLastName    = Keys{"last_name", "lastName", "family_name"}
	contactNickname    = Keys{"nickname", "nick_name"}
	contactDisplayName = Keys{"display_name", "displayName", "full_name", "name"}
	contactPhones      = Keys{"phone_numbers", "phoneNumbers", "phones"}
	contactEmails      = Keys{"emails", "email_addresses", "emailAddresses"}
	contactBirthday    = Keys{"birthday"}
	contactAvatar      = Keys{"avatar", "image"}
	addressValue       = Keys{"address", "value", "number", "email"}
	addressLabel       = Keys{"label", "type"}
)

// Ephemeral event fields.
var (
	eventChatGUID = Keys{"chat_guid", "chatGuid", "chat_id", "chatId", "guid"}
	eventTyping   = Keys{"typing", "is_typing", "display"}
	eventDateRead = Keys{"date_read", "dateRead", "read_at", "date"}
)
