package domain

// MessageAuthorType indicates who authored a message.
type MessageAuthorType string

const (
	AuthorTypeUser   MessageAuthorType = "USER"
	AuthorTypeStaff  MessageAuthorType = "STAFF"
	AuthorTypeSystem MessageAuthorType = "SYSTEM"
)

// TicketMessageType differentiates between replies and notes.
type TicketMessageType string

const (
	MessageTypePublicReply  TicketMessageType = "PUBLIC_REPLY"
	MessageTypeInternalNote TicketMessageType = "INTERNAL_NOTE"
	MessageTypeSystemEvent  TicketMessageType = "SYSTEM_EVENT"
)

// CountsAsFirstResponse reports whether a message of this kind stops the response clock.
// Only public replies written by staff do.
func CountsAsFirstResponse(author MessageAuthorType, kind TicketMessageType) bool {
	return author == AuthorTypeStaff && kind == MessageTypePublicReply
}
