package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single immutable entry in a conversation log.
type Message struct {
	ID        string `json:"id"`   // ULID, doubles as the poll cursor
	Role      Role   `json:"role"` // "user" or "assistant"
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"` // Unix ms
}

// NewMessage creates a message with a fresh ULID and the current time.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ArchivedMessage is a message annotated with the conversation it belongs to.
// It is the unit written to transcript archives.
type ArchivedMessage struct {
	Message
	ConversationID string `json:"conv_id"`
	CompanyID      string `json:"company_id"`
	VisitorID      string `json:"visitor_id"`
}
