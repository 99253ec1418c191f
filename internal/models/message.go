package models

import "time"

// Message represents one turn of a topic's transcript. A Message is a value: once a topic has
// appended it, nothing edits it again, and topics only ever hand out copies.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// ChatMessage is the minimal role/content pair sent to a completion gateway. Timestamps are
// deliberately absent from it.
type ChatMessage struct {
	Role    Role
	Content string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the researcher.
	RoleUser Role = "user"
	// RoleAssistant represents a finalized completion produced by the model.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessages maps a transcript to the request context expected by a completion gateway,
// preserving order.
func ChatMessages(messages []Message) []ChatMessage {
	msgs := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return msgs
}
