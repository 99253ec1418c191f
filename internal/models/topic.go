package models

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Topic is a named, independently addressable conversation thread. Its transcript is append-only
// and insertion order is chronological order: it is both what the researcher sees and the exact
// context sent to the completion gateway.
//
// Topic is shared by pointer, so readers observe appends made while they hold it. All access to
// the transcript goes through the methods below, which are safe for concurrent use.
type Topic struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu       sync.RWMutex
	messages []Message
}

// NewTopic creates an empty topic.
func NewTopic(id, name string, createdAt time.Time) *Topic {
	return &Topic{
		ID:        id,
		Name:      name,
		CreatedAt: createdAt,
	}
}

// Append commits msg to the end of the transcript and returns the message as stored. A timestamp
// earlier than the previous message's is raised to it, so timestamps never decrease within a
// topic.
func (t *Topic) Append(msg Message) (Message, error) {
	if !msg.Role.Valid() {
		return Message{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, msg.Role)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return Message{}, fmt.Errorf("%w: empty %s message", ErrInvalidInput, msg.Role)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.messages); n > 0 && msg.Timestamp.Before(t.messages[n-1].Timestamp) {
		msg.Timestamp = t.messages[n-1].Timestamp
	}
	t.messages = append(t.messages, msg)

	return msg, nil
}

// Messages returns a snapshot of the transcript.
func (t *Topic) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.messages)
}

// Len returns the number of committed messages.
func (t *Topic) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.messages)
}

// Last returns the most recently committed message, if any.
func (t *Topic) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}
