package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_Append(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name: "user message",
			msg:  Message{Role: RoleUser, Content: "hello", Timestamp: now},
		},
		{
			name: "assistant message",
			msg:  Message{Role: RoleAssistant, Content: "hi there", Timestamp: now},
		},
		{
			name:    "empty content",
			msg:     Message{Role: RoleUser, Content: "", Timestamp: now},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "blank content",
			msg:     Message{Role: RoleAssistant, Content: "  \n", Timestamp: now},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown role",
			msg:     Message{Role: "system", Content: "be nice", Timestamp: now},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := NewTopic("id", "Topic", now)

			got, err := topic.Append(tt.msg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, topic.Len())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
			assert.Equal(t, []Message{tt.msg}, topic.Messages())
		})
	}
}

func TestTopic_AppendClampsTimestamps(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	topic := NewTopic("id", "Topic", now)

	_, err := topic.Append(Message{Role: RoleUser, Content: "first", Timestamp: now})
	require.NoError(t, err)

	got, err := topic.Append(Message{Role: RoleAssistant, Content: "second", Timestamp: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, now, got.Timestamp)

	got, err = topic.Append(Message{Role: RoleUser, Content: "third", Timestamp: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), got.Timestamp)
}

func TestTopic_MessagesIsSnapshot(t *testing.T) {
	topic := NewTopic("id", "Topic", time.Now())
	_, err := topic.Append(Message{Role: RoleUser, Content: "original", Timestamp: time.Now()})
	require.NoError(t, err)

	snapshot := topic.Messages()
	snapshot[0].Content = "edited"

	last, ok := topic.Last()
	require.True(t, ok)
	assert.Equal(t, "original", last.Content)
}

func TestTopic_LastEmpty(t *testing.T) {
	topic := NewTopic("id", "Topic", time.Now())

	_, ok := topic.Last()
	assert.False(t, ok)
	assert.Empty(t, topic.Messages())
}

func TestChatMessages(t *testing.T) {
	now := time.Now()
	msgs := []Message{
		{Role: RoleUser, Content: "q", Timestamp: now},
		{Role: RoleAssistant, Content: "a", Timestamp: now},
	}

	assert.Equal(t, []ChatMessage{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	}, ChatMessages(msgs))
}
