package services_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/MegaGrindStone/authentifi/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func topicWith(t *testing.T, contents ...string) *models.Topic {
	t.Helper()

	topic := models.NewTopic("id", "Analytics", time.Now())
	for i, content := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := topic.Append(models.Message{Role: role, Content: content, Timestamp: time.Now()})
		require.NoError(t, err)
	}
	return topic
}

func TestResearchAnalytics_Summarize(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		wantContent   string
		wantTruncated bool
	}{
		{
			name:        "short",
			content:     "What is carbon pricing?",
			wantContent: "What is carbon pricing?",
		},
		{
			name:        "exactly 200",
			content:     strings.Repeat("a", 200),
			wantContent: strings.Repeat("a", 200),
		},
		{
			name:          "201",
			content:       strings.Repeat("a", 201),
			wantContent:   strings.Repeat("a", 200) + "...",
			wantTruncated: true,
		},
		{
			name:          "long",
			content:       strings.Repeat("carbon ", 100),
			wantContent:   strings.Repeat("carbon ", 100)[:200] + "...",
			wantTruncated: true,
		},
		{
			name:        "multibyte exactly 200 characters",
			content:     strings.Repeat("é", 200),
			wantContent: strings.Repeat("é", 200),
		},
		{
			name:          "multibyte over 200 characters",
			content:       strings.Repeat("日", 250),
			wantContent:   strings.Repeat("日", 200) + "...",
			wantTruncated: true,
		},
	}

	a := services.NewResearchAnalytics()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := topicWith(t, tt.content)

			summary := a.Summarize(topic)
			require.Len(t, summary, 1)
			assert.Equal(t, tt.wantContent, summary[0].Content)
			assert.Equal(t, tt.wantTruncated, summary[0].Truncated)
			assert.LessOrEqual(t, utf8.RuneCountInString(summary[0].Content), 203)
			assert.Equal(t, models.RoleUser, summary[0].Role)
		})
	}
}

func TestResearchAnalytics_SummarizeKeepsOrder(t *testing.T) {
	topic := topicWith(t, "q1", "a1", "q2", "a2")
	msgs := topic.Messages()

	summary := services.NewResearchAnalytics().Summarize(topic)
	require.Len(t, summary, 4)
	for i, entry := range summary {
		assert.Equal(t, msgs[i].Role, entry.Role)
		assert.Equal(t, msgs[i].Content, entry.Content)
		assert.Equal(t, msgs[i].Timestamp, entry.Timestamp)
	}
}

func TestResearchAnalytics_ComputeMetrics(t *testing.T) {
	topic := topicWith(t, "q1", "a1", "q2", "a2", "q3")
	before := topic.Messages()

	metrics := services.NewResearchAnalytics().ComputeMetrics(topic)

	values := make(map[string]string, len(metrics))
	for _, m := range metrics {
		values[m.Label] = m.Value
	}
	assert.Equal(t, "3", values["Sources Verified"])
	assert.Equal(t, "2", values["Citations"])
	assert.Equal(t, "3", values["Total Exchanges"])
	assert.Equal(t, "High", values["Research Depth"])
	assert.Equal(t, "Overall Authenticity Score", metrics[0].Label)
	assert.Len(t, metrics, 13)

	assert.Equal(t, before, topic.Messages(), "metrics must not mutate the topic")
}

func TestResearchAnalytics_Timeline(t *testing.T) {
	topic := topicWith(t, "q1", "a1")

	timeline := services.NewResearchAnalytics().Timeline(topic)
	require.Len(t, timeline, 2)
	assert.Equal(t, models.RoleUser, timeline[0].Role)
	assert.Equal(t, models.RoleAssistant, timeline[1].Role)
	assert.False(t, timeline[1].Timestamp.Before(timeline[0].Timestamp))
}

func TestResearchAnalytics_Placeholders(t *testing.T) {
	a := services.NewResearchAnalytics()
	topic := topicWith(t)

	assert.Len(t, a.KeyFindings(topic), 3)
	assert.Len(t, a.Sources(topic), 2)
	assert.Len(t, a.Progress(topic), 3)
	assert.Empty(t, a.Summarize(topic))
}
