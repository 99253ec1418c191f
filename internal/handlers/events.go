package handlers

import (
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// SSE event types for real-time updates.
var (
	fragmentSSEType = sse.Type("fragment")
	doneSSEType     = sse.Type("done")
	errorSSEType    = sse.Type("error")
)

func topicSSETopic(topicID string) string {
	return fmt.Sprintf("topic-%s", topicID)
}

// publisher forwards the progress of a completion to the SSE subscribers of its topic.
type publisher struct {
	sseSrv   *sse.Server
	markdown goldmark.Markdown
	logger   *slog.Logger
}

func (p publisher) OnFragment(topicID, partial string) {
	p.publish(topicID, fragmentSSEType, partial)
}

func (p publisher) OnDone(topicID string, msg models.Message) {
	p.publish(topicID, doneSSEType, msg.Content)
}

func (p publisher) OnError(topicID string, err error) {
	msg := sse.Message{Type: errorSSEType}
	msg.AppendData(err.Error())
	if err := p.sseSrv.Publish(&msg, topicSSETopic(topicID)); err != nil {
		p.logger.Error("Failed to publish error",
			slog.String("topicID", topicID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (p publisher) publish(topicID string, typ sse.EventType, content string) {
	rendered, err := renderMarkdown(p.markdown, content)
	if err != nil {
		p.logger.Error("Failed to render markdown",
			slog.String("topicID", topicID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: typ}
	msg.AppendData(string(rendered))
	if err := p.sseSrv.Publish(&msg, topicSSETopic(topicID)); err != nil {
		p.logger.Error("Failed to publish message",
			slog.String("topicID", topicID),
			slog.String(errLoggerKey, err.Error()))
	}
}
