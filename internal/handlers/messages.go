package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/authentifi/internal/chat"
	"github.com/MegaGrindStone/authentifi/internal/models"
)

// HandleMessages accepts a researcher message through HTTP POST and starts its completion in
// the background. The message is read from the "message" form field; "topic_id" is optional and
// defaults to the selected topic. The answer is streamed to the topic's SSE subscribers.
//
// It answers 400 for a blank message, 404 when there is no such topic, 409 while the topic is
// still streaming and 429 when the session submits too fast. On success it renders the user
// message and a loading placeholder for the answer.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	sess := m.sessions.resolve(w, r)
	topic := topicFor(sess.store, r.FormValue("topic_id"))
	if topic == nil {
		m.logger.Error("Topic not found", slog.String("topicID", r.FormValue("topic_id")))
		http.Error(w, models.ErrNotFound.Error(), http.StatusNotFound)
		return
	}

	if !sess.limiter.Allow() {
		m.logger.Warn("Message rate limited", slog.String("topicID", topic.ID))
		http.Error(w, "Too many messages, slow down", http.StatusTooManyRequests)
		return
	}

	// The completion outlives the request, so it runs under the session's context.
	err := sess.controller.Go(sess.ctx, topic, msg, func(err error) {
		m.streamEnded(topic.ID, err)
	})
	if err != nil {
		m.logger.Error("Failed to submit message",
			slog.String("topicID", topic.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), submitStatus(err))
		return
	}

	userContent, err := renderMarkdown(m.markdown, msg)
	if err != nil {
		m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	err = m.templates.ExecuteTemplate(w, "user_message", message{
		Role:      string(models.RoleUser),
		Content:   userContent,
		Timestamp: m.sessions.now(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	err = m.templates.ExecuteTemplate(w, "ai_message", topicView{
		ID:        topic.ID,
		Name:      topic.Name,
		Streaming: true,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) streamEnded(topicID string, err error) {
	if err == nil {
		return
	}

	var f *chat.Failure
	if errors.As(err, &f) {
		// Already reported to the topic's subscribers.
		return
	}
	m.logger.Error("Completion ended without result",
		slog.String("topicID", topicID),
		slog.String(errLoggerKey, err.Error()))
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrStreamInFlight):
		return http.StatusConflict
	case errors.Is(err, models.ErrStreamInterrupted):
		return http.StatusServiceUnavailable
	default:
		return statusFor(err)
	}
}
