package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/models"
)

type messageState struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type topicState struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Messages       []messageState `json:"messages"`
	Streaming      bool           `json:"streaming"`
	StreamingSince *time.Time     `json:"streamingSince,omitempty"`
	Partial        string         `json:"partial,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// HandleCreateTopic creates a topic from the "name" form field and selects it.
func (m Main) HandleCreateTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		m.logger.Error("Topic name is required")
		http.Error(w, "Topic name is required", http.StatusBadRequest)
		return
	}

	sess := m.sessions.resolve(w, r)
	id := sess.store.CreateTopic(name)
	if err := sess.store.SelectTopic(id); err != nil {
		m.logger.Error("Failed to select new topic",
			slog.String("topicID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.logger.Debug("Topic created", slog.String("topicID", id), slog.String("name", name))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleSelectTopic makes the topic named by the "topic_id" form field the selected one.
func (m Main) HandleSelectTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.sessions.resolve(w, r)
	topicID := r.FormValue("topic_id")
	if err := sess.store.SelectTopic(topicID); err != nil {
		m.logger.Error("Failed to select topic",
			slog.String("topicID", topicID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleDeleteTopic removes the topic named by the "topic_id" form field, cancelling its stream.
func (m Main) HandleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.sessions.resolve(w, r)
	topicID := r.FormValue("topic_id")
	if err := sess.store.Delete(topicID); err != nil {
		m.logger.Error("Failed to delete topic",
			slog.String("topicID", topicID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	sess.controller.Forget(topicID)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleCancelStream cancels the in-flight completion of the topic named by the "topic_id" form
// field. The page calls it when it is closed mid-stream. The partial answer is discarded and the
// user message is kept. It answers 204 when a stream was cancelled and 409 when none was running.
func (m Main) HandleCancelStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.sessions.resolve(w, r)
	topicID := r.FormValue("topic_id")
	if sess.store.Get(topicID) == nil {
		http.Error(w, models.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	if !sess.controller.Cancel(topicID) {
		http.Error(w, "No completion is streaming for this topic", http.StatusConflict)
		return
	}

	m.logger.Debug("Completion cancelled", slog.String("topicID", topicID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleTopicState answers with a JSON snapshot of a topic: its committed messages, the partial
// answer of an in-flight completion and the last failure. The topic is given by the "topic_id"
// query parameter and defaults to the selected one.
func (m Main) HandleTopicState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.sessions.resolve(w, r)
	topic := topicFor(sess.store, r.URL.Query().Get("topic_id"))
	if topic == nil {
		http.Error(w, models.ErrNotFound.Error(), http.StatusNotFound)
		return
	}

	messages := topic.Messages()
	st := sess.controller.Stream(topic.ID)
	state := topicState{
		ID:        topic.ID,
		Name:      topic.Name,
		CreatedAt: topic.CreatedAt,
		UpdatedAt: topic.CreatedAt,
		Messages:  make([]messageState, len(messages)),
		Streaming: st.InFlight,
		Partial:   st.Partial,
	}
	if last, ok := topic.Last(); ok {
		state.UpdatedAt = last.Timestamp
	}
	if st.InFlight {
		state.StreamingSince = &st.StartedAt
	}
	for i, msg := range messages {
		state.Messages[i] = messageState{
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
	}
	if st.Err != nil {
		state.Error = st.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		m.logger.Error("Failed to encode topic state",
			slog.String("topicID", topic.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// topicFor returns the topic with the given id, or the selected topic when id is empty.
func topicFor(store TopicStore, id string) *models.Topic {
	if id == "" {
		return store.Selected()
	}
	return store.Get(id)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
