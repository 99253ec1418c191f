package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/chat"
	"github.com/MegaGrindStone/authentifi/internal/models"
)

type topicItem struct {
	ID        string
	Name      string
	CreatedAt time.Time

	Active bool
}

type message struct {
	Role      string
	Content   template.HTML
	Timestamp time.Time
}

type topicView struct {
	ID   string
	Name string

	Messages []message
	// Streaming is set while a completion is in flight; Partial holds what arrived so far.
	Streaming bool
	Partial   template.HTML
	Error     string

	Metrics  []models.Metric
	Summary  []models.SummaryEntry
	Timeline []models.TimelineEntry
	Findings []string
	Sources  []models.Source
	Progress []models.Metric
}

type homePageData struct {
	Query  string
	Topics []topicItem

	Current *topicView
}

// HandleHome renders the research page of the caller's session: the topic history, filtered by
// the "q" query parameter, and the selected topic with its transcript and analytics.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	sess := m.sessions.resolve(w, r)

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	selected := sess.store.Selected()

	topics := sess.store.Search(query)
	items := make([]topicItem, len(topics))
	for i, t := range topics {
		items[i] = topicItem{
			ID:        t.ID,
			Name:      t.Name,
			CreatedAt: t.CreatedAt,
			Active:    selected != nil && t.ID == selected.ID,
		}
	}

	data := homePageData{
		Query:  query,
		Topics: items,
	}
	if selected != nil {
		view, err := m.topicView(selected, sess.controller.Stream(selected.ID))
		if err != nil {
			m.logger.Error("Failed to render topic",
				slog.String("topicID", selected.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Current = &view
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) topicView(topic *models.Topic, st chat.StreamState) (topicView, error) {
	messages := topic.Messages()
	msgs := make([]message, len(messages))
	for i, msg := range messages {
		content, err := renderMarkdown(m.markdown, msg.Content)
		if err != nil {
			return topicView{}, err
		}
		msgs[i] = message{
			Role:      string(msg.Role),
			Content:   content,
			Timestamp: msg.Timestamp,
		}
	}

	view := topicView{
		ID:        topic.ID,
		Name:      topic.Name,
		Messages:  msgs,
		Streaming: st.InFlight,
	}
	if st.InFlight {
		partial, err := renderMarkdown(m.markdown, st.Partial)
		if err != nil {
			return topicView{}, err
		}
		view.Partial = partial
	}
	if st.Err != nil {
		view.Error = st.Err.Error()
	}

	if m.analytics != nil {
		view.Metrics = m.analytics.ComputeMetrics(topic)
		view.Summary = m.analytics.Summarize(topic)
		view.Timeline = m.analytics.Timeline(topic)
		view.Findings = m.analytics.KeyFindings(topic)
		view.Sources = m.analytics.Sources(topic)
		view.Progress = m.analytics.Progress(topic)
	}
	return view, nil
}
