package handlers

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/authentifi"
	"github.com/MegaGrindStone/authentifi/internal/chat"
	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// TopicStore manages the research topics of one session. Implementations must be safe for
// concurrent use.
type TopicStore interface {
	CreateTopic(name string) string
	SelectTopic(id string) error
	Selected() *models.Topic
	Get(id string) *models.Topic
	Topics() []*models.Topic
	Search(query string) []*models.Topic
	Delete(id string) error
}

// Analytics derives the research panels shown beside a topic's transcript.
type Analytics interface {
	ComputeMetrics(topic *models.Topic) []models.Metric
	Summarize(topic *models.Topic) []models.SummaryEntry
	Timeline(topic *models.Topic) []models.TimelineEntry
	KeyFindings(topic *models.Topic) []string
	Sources(topic *models.Topic) []models.Source
	Progress(topic *models.Topic) []models.Metric
}

// SessionConfig bounds the per-browser sessions.
type SessionConfig struct {
	// TTL is how long an idle session is kept before its topics are dropped.
	TTL time.Duration
	// MessagesPerMinute and Burst limit how fast a session may submit messages.
	MessagesPerMinute float64
	Burst             int
	// Clock stamps messages and measures idleness. Defaults to time.Now.
	Clock func() time.Time
}

// Main handles the research chat UI: it serves the page, accepts topic and message commands and
// streams completions to the browser over server-sent events. Every browser gets its own session
// holding a TopicStore and a chat.Controller.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	gateway   chat.Gateway
	analytics Analytics
	sessions  *sessions

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	defaultSessionTTL = 30 * time.Minute
)

// NewMain creates a new Main instance that completes conversations with gateway and opens a fresh
// store from newStore for every browser session. It parses the HTML templates from the embedded
// filesystem and configures the SSE server so a client only subscribes to topics of its own
// session.
func NewMain(
	gateway chat.Gateway,
	analytics Analytics,
	newStore func() TopicStore,
	cfg SessionConfig,
	logger *slog.Logger,
) (Main, error) {
	if gateway == nil {
		return Main{}, errors.New("gateway is required")
	}
	if newStore == nil {
		return Main{}, errors.New("topic store constructor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(
		authentifi.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	md := newMarkdown()
	sseSrv := &sse.Server{}
	sess := newSessions(cfg, func(id string) *session {
		return &session{
			id:    id,
			store: newStore(),
			controller: chat.NewController(gateway, logger,
				chat.WithObserver(publisher{
					sseSrv:   sseSrv,
					markdown: md,
					logger:   logger.With(slog.String("module", "events")),
				}),
				chat.WithClock(cfg.Clock)),
		}
	}, logger.With(slog.String("module", "sessions")))

	sseSrv.OnSession = func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
		s := sess.lookup(r)
		if s == nil {
			http.Error(w, "Session not found", http.StatusUnauthorized)
			return nil, false
		}
		topicID := r.URL.Query().Get("topic_id")
		if topicID == "" || s.store.Get(topicID) == nil {
			http.Error(w, models.ErrNotFound.Error(), http.StatusNotFound)
			return nil, false
		}
		return []string{sse.DefaultTopic, topicSSETopic(topicID)}, true
	}

	return Main{
		sseSrv:    sseSrv,
		templates: tmpl,
		markdown:  md,
		gateway:   gateway,
		analytics: analytics,
		sessions:  sess,
		logger:    logger.With(slog.String("module", "main")),
	}, nil
}

// HandleSSE serves the server-sent events stream of one topic. The topic is selected with the
// "topic_id" query parameter and must belong to the caller's session.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Sweep drops sessions idle for longer than the configured TTL, every interval, until ctx is
// done. Dropping a session cancels its in-flight completions.
func (m Main) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.sessions.sweep(now); n > 0 {
				m.logger.Info("Expired sessions dropped", slog.Int("count", n))
			}
		}
	}
}

// Shutdown gracefully terminates the Main instance. It closes every session, which cancels
// in-flight completions, broadcasts a close message to all connected clients and waits up to 5
// seconds for connections to terminate. After the timeout, any remaining connections are
// forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.sessions.closeAll()

	e := &sse.Message{Type: sse.Type("closeTopic")}
	// Every SSE event needs a data field, so the close event carries a placeholder
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
