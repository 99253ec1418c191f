package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/chat"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	sessionCookieName = "authentifi_session"

	defaultBurst = 5
)

type session struct {
	id         string
	store      TopicStore
	controller *chat.Controller
	limiter    *rate.Limiter

	// ctx is the root of every completion started in this session.
	ctx    context.Context
	cancel context.CancelFunc

	lastSeen atomic.Int64
}

func (s *session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

func (s *session) close() {
	s.controller.Close()
	s.cancel()
}

// sessions is the registry of browser sessions, keyed by the session cookie.
type sessions struct {
	mu sync.Mutex
	m  map[string]*session

	cfg        SessionConfig
	newSession func(id string) *session
	now        func() time.Time
	logger     *slog.Logger
}

func newSessions(cfg SessionConfig, newSession func(id string) *session, logger *slog.Logger) *sessions {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &sessions{
		m:          make(map[string]*session),
		cfg:        cfg,
		newSession: newSession,
		now:        cfg.Clock,
		logger:     logger,
	}
}

func (s *sessions) limiter() *rate.Limiter {
	if s.cfg.MessagesPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return rate.NewLimiter(rate.Limit(s.cfg.MessagesPerMinute/60), burst)
}

// lookup returns the session named by the request's cookie, or nil.
func (s *sessions) lookup(r *http.Request) *session {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.m[c.Value]
	if !ok {
		return nil
	}
	sess.touch(s.now())
	return sess
}

// resolve returns the caller's session, starting a new one and setting its cookie when the
// request carries none or an expired one.
func (s *sessions) resolve(w http.ResponseWriter, r *http.Request) *session {
	if sess := s.lookup(r); sess != nil {
		return sess
	}

	id := uuid.New().String()
	sess := s.newSession(id)
	sess.limiter = s.limiter()
	sess.ctx, sess.cancel = context.WithCancel(context.Background())
	sess.touch(s.now())

	s.mu.Lock()
	s.m[id] = sess
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	sessionsActive.Inc()
	s.logger.Debug("Session started", slog.String("sessionID", id))

	return sess
}

// sweep closes and drops every session idle for longer than the TTL. It returns how many were
// dropped.
func (s *sessions) sweep(now time.Time) int {
	s.mu.Lock()
	var expired []*session
	for id, sess := range s.m {
		if sess.idleSince(now) > s.cfg.TTL {
			expired = append(expired, sess)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
		sessionsActive.Dec()
	}
	return len(expired)
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	all := s.m
	s.m = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.close()
		sessionsActive.Dec()
	}
}
