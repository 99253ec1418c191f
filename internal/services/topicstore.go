package services

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/models"
	"github.com/google/uuid"
)

// TopicStore is the in-memory registry of a session's topics plus the currently selected topic.
// It is the sole owner of its topics and lives exactly as long as the session that created it.
type TopicStore struct {
	mu       sync.RWMutex
	topics   map[string]*models.Topic
	selected string

	now func() time.Time
}

// NewTopicStore creates an empty store. The clock is used for topic creation times; nil means
// time.Now.
func NewTopicStore(now func() time.Time) *TopicStore {
	if now == nil {
		now = time.Now
	}
	return &TopicStore{
		topics: make(map[string]*models.Topic),
		now:    now,
	}
}

// CreateTopic inserts a new empty topic and returns its id. Callers are expected to have rejected
// blank names already.
func (s *TopicStore) CreateTopic(name string) string {
	t := models.NewTopic(uuid.New().String(), name, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.topics[t.ID] = t
	return t.ID
}

// SelectTopic marks the topic with the given id as selected. It returns models.ErrNotFound if the
// id is not in the store, leaving the current selection untouched.
func (s *TopicStore) SelectTopic(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[id]; !ok {
		return fmt.Errorf("failed to select topic %s: %w", id, models.ErrNotFound)
	}
	s.selected = id
	return nil
}

// Selected returns the selected topic, or nil when nothing is selected.
func (s *TopicStore) Selected() *models.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == "" {
		return nil
	}
	return s.topics[s.selected]
}

// Get returns the topic with the given id, or nil.
func (s *TopicStore) Get(id string) *models.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.topics[id]
}

// Topics returns every topic, newest first.
func (s *TopicStore) Topics() []*models.Topic {
	s.mu.RLock()
	topics := make([]*models.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(topics, func(a, b *models.Topic) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return topics
}

// Search returns the topics whose name contains query, ignoring case, newest first. An empty
// query matches every topic.
func (s *TopicStore) Search(query string) []*models.Topic {
	query = strings.ToLower(strings.TrimSpace(query))
	topics := s.Topics()
	if query == "" {
		return topics
	}
	return slices.DeleteFunc(topics, func(t *models.Topic) bool {
		return !strings.Contains(strings.ToLower(t.Name), query)
	})
}

// Delete removes a topic. Deleting the selected topic clears the selection.
func (s *TopicStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[id]; !ok {
		return fmt.Errorf("failed to delete topic %s: %w", id, models.ErrNotFound)
	}
	delete(s.topics, id)
	if s.selected == id {
		s.selected = ""
	}
	return nil
}
