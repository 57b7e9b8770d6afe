package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// SessionStore keeps crawl sessions in memory for development and tests.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]crawler.Session
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]crawler.Session)}
}

// SaveSession stores session, assigning an ID when it has none.
func (s *SessionStore) SaveSession(_ context.Context, session crawler.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, exists := s.sessions[session.ID]; exists {
		return "", errors.New("session already exists")
	}
	s.sessions[session.ID] = cloneSession(session)
	return session.ID, nil
}

// GetSession returns the session with id or crawler.ErrNotFound.
func (s *SessionStore) GetSession(_ context.Context, id string) (crawler.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return crawler.Session{}, crawler.ErrNotFound
	}
	return cloneSession(session), nil
}

// ListSessions returns one page of sessions matching filter, newest first.
func (s *SessionStore) ListSessions(_ context.Context, filter crawler.HistoryFilter) (crawler.HistoryPage, error) {
	filter = filter.Normalize()
	matched := s.sorted(filter.Match)
	page := crawler.HistoryPage{
		Results: []crawler.Session{},
		Total:   len(matched),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	if filter.Offset >= len(matched) {
		return page, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Results = append(page.Results, matched[filter.Offset:end]...)
	return page, nil
}

// Statistics aggregates sessions recorded at or after since.
func (s *SessionStore) Statistics(_ context.Context, since time.Time) (crawler.Statistics, error) {
	window := s.sorted(func(session crawler.Session) bool {
		return !session.Timestamp.Before(since)
	})
	return crawler.BuildStatistics(window), nil
}

// RecentByDomain returns up to limit sessions of domain, newest first.
func (s *SessionStore) RecentByDomain(_ context.Context, domain string, limit int) ([]crawler.Session, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	matched := s.sorted(func(session crawler.Session) bool {
		return session.Domain == domain
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *SessionStore) sorted(keep func(crawler.Session) bool) []crawler.Session {
	s.mu.RLock()
	out := make([]crawler.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if keep(session) {
			out = append(out, cloneSession(session))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func cloneSession(in crawler.Session) crawler.Session {
	out := in
	out.Sitemaps = append([]crawler.SessionSitemap(nil), in.Sitemaps...)
	out.SampleURLs = append([]crawler.SampleURL(nil), in.SampleURLs...)
	return out
}
