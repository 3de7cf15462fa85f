package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the ordered conversation history of one user within one app.
type Session struct {
	ID         string
	AppName    string
	UserID     string
	History    []*Content
	CreatedAt  time.Time
	LastUpdate time.Time
}

// SessionService stores sessions keyed by (app, user).
type SessionService interface {
	// ListSessions returns the pair's sessions, oldest first.
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)
	CreateSession(ctx context.Context, appName, userID string) (*Session, error)
	GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	AppendContent(ctx context.Context, appName, userID, sessionID string, content *Content) error
	DeleteSession(ctx context.Context, appName, userID, sessionID string) error
}

type sessionKey struct {
	app  string
	user string
}

// InMemorySessionService keeps sessions for the process lifetime unless an
// idle TTL is set, in which case CleanExpired drops sessions idle past it.
type InMemorySessionService struct {
	mu       sync.RWMutex
	sessions map[sessionKey][]*Session
	idleTTL  time.Duration
	now      func() time.Time
}

var _ SessionService = (*InMemorySessionService)(nil)

// NewInMemorySessionService creates a store. idleTTL <= 0 means sessions never expire.
func NewInMemorySessionService(idleTTL time.Duration) *InMemorySessionService {
	return &InMemorySessionService{
		sessions: make(map[sessionKey][]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (s *InMemorySessionService) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.sessions[sessionKey{appName, userID}]
	out := make([]*Session, 0, len(list))
	for _, sess := range list {
		out = append(out, snapshot(sess))
	}
	return out, nil
}

func (s *InMemorySessionService) CreateSession(ctx context.Context, appName, userID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if appName == "" || userID == "" {
		return nil, fmt.Errorf("create session: app name and user id are required")
	}

	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		AppName:    appName,
		UserID:     userID,
		CreatedAt:  now,
		LastUpdate: now,
	}

	s.mu.Lock()
	key := sessionKey{appName, userID}
	s.sessions[key] = append(s.sessions[key], sess)
	s.mu.Unlock()

	return snapshot(sess), nil
}

func (s *InMemorySessionService) GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.find(appName, userID, sessionID)
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return snapshot(sess), nil
}

func (s *InMemorySessionService) AppendContent(ctx context.Context, appName, userID, sessionID string, content *Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if content == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(appName, userID, sessionID)
	if sess == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	sess.History = append(sess.History, content.clone())
	sess.LastUpdate = s.now()
	return nil
}

func (s *InMemorySessionService) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{appName, userID}
	list := s.sessions[key]
	for i, sess := range list {
		if sess.ID == sessionID {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(s.sessions, key)
			} else {
				s.sessions[key] = list
			}
			return nil
		}
	}
	return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
}

// CleanExpired implements cache.Cleaner.
func (s *InMemorySessionService) CleanExpired() int {
	if s.idleTTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for key, list := range s.sessions {
		kept := list[:0]
		for _, sess := range list {
			if sess.LastUpdate.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, sess)
		}
		if len(kept) == 0 {
			delete(s.sessions, key)
		} else {
			s.sessions[key] = kept
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (s *InMemorySessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.sessions {
		n += len(list)
	}
	return n
}

func (s *InMemorySessionService) find(appName, userID, sessionID string) *Session {
	for _, sess := range s.sessions[sessionKey{appName, userID}] {
		if sess.ID == sessionID {
			return sess
		}
	}
	return nil
}

func snapshot(sess *Session) *Session {
	cp := *sess
	cp.History = make([]*Content, len(sess.History))
	copy(cp.History, sess.History)
	return &cp
}
