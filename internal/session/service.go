package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cubist/cubist/backend-go/internal/engine"
	"github.com/cubist/cubist/backend-go/internal/typeid"
)

var ErrNotFound = errors.New("session not found")

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 2 * time.Hour

// Session is one in-memory editor: a scene, its ink and its history.
type Session struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Engine    *engine.Engine `json:"-"`

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Observer hears about session changes, e.g. to push state to a client.
type Observer interface {
	SessionChanged(id string)
	SessionClosed(id string)
}

// Service owns the live sessions. Nothing outlives the process.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     engine.Options
	ttl      time.Duration
	observer Observer
	now      func() time.Time
}

func NewService(opts engine.Options, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		sessions: make(map[string]*Session),
		opts:     opts,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetObserver registers the observer notified by sessions created afterwards.
func (s *Service) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

func (s *Service) Create() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:        typeid.NewSessionID(),
		CreatedAt: now.UTC(),
		lastSeen:  now,
	}

	opts := s.opts
	opts.Logger = slog.Default().With("session", sess.ID)
	if o := s.observer; o != nil {
		id := sess.ID
		opts.OnChange = func() { o.SessionChanged(id) }
	}
	sess.Engine = engine.New(opts)

	s.sessions[sess.ID] = sess
	slog.Info("session created", "session", sess.ID)
	return sess
}

// Get returns a session and marks it as used.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

func (s *Service) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	observer := s.observer
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.close(sess, observer)
	slog.Info("session deleted", "session", id)
	return nil
}

func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Reap closes sessions idle for longer than the TTL and returns how many.
func (s *Service) Reap() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var stale []*Session
	for id, sess := range s.sessions {
		if sess.LastSeen().Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	observer := s.observer
	s.mu.Unlock()

	for _, sess := range stale {
		s.close(sess, observer)
		slog.Info("session expired", "session", sess.ID)
	}
	return len(stale)
}

// Run reaps idle sessions until ctx is done, then closes every session.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Reap()
		case <-ctx.Done():
			s.closeAll()
			return
		}
	}
}

func (s *Service) closeAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*Session)
	observer := s.observer
	s.mu.Unlock()

	for _, sess := range all {
		s.close(sess, observer)
	}
}

func (s *Service) close(sess *Session, observer Observer) {
	if observer != nil {
		observer.SessionClosed(sess.ID)
	}
	sess.Engine.Close()
}
