package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/chatproxy/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout is the idle time after which a session becomes evictable.
const DefaultTimeout = 30 * time.Minute

// ErrNotFound is returned for ids that were never created or have been evicted.
var ErrNotFound = errors.New("invalid session ID or session expired")

// Store maps session ids to live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout      time.Duration
	systemPrompt string
	now          func() time.Time
	newID        func() string
	onEvict      func(*Session)
	logger       zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout sets the idle timeout. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithSystemPrompt sets the content of the system entry seeded into new sessions.
func WithSystemPrompt(prompt string) Option {
	return func(s *Store) {
		if prompt != "" {
			s.systemPrompt = prompt
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEvictionHook registers a callback invoked for every evicted session.
// The callback runs after the store lock has been released.
func WithEvictionHook(hook func(*Session)) Option {
	return func(s *Store) {
		s.onEvict = hook
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func withIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	observability.EnsureRegistered()

	s := &Store{
		sessions:     make(map[string]*Session),
		timeout:      DefaultTimeout,
		systemPrompt: DefaultSystemPrompt,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info().Dur("timeout", s.timeout).Msg("Session store initialized")
	return s
}

// Timeout returns the configured idle timeout.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

// Create evicts idle sessions and registers a fresh one, returning its id.
func (s *Store) Create() string {
	return s.CreateSession().ID()
}

// CreateSession is Create returning the new session itself, so callers need
// no follow-up Get.
func (s *Store) CreateSession() *Session {
	s.mu.Lock()
	evicted := s.sweepLocked()

	id := s.newID()
	for {
		if _, exists := s.sessions[id]; !exists {
			break
		}
		id = s.newID()
	}
	sess := newSession(id, s.systemPrompt, s.now)
	s.sessions[id] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	s.afterEviction(evicted, active)
	observability.RecordSessionCreated()

	s.logger.Info().Str("session_id", id).Msg("Created new session")
	return sess
}

// Get returns the live session for id and records the access.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	if ok {
		// touched under the read lock so a concurrent sweep cannot evict in between
		sess.touch(s.now())
	}
	s.mu.RUnlock()

	observability.RecordSessionLookup(ok)
	if !ok {
		s.logger.Warn().Str("session_id", id).Msg("Session not found")
		return nil, ErrNotFound
	}

	s.logger.Debug().Str("session_id", id).Msg("Retrieved session")
	return sess, nil
}

// Sweep evicts every session idle for longer than the timeout and returns how
// many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	evicted := s.sweepLocked()
	active := len(s.sessions)
	s.mu.Unlock()

	s.afterEviction(evicted, active)
	return len(evicted)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) sweepLocked() []*Session {
	now := s.now()
	var evicted []*Session
	for id, sess := range s.sessions {
		if sess.idleSince(now) > s.timeout {
			delete(s.sessions, id)
			evicted = append(evicted, sess)
		}
	}
	return evicted
}

func (s *Store) afterEviction(evicted []*Session, active int) {
	observability.SetActiveSessions(active)
	if len(evicted) == 0 {
		return
	}

	observability.RecordSessionsEvicted(len(evicted))
	for _, sess := range evicted {
		s.logger.Debug().
			Str("session_id", sess.ID()).
			Int("messages", sess.MessageCount()).
			Time("last_access", sess.LastAccess()).
			Msg("Session evicted")
		if s.onEvict != nil {
			s.onEvict(sess)
		}
	}

	s.logger.Info().Int("evicted", len(evicted)).Int("active", active).Msg("Cleaned up idle sessions")
}
