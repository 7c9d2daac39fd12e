// Package chat exposes conversational turns over the session store and the
// completion orchestrator.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/orchestrator"
	"github.com/harun/chatproxy/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxMessageBytes bounds a single user message.
const DefaultMaxMessageBytes = 32 * 1024

// ErrValidation is wrapped by every rejected turn request.
var ErrValidation = errors.New("invalid turn request")

// TurnRequest is one user message, optionally bound to an existing session.
type TurnRequest struct {
	SessionID string
	Message   string
	Streaming bool
}

// TurnResult carries the session id and either the buffered reply or the
// open stream.
type TurnResult struct {
	SessionID string
	Reply     string
	Stream    *orchestrator.Stream
}

// Status summarizes a live session.
type Status struct {
	SessionID    string
	MessageCount int
	CreatedAt    time.Time
}

// Service implements the chat operations.
type Service struct {
	store           *session.Store
	orchestrator    *orchestrator.Orchestrator
	maxMessageBytes int
	logger          zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxMessageBytes overrides DefaultMaxMessageBytes. Non-positive values are ignored.
func WithMaxMessageBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMessageBytes = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a chat service.
func NewService(store *session.Store, o *orchestrator.Orchestrator, opts ...Option) *Service {
	s := &Service{
		store:           store,
		orchestrator:    o,
		maxMessageBytes: DefaultMaxMessageBytes,
		logger:          log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitTurn validates the message, resolves or creates the session and runs
// the turn. Unknown or expired session ids fall back to a new session. On a
// backend failure the result still carries the session id.
func (s *Service) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := s.Validate(req.Message); err != nil {
		return nil, err
	}

	sess := s.resolve(ctx, req.SessionID)
	result := &TurnResult{SessionID: sess.ID()}
	ctx = tracing.WithSessionID(ctx, sess.ID())

	if req.Streaming {
		stream, err := s.orchestrator.Stream(ctx, sess, req.Message)
		if err != nil {
			return result, fmt.Errorf("stream turn: %w", err)
		}
		result.Stream = stream
		return result, nil
	}

	reply, err := s.orchestrator.Complete(ctx, sess, req.Message)
	if err != nil {
		return result, fmt.Errorf("complete turn: %w", err)
	}
	result.Reply = reply
	return result, nil
}

// SessionStatus reports the message count and creation time of a live session.
func (s *Service) SessionStatus(id string) (Status, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return Status{}, err
	}
	return Status{
		SessionID:    sess.ID(),
		MessageCount: sess.MessageCount(),
		CreatedAt:    sess.CreatedAt(),
	}, nil
}

// ActiveSessions returns the number of live sessions.
func (s *Service) ActiveSessions() int {
	return s.store.Len()
}

// MaxMessageBytes returns the configured message size limit.
func (s *Service) MaxMessageBytes() int {
	return s.maxMessageBytes
}

// Validate checks a user message without touching the store.
func (s *Service) Validate(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message must not be empty", ErrValidation)
	}
	if len(message) > s.maxMessageBytes {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrValidation, s.maxMessageBytes)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, id string) *session.Session {
	logger := tracing.LoggerFromContext(ctx, s.logger)
	if id != "" {
		sess, err := s.store.Get(id)
		if err == nil {
			return sess
		}
		logger.Warn().Str("requested_session_id", id).Msg("Session not found, creating a new one")
	}

	return s.store.CreateSession()
}
