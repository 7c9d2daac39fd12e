package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/harun/chatproxy/internal/observability"
	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/backend"
	"github.com/harun/chatproxy/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Completion modes, used as metric labels.
const (
	ModeBuffered = "buffered"
	ModeStream   = "stream"
)

// Orchestrator turns user messages into backend calls and records the
// resulting entries on the session.
type Orchestrator struct {
	backend backend.Backend
	logger  zerolog.Logger
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger for the orchestrator
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates a new Orchestrator instance
func New(b backend.Backend, opts ...Option) *Orchestrator {
	observability.EnsureRegistered()

	o := &Orchestrator{
		backend: b,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Complete appends the user message, fetches the whole reply and appends it
// trimmed of surrounding whitespace.
func (o *Orchestrator) Complete(ctx context.Context, sess *session.Session, userMessage string) (string, error) {
	start := time.Now()
	name := o.backend.Name()
	ctx, span := o.startSpan(ctx, "orchestrator.complete", sess)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	sess.Append(session.RoleUser, userMessage)

	reply, err := o.backend.Complete(ctx, sess.Messages())
	if err != nil {
		err = backend.Classify(name, err)
		o.recordFailure(err)
		tracing.FailSpan(span, err)
		observability.RecordCompletion(name, ModeBuffered, time.Since(start), false)
		logger.Error().Err(err).Str("kind", string(backend.KindOf(err))).Msg("Completion failed")
		return "", err
	}

	reply = strings.TrimSpace(reply)
	sess.Append(session.RoleAssistant, reply)

	observability.RecordCompletion(name, ModeBuffered, time.Since(start), true)
	span.SetAttributes(attribute.Int("reply.length", len(reply)))
	logger.Debug().Int("reply_length", len(reply)).Dur("duration", time.Since(start)).Msg("Completion finished")
	return reply, nil
}

// Stream appends the user message and opens a streamed reply. The first
// fragment is fetched eagerly so a backend that fails to open is reported
// here rather than from the returned Stream.
func (o *Orchestrator) Stream(ctx context.Context, sess *session.Session, userMessage string) (*Stream, error) {
	start := time.Now()
	name := o.backend.Name()
	ctx, span := o.startSpan(ctx, "orchestrator.stream", sess)
	logger := tracing.LoggerFromContext(ctx, o.logger)

	sess.Append(session.RoleUser, userMessage)

	src, err := o.backend.Stream(ctx, sess.Messages())
	if err != nil {
		err = backend.Classify(name, err)
		o.recordFailure(err)
		tracing.FailSpan(span, err)
		span.End()
		observability.RecordCompletion(name, ModeStream, time.Since(start), false)
		logger.Error().Err(err).Msg("Failed to open stream")
		return nil, err
	}

	s := &Stream{
		ctx:     ctx,
		sess:    sess,
		src:     src,
		backend: name,
		span:    span,
		start:   start,
		logger:  logger,
		owner:   o,
	}
	if err := s.prime(); err != nil {
		return nil, err
	}
	return s, nil
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, sess *session.Session) (context.Context, trace.Span) {
	ctx = tracing.WithSessionID(ctx, sess.ID())
	return tracing.StartSpan(ctx, tracing.TracerOrchestrator, name,
		attribute.String("session.id", sess.ID()),
		attribute.String("backend.name", o.backend.Name()),
	)
}

func (o *Orchestrator) recordFailure(err error) {
	if err == nil || !isBackendFailure(err) {
		return
	}
	observability.RecordBackendFailure(o.backend.Name(), string(backend.KindOf(err)))
}
