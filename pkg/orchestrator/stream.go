package orchestrator

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/harun/chatproxy/internal/observability"
	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/backend"
	"github.com/harun/chatproxy/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stream relays backend fragments to one consumer and commits the assistant
// entry once the backend finishes. A Stream is not safe for concurrent use.
type Stream struct {
	ctx     context.Context
	sess    *session.Session
	src     backend.FragmentStream
	backend string
	span    trace.Span
	start   time.Time
	logger  zerolog.Logger
	owner   *Orchestrator

	text       strings.Builder
	fragment   string
	pending    string
	hasPending bool
	count      int
	err        error
	finished   bool
	committed  bool

	releaseOnce sync.Once
	closeErr    error
}

// prime pulls the first fragment. A failure here closes the stream.
func (s *Stream) prime() error {
	frag, ok := s.pull()
	if ok {
		s.pending = frag
		s.hasPending = true
		return nil
	}
	s.finish()
	return s.err
}

// Next advances to the next fragment. It returns false when the reply is
// complete, has failed, or the stream was closed.
func (s *Stream) Next() bool {
	if s.finished {
		return false
	}

	var frag string
	if s.hasPending {
		frag = s.pending
		s.pending = ""
		s.hasPending = false
	} else {
		var ok bool
		frag, ok = s.pull()
		if !ok {
			s.finish()
			return false
		}
	}

	s.text.WriteString(frag)
	s.fragment = frag
	s.count++
	return true
}

// Fragment returns the fragment produced by the last successful Next.
func (s *Stream) Fragment() string {
	return s.fragment
}

// Err returns the failure that ended the stream, if any. Backend errors are
// *backend.Failure values; caller cancellation is the context error.
func (s *Stream) Err() error {
	return s.err
}

// Committed reports whether the assistant entry was appended.
func (s *Stream) Committed() bool {
	return s.committed
}

// Text returns the fragments relayed so far, concatenated.
func (s *Stream) Text() string {
	return s.text.String()
}

// SessionID returns the id of the session this turn belongs to.
func (s *Stream) SessionID() string {
	return s.sess.ID()
}

// Close abandons the stream if it has not finished and releases the backend
// stream. Calling Close more than once is harmless.
func (s *Stream) Close() error {
	if !s.finished {
		s.finished = true
		s.fragment = ""
		observability.RecordStreamAbandoned(s.backend)
		s.span.SetAttributes(attribute.Bool("stream.abandoned", true))
		s.logger.Debug().Int("fragments", s.count).Msg("Stream closed before completion")
		s.release(false)
	}
	return s.closeErr
}

// Fragments adapts the stream to a range-over-func iterator. A failure is
// yielded once as the final element. The stream is closed when iteration stops.
func (s *Stream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Fragment(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield("", err)
		}
	}
}

// pull returns the next non-empty fragment from the backend.
func (s *Stream) pull() (string, bool) {
	for s.src.Next() {
		if frag := s.src.Fragment(); frag != "" {
			return frag, true
		}
	}
	return "", false
}

func (s *Stream) finish() {
	s.finished = true
	s.fragment = ""

	err := s.src.Err()
	if err == nil {
		err = s.ctx.Err()
	}
	if err != nil {
		s.err = backend.Classify(s.backend, err)
		s.owner.recordFailure(s.err)
		if errors.Is(s.err, context.Canceled) {
			observability.RecordStreamAbandoned(s.backend)
			s.logger.Debug().Int("fragments", s.count).Msg("Stream cancelled")
		} else {
			s.logger.Error().Err(s.err).Int("fragments", s.count).Msg("Stream failed")
		}
		tracing.FailSpan(s.span, s.err)
		s.release(false)
		return
	}

	s.sess.Append(session.RoleAssistant, s.text.String())
	s.committed = true
	s.logger.Debug().Int("fragments", s.count).Int("reply_length", s.text.Len()).Msg("Stream completed")
	s.release(true)
}

func (s *Stream) release(success bool) {
	s.releaseOnce.Do(func() {
		s.closeErr = s.src.Close()
		observability.RecordFragments(s.backend, s.count)
		observability.RecordCompletion(s.backend, ModeStream, time.Since(s.start), success)
		s.span.SetAttributes(attribute.Int("stream.fragments", s.count))
		s.span.End()
	})
}

func isBackendFailure(err error) bool {
	return errors.Is(err, backend.ErrBackend)
}
