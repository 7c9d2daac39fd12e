// Package backendtest provides scripted in-memory backends for tests.
package backendtest

import (
	"context"
	"strings"
	"sync"

	"github.com/harun/chatproxy/pkg/backend"
	"github.com/harun/chatproxy/pkg/session"
)

// Backend replays a scripted reply. Fragments are streamed in order; the
// buffered reply is their concatenation unless Reply is set.
type Backend struct {
	Reply     string
	Fragments []string

	// OpenErr fails Complete and Stream before any output.
	OpenErr error
	// StreamErr, when set, fails the stream after FailAfter fragments.
	FailAfter int
	StreamErr error

	// Gate, when set, blocks each fragment until a value is received or the
	// context ends.
	Gate chan struct{}

	mu       sync.Mutex
	calls    [][]session.Message
	closed   int
	provider string
}

// New returns a backend that streams fragments and replies with their concatenation.
func New(fragments ...string) *Backend {
	return &Backend{Fragments: fragments}
}

// Name returns "fake" unless overridden with WithName.
func (b *Backend) Name() string {
	if b.provider == "" {
		return "fake"
	}
	return b.provider
}

// WithName sets the reported provider name.
func (b *Backend) WithName(name string) *Backend {
	b.provider = name
	return b
}

// Complete records the conversation and returns the scripted reply.
func (b *Backend) Complete(ctx context.Context, messages []session.Message) (string, error) {
	b.record(messages)
	if b.OpenErr != nil {
		return "", backend.Classify(b.Name(), b.OpenErr)
	}
	if err := ctx.Err(); err != nil {
		return "", backend.Classify(b.Name(), err)
	}
	if b.Reply != "" {
		return b.Reply, nil
	}
	return strings.Join(b.Fragments, ""), nil
}

// Stream records the conversation and returns a scripted fragment stream.
func (b *Backend) Stream(ctx context.Context, messages []session.Message) (backend.FragmentStream, error) {
	b.record(messages)
	if b.OpenErr != nil {
		return nil, backend.Classify(b.Name(), b.OpenErr)
	}
	return &stream{ctx: ctx, owner: b}, nil
}

// Calls returns the conversations received so far.
func (b *Backend) Calls() [][]session.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]session.Message, len(b.calls))
	copy(out, b.calls)
	return out
}

// Closed returns how many streams were closed.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) record(messages []session.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]session.Message, len(messages))
	copy(cp, messages)
	b.calls = append(b.calls, cp)
}

type stream struct {
	ctx      context.Context
	owner    *Backend
	pos      int
	fragment string
	err      error
	done     bool
}

func (s *stream) Next() bool {
	if s.done {
		return false
	}
	b := s.owner
	if b.StreamErr != nil && s.pos >= b.FailAfter {
		return s.fail(b.StreamErr)
	}
	if s.pos >= len(b.Fragments) {
		s.done = true
		s.fragment = ""
		return false
	}
	if b.Gate != nil {
		select {
		case <-b.Gate:
		case <-s.ctx.Done():
			return s.fail(s.ctx.Err())
		}
	}
	if err := s.ctx.Err(); err != nil {
		return s.fail(err)
	}
	s.fragment = b.Fragments[s.pos]
	s.pos++
	return true
}

func (s *stream) fail(err error) bool {
	s.done = true
	s.fragment = ""
	s.err = backend.Classify(s.owner.Name(), err)
	return false
}

func (s *stream) Fragment() string {
	return s.fragment
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	s.done = true
	s.owner.mu.Lock()
	s.owner.closed++
	s.owner.mu.Unlock()
	return nil
}
