package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
)

// Backend sends a conversation to an LLM.
type Backend interface {
	// Complete returns the full reply text.
	Complete(ctx context.Context, messages []session.Message) (string, error)

	// Stream opens an incremental reply.
	Stream(ctx context.Context, messages []session.Message) (FragmentStream, error)

	// Name returns the provider name
	Name() string
}

// FragmentStream yields reply text in arrival order. Next returns false when
// the reply is finished or has failed; Err tells the two apart.
type FragmentStream interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// Profile selects and configures a provider.
type Profile struct {
	Provider    string
	APIKey      string
	Endpoint    string // azure resource endpoint, or base URL override for the others
	APIVersion  string // azure only
	Model       string // model name, or deployment name on azure
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // bounds buffered completions only
}

// New creates the backend named by profile.Provider.
func New(profile Profile) (Backend, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("%s backend: api key is required", profile.Provider)
	}
	if profile.Model == "" {
		return nil, fmt.Errorf("%s backend: model is required", profile.Provider)
	}

	switch profile.Provider {
	case ProviderOpenAI:
		return NewOpenAI(profile), nil
	case ProviderAzure:
		if profile.Endpoint == "" || profile.APIVersion == "" {
			return nil, fmt.Errorf("azure backend: endpoint and api version are required")
		}
		return NewAzure(profile), nil
	case ProviderAnthropic:
		return NewAnthropic(profile), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func startSpan(ctx context.Context, name string, profile Profile, provider string) (context.Context, trace.Span) {
	return tracing.StartSpan(ctx, tracing.TracerBackend, name,
		attribute.String("backend.provider", provider),
		attribute.String("backend.model", profile.Model),
	)
}

// tracedStream ends the backend span when the stream is closed.
type tracedStream struct {
	FragmentStream
	span trace.Span
	once sync.Once
}

func (s *tracedStream) Close() error {
	err := s.FragmentStream.Close()
	s.once.Do(func() {
		tracing.FailSpan(s.span, s.FragmentStream.Err())
		s.span.End()
	})
	return err
}
