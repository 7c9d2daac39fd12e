package backend

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/session"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic implements Backend for the Anthropic messages API.
type Anthropic struct {
	client  anthropic.Client
	profile Profile
}

// NewAnthropic creates a new Anthropic backend
func NewAnthropic(profile Profile) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(profile.APIKey),
		option.WithMaxRetries(0),
	}
	if profile.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(profile.Endpoint))
	}
	return &Anthropic{
		client:  anthropic.NewClient(opts...),
		profile: profile,
	}
}

// Name returns the provider name
func (p *Anthropic) Name() string {
	return ProviderAnthropic
}

// Complete makes a buffered messages call and joins the text blocks.
func (p *Anthropic) Complete(ctx context.Context, messages []session.Message) (string, error) {
	ctx, span := startSpan(ctx, "backend.complete", p.profile, ProviderAnthropic)
	defer span.End()
	ctx, cancel := withTimeout(ctx, p.profile.Timeout)
	defer cancel()

	response, err := p.client.Messages.New(ctx, p.params(messages))
	if err != nil {
		err = Classify(ProviderAnthropic, err)
		tracing.FailSpan(span, err)
		return "", err
	}

	var content strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(b.Text)
		}
	}
	return content.String(), nil
}

// Stream opens a streamed messages call.
func (p *Anthropic) Stream(ctx context.Context, messages []session.Message) (FragmentStream, error) {
	ctx, span := startSpan(ctx, "backend.stream", p.profile, ProviderAnthropic)
	stream := p.client.Messages.NewStreaming(ctx, p.params(messages))
	return &tracedStream{FragmentStream: &anthropicStream{stream: stream}, span: span}, nil
}

// params lifts system entries into the system field; the API rejects them
// inside the message list.
func (p *Anthropic) params(messages []session.Message) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case session.RoleUser:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case session.RoleAssistant:
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := p.profile.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.profile.Model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
		System:    system,
	}
	if p.profile.Temperature > 0 {
		params.Temperature = anthropic.Float(p.profile.Temperature)
	}
	return params
}

type anthropicStream struct {
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	fragment string
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		event := s.stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		s.fragment = text.Text
		return true
	}
	s.fragment = ""
	return false
}

func (s *anthropicStream) Fragment() string {
	return s.fragment
}

func (s *anthropicStream) Err() error {
	return Classify(ProviderAnthropic, s.stream.Err())
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
