package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/session"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAI implements Backend for the OpenAI chat completions API, either
// directly or through an Azure OpenAI deployment.
type OpenAI struct {
	client  openai.Client
	name    string
	profile Profile
}

// NewOpenAI creates a backend against api.openai.com, or profile.Endpoint
// when set.
func NewOpenAI(profile Profile) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(profile.APIKey),
		option.WithMaxRetries(0),
	}
	if profile.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(profile.Endpoint))
	}
	return &OpenAI{
		client:  openai.NewClient(opts...),
		name:    ProviderOpenAI,
		profile: profile,
	}
}

// NewAzure creates a backend against an Azure OpenAI resource. The profile
// model is the deployment name.
func NewAzure(profile Profile) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(
			azure.WithEndpoint(profile.Endpoint, profile.APIVersion),
			azure.WithAPIKey(profile.APIKey),
			option.WithMaxRetries(0),
		),
		name:    ProviderAzure,
		profile: profile,
	}
}

// Name returns the provider name
func (p *OpenAI) Name() string {
	return p.name
}

// Complete makes a buffered chat completion call.
func (p *OpenAI) Complete(ctx context.Context, messages []session.Message) (string, error) {
	ctx, span := startSpan(ctx, "backend.complete", p.profile, p.name)
	defer span.End()
	ctx, cancel := withTimeout(ctx, p.profile.Timeout)
	defer cancel()

	response, err := p.client.Chat.Completions.New(ctx, p.params(messages))
	if err != nil {
		err = Classify(p.name, err)
		tracing.FailSpan(span, err)
		return "", err
	}
	if len(response.Choices) == 0 {
		err := &Failure{Kind: KindServer, Provider: p.name, Cause: errors.New("no response choices returned")}
		tracing.FailSpan(span, err)
		return "", err
	}
	return response.Choices[0].Message.Content, nil
}

// Stream opens a streamed chat completion. Connection errors surface from the
// first Next call.
func (p *OpenAI) Stream(ctx context.Context, messages []session.Message) (FragmentStream, error) {
	ctx, span := startSpan(ctx, "backend.stream", p.profile, p.name)
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(messages))
	return &tracedStream{FragmentStream: &openAIStream{stream: stream, name: p.name}, span: span}, nil
}

func (p *OpenAI) params(messages []session.Message) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Content))
		case session.RoleUser:
			converted = append(converted, openai.UserMessage(msg.Content))
		case session.RoleAssistant:
			converted = append(converted, openai.AssistantMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.profile.Model),
		Messages: converted,
	}
	if p.profile.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.profile.MaxTokens))
	}
	if p.profile.Temperature > 0 {
		params.Temperature = openai.Float(p.profile.Temperature)
	}
	return params
}

type openAIStream struct {
	stream   *ssestream.Stream[openai.ChatCompletionChunk]
	name     string
	fragment string
}

func (s *openAIStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		var b strings.Builder
		for _, choice := range chunk.Choices {
			b.WriteString(choice.Delta.Content)
		}
		if b.Len() == 0 {
			continue
		}
		s.fragment = b.String()
		return true
	}
	s.fragment = ""
	return false
}

func (s *openAIStream) Fragment() string {
	return s.fragment
}

func (s *openAIStream) Err() error {
	return Classify(s.name, s.stream.Err())
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
