package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harun/chatproxy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicEvent(name, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data)
}

func anthropicTextDelta(text string) string {
	return anthropicEvent("content_block_delta",
		fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, text))
}

func TestAnthropicComplete(t *testing.T) {
	var got capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer server.Close()

	b := NewAnthropic(Profile{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5", Endpoint: server.URL})

	conversation := append(testConversation(), session.Message{Role: session.RoleAssistant, Content: "Hey"},
		session.Message{Role: session.RoleUser, Content: "How are you?"})

	reply, err := b.Complete(context.Background(), conversation)
	require.NoError(t, err)

	assert.Equal(t, "Hi there", reply)
	// system entry is lifted out of the message list
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0]["role"])
	assert.Equal(t, "assistant", got.Messages[1]["role"])
	assert.NotNil(t, got.Body["system"])
	assert.EqualValues(t, defaultAnthropicMaxTokens, got.Body["max_tokens"])
}

func TestAnthropicStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			anthropicEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":3,"output_tokens":0}}}`),
			anthropicEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
			anthropicTextDelta("Hel"),
			anthropicTextDelta("lo"),
			anthropicEvent("content_block_stop", `{"type":"content_block_stop","index":0}`),
			anthropicEvent("message_stop", `{"type":"message_stop"}`),
		)
	}))
	defer server.Close()

	b := NewAnthropic(Profile{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5", Endpoint: server.URL})

	stream, err := b.Stream(context.Background(), testConversation())
	require.NoError(t, err)
	defer stream.Close()

	var fragments []string
	for stream.Next() {
		fragments = append(fragments, stream.Fragment())
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"Hel", "lo"}, fragments)
}

func TestAnthropicRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	b := NewAnthropic(Profile{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5", Endpoint: server.URL})

	_, err := b.Complete(context.Background(), testConversation())
	require.ErrorIs(t, err, ErrBackend)
	assert.Equal(t, KindRateLimit, KindOf(err))
}
