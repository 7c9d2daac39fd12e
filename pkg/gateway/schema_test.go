package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidator(t *testing.T) {
	v, err := NewRequestValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "message only", body: `{"message": "hi"}`},
		{name: "all fields", body: `{"message": "hi", "session_id": "abc", "enable_streaming": true}`},
		{name: "missing message", body: `{"session_id": "abc"}`, wantErr: "message"},
		{name: "wrong type", body: `{"message": 42}`, wantErr: "message"},
		{name: "unknown field", body: `{"message": "hi", "model": "gpt-4"}`, wantErr: "model"},
		{name: "streaming flag type", body: `{"message": "hi", "enable_streaming": "yes"}`, wantErr: "enable_streaming"},
		{name: "not json", body: `{"message":`, wantErr: "malformed JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.body))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
