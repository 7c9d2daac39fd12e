package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		kind Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusBadRequest, KindBadRequest},
		{http.StatusNotFound, KindBadRequest},
		{http.StatusRequestEntityTooLarge, KindBadRequest},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInternalServerError, KindServer},
		{http.StatusServiceUnavailable, KindServer},
		{http.StatusOK, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.kind, kindForStatus(tt.code))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Classify("openai", nil))
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		err := Classify("openai", fmt.Errorf("call: %w", context.DeadlineExceeded))

		require.ErrorIs(t, err, ErrBackend)
		assert.Equal(t, KindTimeout, KindOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("dial error is a connection failure", func(t *testing.T) {
		cause := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		err := Classify("azure", cause)

		require.ErrorIs(t, err, ErrBackend)
		assert.Equal(t, KindConnection, KindOf(err))

		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, "azure", f.Provider)
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		err := Classify("openai", context.Canceled)

		assert.NotErrorIs(t, err, ErrBackend)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("existing failure unchanged", func(t *testing.T) {
		original := &Failure{Kind: KindRateLimit, Provider: "anthropic", Cause: errors.New("slow down")}
		err := Classify("openai", fmt.Errorf("wrapped: %w", original))

		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Same(t, original, f)
	})

	t.Run("plain error is unknown", func(t *testing.T) {
		err := Classify("openai", errors.New("boom"))

		require.ErrorIs(t, err, ErrBackend)
		assert.Equal(t, KindUnknown, KindOf(err))
		assert.Equal(t, "openai backend unknown: boom", err.Error())
	})
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("not a backend error")))
	assert.Equal(t, KindAuth, KindOf(&Failure{Kind: KindAuth}))
}
