package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/harun/chatproxy/pkg/backend"
	"github.com/harun/chatproxy/pkg/backend/backendtest"
	"github.com/harun/chatproxy/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTest(t *testing.T, b backend.Backend) (*Orchestrator, *session.Session) {
	t.Helper()
	store := session.NewStore(session.WithLogger(zerolog.Nop()))
	sess, err := store.Get(store.Create())
	require.NoError(t, err)
	return New(b, WithLogger(zerolog.Nop())), sess
}

func lastMessage(sess *session.Session) session.Message {
	msgs := sess.Messages()
	return msgs[len(msgs)-1]
}

func TestComplete(t *testing.T) {
	t.Run("appends user and trimmed assistant", func(t *testing.T) {
		fake := &backendtest.Backend{Reply: "  Hi there!\n"}
		o, sess := setupTest(t, fake)

		reply, err := o.Complete(context.Background(), sess, "Hello")
		require.NoError(t, err)

		assert.Equal(t, "Hi there!", reply)
		assert.Equal(t, 3, sess.MessageCount())

		msgs := sess.Messages()
		assert.Equal(t, session.RoleSystem, msgs[0].Role)
		assert.Equal(t, session.Message{Role: session.RoleUser, Content: "Hello"}, stripTime(msgs[1]))
		assert.Equal(t, session.Message{Role: session.RoleAssistant, Content: "Hi there!"}, stripTime(msgs[2]))
	})

	t.Run("backend receives history ending with the user turn", func(t *testing.T) {
		fake := &backendtest.Backend{Reply: "first"}
		o, sess := setupTest(t, fake)

		_, err := o.Complete(context.Background(), sess, "one")
		require.NoError(t, err)
		_, err = o.Complete(context.Background(), sess, "two")
		require.NoError(t, err)

		calls := fake.Calls()
		require.Len(t, calls, 2)
		assert.Len(t, calls[0], 2)
		require.Len(t, calls[1], 4)
		assert.Equal(t, "two", calls[1][3].Content)
		assert.Equal(t, 5, sess.MessageCount())
	})

	t.Run("failure keeps the user turn", func(t *testing.T) {
		fake := &backendtest.Backend{OpenErr: errors.New("connection reset")}
		o, sess := setupTest(t, fake)

		_, err := o.Complete(context.Background(), sess, "Hello")
		require.ErrorIs(t, err, backend.ErrBackend)

		assert.Equal(t, 2, sess.MessageCount())
		assert.Equal(t, session.RoleUser, lastMessage(sess).Role)
	})

	t.Run("failure kind survives", func(t *testing.T) {
		fake := &backendtest.Backend{OpenErr: &backend.Failure{Kind: backend.KindRateLimit, Provider: "fake", StatusCode: http.StatusTooManyRequests, Cause: errors.New("slow down")}}
		o, sess := setupTest(t, fake)

		_, err := o.Complete(context.Background(), sess, "Hello")
		assert.Equal(t, backend.KindRateLimit, backend.KindOf(err))
	})
}

func TestStream(t *testing.T) {
	t.Run("natural completion commits the concatenation", func(t *testing.T) {
		fake := backendtest.New("Hel", "", "lo", " world")
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)
		assert.Equal(t, sess.ID(), stream.SessionID())
		// user turn is visible before any fragment is consumed
		assert.Equal(t, 2, sess.MessageCount())

		var fragments []string
		for stream.Next() {
			fragments = append(fragments, stream.Fragment())
		}
		require.NoError(t, stream.Err())
		require.NoError(t, stream.Close())

		assert.Equal(t, []string{"Hel", "lo", " world"}, fragments)
		assert.True(t, stream.Committed())
		assert.Equal(t, 3, sess.MessageCount())
		assert.Equal(t, "Hello world", lastMessage(sess).Content)
		assert.Equal(t, session.RoleAssistant, lastMessage(sess).Role)
		assert.Equal(t, 1, fake.Closed())
	})

	t.Run("streamed text is not trimmed", func(t *testing.T) {
		fake := backendtest.New(" padded ", "\n")
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)
		for stream.Next() {
		}

		assert.Equal(t, " padded \n", lastMessage(sess).Content)
	})

	t.Run("empty reply commits an empty assistant entry", func(t *testing.T) {
		fake := backendtest.New()
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)
		assert.False(t, stream.Next())
		require.NoError(t, stream.Err())

		assert.True(t, stream.Committed())
		assert.Equal(t, 3, sess.MessageCount())
		assert.Equal(t, "", lastMessage(sess).Content)
	})

	t.Run("early close commits nothing", func(t *testing.T) {
		fake := backendtest.New("a", "b", "c", "d")
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)

		require.True(t, stream.Next())
		require.True(t, stream.Next())
		require.NoError(t, stream.Close())
		require.NoError(t, stream.Close())

		assert.False(t, stream.Next())
		assert.False(t, stream.Committed())
		assert.Equal(t, "ab", stream.Text())
		assert.Equal(t, 2, sess.MessageCount())
		assert.Equal(t, session.RoleUser, lastMessage(sess).Role)
		assert.Equal(t, 1, fake.Closed())
	})

	t.Run("cancellation commits nothing", func(t *testing.T) {
		fake := backendtest.New("a", "b", "c")
		fake.Gate = make(chan struct{}, 1)
		o, sess := setupTest(t, fake)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fake.Gate <- struct{}{}
		stream, err := o.Stream(ctx, sess, "Hi")
		require.NoError(t, err)
		require.True(t, stream.Next())
		assert.Equal(t, "a", stream.Fragment())

		cancel()
		assert.False(t, stream.Next())
		require.ErrorIs(t, stream.Err(), context.Canceled)
		assert.NotErrorIs(t, stream.Err(), backend.ErrBackend)

		assert.False(t, stream.Committed())
		assert.Equal(t, 2, sess.MessageCount())
	})

	t.Run("mid-stream failure surfaces a backend failure", func(t *testing.T) {
		fake := backendtest.New("a", "b", "c")
		fake.FailAfter = 2
		fake.StreamErr = &backend.Failure{Kind: backend.KindServer, Provider: "fake", Cause: errors.New("stream reset")}
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)

		var fragments []string
		for stream.Next() {
			fragments = append(fragments, stream.Fragment())
		}

		assert.Equal(t, []string{"a", "b"}, fragments)
		require.ErrorIs(t, stream.Err(), backend.ErrBackend)
		assert.Equal(t, backend.KindServer, backend.KindOf(stream.Err()))
		assert.False(t, stream.Committed())
		assert.Equal(t, 2, sess.MessageCount())
	})

	t.Run("open failure is returned from Stream", func(t *testing.T) {
		fake := &backendtest.Backend{OpenErr: errors.New("dial tcp: refused")}
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		assert.Nil(t, stream)
		require.ErrorIs(t, err, backend.ErrBackend)
		assert.Equal(t, 2, sess.MessageCount())
	})

	t.Run("failure before the first fragment is returned from Stream", func(t *testing.T) {
		fake := backendtest.New("never")
		fake.StreamErr = errors.New("boom")
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		assert.Nil(t, stream)
		require.ErrorIs(t, err, backend.ErrBackend)
		assert.Equal(t, 2, sess.MessageCount())
		assert.Equal(t, 1, fake.Closed())
	})
}

func TestStreamFragments(t *testing.T) {
	t.Run("ranges over every fragment", func(t *testing.T) {
		fake := backendtest.New("x", "y", "z")
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)

		var got string
		for fragment, err := range stream.Fragments() {
			require.NoError(t, err)
			got += fragment
		}

		assert.Equal(t, "xyz", got)
		assert.Equal(t, "xyz", lastMessage(sess).Content)
		assert.Equal(t, 1, fake.Closed())
	})

	t.Run("break abandons the stream", func(t *testing.T) {
		fake := backendtest.New("x", "y", "z")
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)

		for range stream.Fragments() {
			break
		}

		assert.False(t, stream.Committed())
		assert.Equal(t, 2, sess.MessageCount())
		assert.Equal(t, 1, fake.Closed())
	})

	t.Run("failure is yielded last", func(t *testing.T) {
		fake := backendtest.New("x", "y")
		fake.FailAfter = 1
		fake.StreamErr = errors.New("reset")
		o, sess := setupTest(t, fake)

		stream, err := o.Stream(context.Background(), sess, "Hi")
		require.NoError(t, err)

		var fragments []string
		var lastErr error
		for fragment, err := range stream.Fragments() {
			if err != nil {
				lastErr = err
				continue
			}
			fragments = append(fragments, fragment)
		}

		assert.Equal(t, []string{"x"}, fragments)
		assert.ErrorIs(t, lastErr, backend.ErrBackend)
		assert.Equal(t, 2, sess.MessageCount())
	})
}

func TestConcurrentSessions(t *testing.T) {
	fake := backendtest.New("ok")
	store := session.NewStore(session.WithLogger(zerolog.Nop()))
	o := New(fake, WithLogger(zerolog.Nop()))

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = store.Create()
		wg.Add(1)
		go func(id string, n int) {
			defer wg.Done()
			sess, err := store.Get(id)
			if !assert.NoError(t, err) {
				return
			}
			if n%2 == 0 {
				_, err = o.Complete(context.Background(), sess, fmt.Sprintf("msg %d", n))
				assert.NoError(t, err)
				return
			}
			stream, err := o.Stream(context.Background(), sess, fmt.Sprintf("msg %d", n))
			if !assert.NoError(t, err) {
				return
			}
			for stream.Next() {
			}
			assert.NoError(t, stream.Err())
		}(ids[i], i)
	}
	wg.Wait()

	for _, id := range ids {
		sess, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 3, sess.MessageCount())
	}
}

func stripTime(m session.Message) session.Message {
	return session.Message{Role: m.Role, Content: m.Content}
}
