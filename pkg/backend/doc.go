// Package backend talks to large-language-model providers.
//
// A Backend turns a conversation history into either one buffered reply or a
// FragmentStream of text deltas. Every provider error is classified into a
// *Failure so callers can map it without knowing which SDK produced it.
//
// Usage:
//
//	b, _ := backend.New(backend.Profile{Provider: "openai", APIKey: key, Model: "gpt-4"})
//	reply, err := b.Complete(ctx, sess.Messages())
//	if errors.Is(err, backend.ErrBackend) {
//		kind := backend.KindOf(err)
//		_ = kind
//	}
//	_ = reply
package backend
