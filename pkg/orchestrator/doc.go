// Package orchestrator runs one conversational turn against a backend.
//
// Invariants:
//   - The user entry is appended before the backend is called and is never
//     rolled back.
//   - A buffered reply is trimmed and appended as the assistant entry.
//   - A streamed reply is appended only when the backend finishes the stream;
//     early Close, cancellation and mid-stream failures leave the session with
//     the user entry alone.
//
// Usage:
//
//	o := orchestrator.New(b)
//	stream, err := o.Stream(ctx, sess, "hello")
//	if err != nil {
//		return err
//	}
//	for fragment, err := range stream.Fragments() {
//		if err != nil {
//			return err
//		}
//		fmt.Print(fragment)
//	}
package orchestrator
