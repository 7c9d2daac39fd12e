// Package session keeps live conversation state in memory.
//
// Invariants:
//   - A session's message list starts with its system entry and is append-only.
//   - Session ids are random UUIDs and are never reused.
//   - Idle sessions are evicted lazily when a new session is created, or by an
//     opt-in Sweeper.
//   - Lookups touch last access; evicted and unknown ids both yield ErrNotFound.
//
// Usage:
//
//	store := session.NewStore(session.WithTimeout(30 * time.Minute))
//	id := store.Create()
//	sess, _ := store.Get(id)
//	sess.Append(session.RoleUser, "hello")
package session
