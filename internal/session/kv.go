// Package session keeps the volatile per-student tutoring state: disclosure
// state per question and one test session record per (student, test). State
// lives in a TTL key-value store keyed by
//
//	"{user_id}:{test_id}:{question_id}"  disclosure state
//	"{user_id}:{test_id}"                test session
//
// so an abandoned test disappears on its own when the TTL lapses. Every write
// refreshes the TTL.
package session

import (
	"context"
	"fmt"
	"time"
)

// StoreError reports a failed read or write against the backing store. The
// manager never fabricates state it could not persist, so callers treat this
// as fatal for the current request. The TTL keys make a retry safe.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// KV is the minimal store interface the manager needs. The production
// implementation is Redis; tests use the in-memory one.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the value with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the keys. Deleting an absent key is not an error.
	Delete(ctx context.Context, keys ...string) error
}
