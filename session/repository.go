package session

import (
	"context"
	"iter"
	"time"
)

// Repository is the durable session store. Implementations must be safe for
// concurrent use.
type Repository interface {
	// Get returns the stored session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Put inserts or replaces a session record.
	Put(ctx context.Context, sess *Session) error

	// Delete removes a session. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Touch records activity on an existing session. It never creates a
	// record, and it ignores updates whose revision is not newer than the
	// stored one. Missing sessions yield ErrNotFound.
	Touch(ctx context.Context, id string, lastActive time.Time, revision uint64) error

	// FindExpired yields sessions whose ExpiresAt is before the given time.
	// The sequence is finite; callers may stop early and query again later.
	// An error on one record is yielded with a session holding only its ID.
	// A nil session with an error means listing failed and the sequence ends.
	FindExpired(ctx context.Context, before time.Time) iter.Seq2[*Session, error]
}

// UserIndex is implemented by repositories that can list the sessions of one
// user. [Store.DestroyAllForUser] requires it.
type UserIndex interface {
	SessionIDsForUser(ctx context.Context, userID string) ([]string, error)
}
