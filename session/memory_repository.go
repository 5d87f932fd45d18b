package session

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"time"
)

// MemoryRepository is a process-local [Repository]. It backs tests and
// single-instance deployments that accept losing sessions on restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryRepository creates an empty [MemoryRepository].
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*Session)}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (m *MemoryRepository) Put(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *MemoryRepository) Touch(ctx context.Context, id string, lastActive time.Time, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if revision <= cur.Revision {
		return nil
	}

	next := cur.Clone()
	next.Metadata.LastActive = lastActive
	next.Revision = revision
	m.sessions[id] = next
	return nil
}

// FindExpired yields a snapshot of the sessions expired before the given
// time, oldest first.
func (m *MemoryRepository) FindExpired(ctx context.Context, before time.Time) iter.Seq2[*Session, error] {
	return func(yield func(*Session, error) bool) {
		m.mu.RLock()
		expired := make([]*Session, 0)
		for _, sess := range m.sessions {
			if sess.ExpiresAt.Before(before) {
				expired = append(expired, sess.Clone())
			}
		}
		m.mu.RUnlock()

		slices.SortFunc(expired, func(a, b *Session) int {
			return cmp.Or(a.ExpiresAt.Compare(b.ExpiresAt), cmp.Compare(a.ID, b.ID))
		})

		for _, sess := range expired {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(sess, nil) {
				return
			}
		}
	}
}

func (m *MemoryRepository) SessionIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, sess := range m.sessions {
		if sess.UserID == userID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of stored sessions.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
