package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goSession/permission"
)

const (
	// DefaultTTL is the session lifetime when neither the store nor the
	// caller sets one.
	DefaultTTL = 24 * time.Hour

	defaultRepositoryTimeout    = 2 * time.Second
	defaultCacheRevalidateAfter = 30 * time.Second
)

// StoreConfig tunes a [Store]. Zero values select defaults.
type StoreConfig struct {
	TTL                  time.Duration
	RepositoryTimeout    time.Duration
	CacheRevalidateAfter time.Duration
	TombstoneTTL         time.Duration

	Clock  Clock
	IDs    IDGenerator
	Tokens TokenIssuer
	Logger *slog.Logger
}

// CreateParams describes a new session.
type CreateParams struct {
	UserID      string
	Role        string
	Permissions permission.Set
	Metadata    Metadata

	// TTL overrides the store default when positive.
	TTL time.Duration
}

// Store orchestrates the [Cache] and the durable [Repository]. It is the only
// writer of sessions.
//
// Store is safe for concurrent use. Operations on different ids never block
// one another.
type Store struct {
	repo   Repository
	cache  *Cache
	group  singleflight.Group
	cfg    StoreConfig
	now    Clock
	ids    IDGenerator
	tokens TokenIssuer
	logger *slog.Logger

	// mu guards closed so no touch is added to wg once Close waits on it.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewStore creates a [Store] over repo.
func NewStore(repo Repository, cfg StoreConfig) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RepositoryTimeout <= 0 {
		cfg.RepositoryTimeout = defaultRepositoryTimeout
	}
	if cfg.CacheRevalidateAfter <= 0 {
		cfg.CacheRevalidateAfter = defaultCacheRevalidateAfter
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = cfg.TTL
	}

	s := &Store{
		repo:   repo,
		cache:  NewCache(),
		cfg:    cfg,
		now:    cfg.Clock,
		ids:    cfg.IDs,
		tokens: cfg.Tokens,
		logger: cfg.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.ids == nil {
		s.ids = ULIDGenerator{}
	}
	if s.tokens == nil {
		s.tokens = RandomTokenIssuer{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Cache exposes the overlay for maintenance tasks such as tombstone pruning.
func (s *Store) Cache() *Cache {
	return s.cache
}

// Repository returns the durable store.
func (s *Store) Repository() Repository {
	return s.repo
}

// Create issues a new session, writes it durably, then caches it. The
// returned session carries the plaintext token; no other copy does.
//
// A failed durable write returns ErrRepository and leaves nothing cached.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.Join(ErrInvalidSession, errors.New("user id required"))
	}
	if p.TTL < 0 {
		return nil, errors.Join(ErrInvalidSession, errors.New("ttl must be positive"))
	}

	ttl := p.TTL
	if ttl == 0 {
		ttl = s.cfg.TTL
	}

	now := s.now()
	sess := &Session{
		ID:          s.ids.NewSessionID(),
		UserID:      p.UserID,
		Role:        p.Role,
		Permissions: p.Permissions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Metadata:    p.Metadata,
		Revision:    1,
	}
	sess.Metadata.LastActive = now
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		return nil, errors.Join(ErrInvalidSession, errors.New("expiry must follow creation"))
	}

	token, err := s.tokens.Issue(sess.ID, sess.UserID, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	sess.TokenHash = HashToken(token)

	rctx, cancel := s.repoContext(ctx)
	err = s.repo.Put(rctx, sess)
	cancel()
	if err != nil {
		s.rollbackCreate(ctx, sess.ID)
		return nil, repositoryError(err)
	}

	s.cache.Put(sess, now)

	out := sess.Clone()
	out.Token = token
	return out, nil
}

// A timed-out Put may still have landed; remove any partial record so the
// cache and repository agree that the session does not exist.
func (s *Store) rollbackCreate(ctx context.Context, id string) {
	s.cache.Delete(id)

	rctx, cancel := s.repoContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.repo.Delete(rctx, id); err != nil {
		s.logger.Warn("session: rollback delete failed", "session_id", id, "error", err)
	}
}

// Validate returns the live session for id or ErrNotFound. Expired sessions
// are destroyed on the way out. Only repository failures surface as
// ErrRepository.
func (s *Store) Validate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	now := s.now()
	if s.cache.IsTombstoned(id, now) {
		return nil, ErrNotFound
	}

	sess, loadedAt, ok := s.cache.Get(id)
	if !ok || now.Sub(loadedAt) >= s.cfg.CacheRevalidateAfter {
		var err error
		sess, err = s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		now = s.now()
	}

	if sess.ExpiredAt(now) {
		s.expire(ctx, id)
		return nil, ErrExpired
	}

	return sess.Clone(), nil
}

// load reads id through the single-flight group. The shared read is detached
// from the first caller's cancellation and bounded by RepositoryTimeout; a
// caller whose ctx ends stops waiting without affecting the other waiters.
func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	ch := s.group.DoChan(id, func() (interface{}, error) {
		rctx, cancel := s.repoContext(context.WithoutCancel(ctx))
		defer cancel()

		sess, err := s.repo.Get(rctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.cache.Delete(id)
				return nil, ErrNotFound
			}
			return nil, repositoryError(err)
		}
		sess.ID = id

		merged, ok := s.cache.Merge(sess, s.now())
		if !ok {
			return nil, ErrNotFound
		}
		return merged, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) expire(ctx context.Context, id string) {
	if err := s.Destroy(ctx, id); err != nil {
		s.logger.Warn("session: lazy expiry delete failed", "session_id", id, "error", err)
	}
}

// Touch records activity on a cached session. The cache is updated in place
// of the caller; persistence happens asynchronously and failures are only
// logged. After Close only the cache is updated.
func (s *Store) Touch(ctx context.Context, id string) error {
	updated, ok := s.cache.Touch(id, s.now())
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		rctx, cancel := s.repoContext(context.WithoutCancel(ctx))
		defer cancel()

		err := s.repo.Touch(rctx, id, updated.Metadata.LastActive, updated.Revision)
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("session: touch persist failed", "session_id", id, "error", err)
		}
	}()

	return nil
}

// Destroy removes id from the cache and the repository. It is idempotent, and
// once it returns the id can never validate again in this process.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	now := s.now()
	until := now.Add(s.cfg.TombstoneTTL)
	if cur, _, ok := s.cache.Get(id); ok && cur.ExpiresAt.After(until) {
		until = cur.ExpiresAt
	}
	s.cache.Tombstone(id, until)
	s.group.Forget(id)

	rctx, cancel := s.repoContext(ctx)
	defer cancel()
	if err := s.repo.Delete(rctx, id); err != nil {
		return repositoryError(err)
	}
	return nil
}

// DestroyAllForUser destroys every session of userID and returns the ids it
// removed. The repository must implement [UserIndex].
func (s *Store) DestroyAllForUser(ctx context.Context, userID string) ([]string, error) {
	index, ok := s.repo.(UserIndex)
	if !ok {
		return nil, errors.New("session: repository does not index sessions by user")
	}

	rctx, cancel := s.repoContext(ctx)
	ids, err := index.SessionIDsForUser(rctx, userID)
	cancel()
	if err != nil {
		return nil, repositoryError(err)
	}

	destroyed := make([]string, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := s.Destroy(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		destroyed = append(destroyed, id)
	}
	return destroyed, errors.Join(errs...)
}

// Wait blocks until pending asynchronous touches finish. It must not race
// with Touch; use Close when shutting down.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close stops persisting touches and waits for the ones in flight.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Store) repoContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.RepositoryTimeout)
}
