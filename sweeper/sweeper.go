package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/session"
)

const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 500
	DefaultTimeout   = 30 * time.Second
)

// Store is the subset of [*session.Store] the sweeper needs.
type Store interface {
	Repository() session.Repository
	Cache() *session.Cache
	Destroy(ctx context.Context, id string) error
}

// Emitter receives audit events. [*audit.Dispatcher] satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event audit.Event)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	// Timeout bounds the repository listing of one pass.
	Timeout time.Duration
	Clock   func() time.Time
	Logger  *slog.Logger
	Audit   Emitter
	// OnSweep, when set, receives the result of every pass.
	OnSweep func(Result)
}

// Result summarises one sweep pass.
type Result struct {
	Destroyed        int
	Failed           int
	TombstonesPruned int
	Truncated        bool
	// Err is set when listing stopped early. It wraps [session.ErrRepository].
	Err error
}

type Sweeper struct {
	store     Store
	interval  time.Duration
	batchSize int
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
	audit     Emitter
	onSweep   func(Result)
}

func New(store Store, cfg Config) *Sweeper {
	s := &Sweeper{
		store:     store,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		now:       cfg.Clock,
		logger:    cfg.Logger,
		audit:     cfg.Audit,
		onSweep:   cfg.OnSweep,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce destroys up to one batch of sessions that expired before now and
// prunes lapsed cache tombstones. A failure on one session is logged and the
// pass moves on. Listing is bounded by the configured timeout.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	var res Result
	now := s.now()

	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for sess, err := range s.store.Repository().FindExpired(listCtx, now) {
		if ctx.Err() != nil {
			break
		}
		if listCtx.Err() != nil {
			res.Err = listingError(listCtx.Err())
			break
		}
		if res.Destroyed+res.Failed >= s.batchSize {
			res.Truncated = true
			break
		}

		if err != nil {
			// A nil session means the listing itself failed.
			if sess == nil {
				res.Failed++
				res.Err = listingError(err)
				break
			}
			if !errors.Is(err, session.ErrCorrupt) {
				res.Failed++
				s.logger.Warn("sweeper: skipping session", "session_id", sess.ID, "error", err)
				continue
			}
		}

		if derr := s.store.Destroy(ctx, sess.ID); derr != nil {
			res.Failed++
			s.logger.Warn("sweeper: destroy failed", "session_id", sess.ID, "error", derr)
			continue
		}
		res.Destroyed++
		s.emitExpired(ctx, sess, err)
	}
	if res.Err == nil && ctx.Err() == nil && listCtx.Err() != nil {
		res.Err = listingError(listCtx.Err())
	}
	if res.Err != nil {
		s.logger.Warn("sweeper: listing expired sessions failed", "error", res.Err)
	}

	res.TombstonesPruned = s.store.Cache().PruneTombstones(now)

	if res.Destroyed > 0 || res.Failed > 0 {
		s.logger.Info("sweeper: pass complete",
			"destroyed", res.Destroyed, "failed", res.Failed, "tombstones_pruned", res.TombstonesPruned)
	}
	if s.onSweep != nil {
		s.onSweep(res)
	}
	return res
}

func listingError(err error) error {
	if errors.Is(err, session.ErrRepository) {
		return err
	}
	return fmt.Errorf("%w: listing expired sessions: %w", session.ErrRepository, err)
}

func (s *Sweeper) emitExpired(ctx context.Context, sess *session.Session, cause error) {
	if s.audit == nil {
		return
	}
	ev := audit.Event{
		Type:      audit.TypeSessionExpired,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		IP:        sess.Metadata.IP,
		Allowed:   true,
	}
	if cause != nil {
		ev.Error = "corrupt"
	}
	if !sess.ExpiresAt.IsZero() {
		ev.Detail = map[string]string{"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339)}
	}
	s.audit.Emit(ctx, ev)
}
